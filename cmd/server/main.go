package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/adapters/blob"
	"github.com/parleyhq/parley/internal/adapters/broadcast"
	"github.com/parleyhq/parley/internal/adapters/httpapi"
	"github.com/parleyhq/parley/internal/adapters/store"
	"github.com/parleyhq/parley/internal/adapters/transcribe"
	"github.com/parleyhq/parley/internal/adapters/ws"
	"github.com/parleyhq/parley/internal/app"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	hub := broadcast.NewHub()
	var bcast core.Broadcaster = hub
	if cfg.RedisURL != "" {
		rb, err := broadcast.NewRedisBroadcaster(ctx, cfg.RedisURL, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		go func() {
			if err := rb.Run(ctx); err != nil {
				log.Error().Err(err).Msg("redis loop exited")
			}
		}()
		bcast = rb
		log.Info().Str("module", "main").Msg("redis fan-out enabled")
	}

	signer := blob.NewSigner(cfg.BlobSecret, cfg.BlobBaseURL, cfg.BlobURLTTL)

	var transcriber core.Transcriber = transcribe.Disabled{}
	if cfg.OpenAIAPIKey != "" {
		transcriber, err = transcribe.NewWhisper(cfg.OpenAIAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init transcriber")
		}
	}

	eng := app.NewEngine(st, bcast, signer, transcriber)
	if cfg.TranscribeTimeout > 0 {
		eng.TranscribeTimeout = cfg.TranscribeTimeout
	}

	limiter := ws.NewCommandRateLimiter(cfg.RateLimit, cfg.RateInterval)
	ctl := ws.NewController(eng, limiter, ws.Options{
		SendBuffer:  cfg.SendBuffer,
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
		CommandPool: cfg.CommandPool,
	})

	r := httpapi.SetupRouter(cfg, eng, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("parley server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}

// openStore picks the persistence backend: postgres when DATABASE_URL
// is set, sqlite when a path is configured, in-memory otherwise.
func openStore(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("module", "main").Msg("using postgres store")
		return pg, pg.Close, nil
	case cfg.SQLitePath != "":
		sq, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("module", "main").Str("path", cfg.SQLitePath).Msg("using sqlite store")
		return sq, func() { _ = sq.Close() }, nil
	default:
		log.Info().Str("module", "main").Msg("using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}
}
