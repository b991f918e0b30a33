package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/core"
)

const channel = "parley:broadcast"

type envelope struct {
	Address string          `json:"address"`
	Frame   json.RawMessage `json:"frame"`
}

// RedisBroadcaster relays group publishes through a Redis channel so
// every node delivers them to its local subscribers. Subscriptions stay
// local; only published frames cross the wire.
type RedisBroadcaster struct {
	local  *Hub
	client *redis.Client
}

func NewRedisBroadcaster(ctx context.Context, redisURL string, local *Hub) (*RedisBroadcaster, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBroadcaster{local: local, client: client}, nil
}

func (b *RedisBroadcaster) Subscribe(key core.GroupKey, conn core.SignalConnection) {
	b.local.Subscribe(key, conn)
}

func (b *RedisBroadcaster) Unsubscribe(key core.GroupKey, conn core.SignalConnection) {
	b.local.Unsubscribe(key, conn)
}

// Publish pushes the frame to Redis only; local delivery happens when
// the loopback message arrives in Run, so every node behaves the same.
func (b *RedisBroadcaster) Publish(key core.GroupKey, event any) {
	frame, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "broadcast.redis").Msg("marshal event")
		return
	}
	payload, err := json.Marshal(envelope{Address: key.Address(), Frame: frame})
	if err != nil {
		log.Error().Err(err).Str("module", "broadcast.redis").Msg("marshal envelope")
		return
	}
	if err := b.client.Publish(context.Background(), channel, payload).Err(); err != nil {
		log.Error().Err(err).Str("module", "broadcast.redis").Msg("publish")
	}
}

// Run consumes the broadcast channel until the context is canceled.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, channel)
	defer sub.Close()

	log.Info().Str("module", "broadcast.redis").Msg("relay started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Error().Err(err).Str("module", "broadcast.redis").Msg("bad envelope")
				continue
			}
			b.local.DeliverRaw(env.Address, env.Frame)
		}
	}
}

func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}
