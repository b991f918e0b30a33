package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/parleyhq/parley/internal/core"
)

// Whisper transcribes uploaded audio through the OpenAI transcription
// endpoint. The audio itself is fetched from a signed URL first, so the
// API key is the only credential this adapter holds.
type Whisper struct {
	client openai.Client
	http   *http.Client
}

func NewWhisper(apiKey string) (*Whisper, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("transcribe: api key required")
	}
	return &Whisper{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		http:   &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

var _ core.Transcriber = (*Whisper)(nil)

// Disabled stands in when no API key is configured. Voice messages fail
// with a clear error instead of committing untranscribed.
type Disabled struct{}

func (Disabled) Transcribe(context.Context, string) (string, error) {
	return "", fmt.Errorf("transcribe: no api key configured")
}

var _ core.Transcriber = Disabled{}

func (w *Whisper) Transcribe(ctx context.Context, audioURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("transcribe: build fetch request: %w", err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe: fetch audio: status %d", resp.StatusCode)
	}

	filename := path.Base(strings.SplitN(audioURL, "?", 2)[0])
	result, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(resp.Body, filename, "audio/ogg"),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return result.Text, nil
}
