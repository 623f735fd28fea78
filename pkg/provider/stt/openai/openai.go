// Package openai provides a batch STT provider backed by the OpenAI audio
// transcription API (Whisper). It implements the stt.BatchProvider interface
// and serves as the fallback path when a streaming provider is unavailable:
// the recognizer hands it the complete raw PCM utterance buffer in one shot.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/earshot-ai/earshot/pkg/provider/stt"
)

// DefaultModel is the default transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Option is a functional option for configuring the Provider.
type Option func(*config)

// config holds optional construction parameters.
type config struct {
	baseURL string
	model   oai.AudioModel
	timeout time.Duration
}

// WithBaseURL overrides the default OpenAI API base URL, e.g. to point at a
// local whisper-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides the transcription model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = oai.AudioModel(model)
	}
}

// WithTimeout sets a per-request timeout. Default: 30 s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements stt.BatchProvider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

// Compile-time interface assertion.
var _ stt.BatchProvider = (*Provider)(nil)

// New creates a Provider. apiKey must be non-empty unless a custom base URL
// pointing at an unauthenticated local server is supplied.
func New(apiKey string, opts ...Option) (*Provider, error) {
	c := config{
		model:   DefaultModel,
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(&c)
	}
	if apiKey == "" && c.baseURL == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(c.timeout),
	}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  c.model,
	}, nil
}

// Transcribe wraps the raw PCM buffer in a WAV container and submits it for
// one-shot transcription. The PCM bytes themselves are copied verbatim into
// the container — no resampling or re-encoding takes place.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.StreamConfig) (stt.Transcript, error) {
	if len(pcm) == 0 {
		return stt.Transcript{}, errors.New("openai: empty audio buffer")
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	wav := encodeWAV(pcm, sr, ch)

	params := oai.AudioTranscriptionNewParams{
		Model: p.model,
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
	}
	if cfg.Language != "" {
		params.Language = oai.String(cfg.Language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai: transcribe: %w", err)
	}

	return stt.Transcript{
		Text:     resp.Text,
		IsFinal:  true,
		Duration: pcmDuration(len(pcm), sr, ch),
	}, nil
}

// pcmDuration converts a 16-bit PCM byte count to play time.
func pcmDuration(numBytes, sampleRate, channels int) time.Duration {
	samples := numBytes / 2 / channels
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
