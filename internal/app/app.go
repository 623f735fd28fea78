// Package app wires all Earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes them until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithProviders, WithDispatcher, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/earshot-ai/earshot/internal/config"
	"github.com/earshot-ai/earshot/internal/dispatch"
	"github.com/earshot-ai/earshot/internal/dispatch/llmdispatch"
	"github.com/earshot-ai/earshot/internal/health"
	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/internal/phrase"
	"github.com/earshot-ai/earshot/internal/pipeline"
	"github.com/earshot-ai/earshot/internal/playback"
	"github.com/earshot-ai/earshot/internal/recognize"
	"github.com/earshot-ai/earshot/internal/segment"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
)

// App owns all subsystem lifetimes and orchestrates the Earshot voice
// pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics    *observe.Metrics
	recognizer *recognize.Recognizer
	player     *playback.Controller
	dispatcher dispatch.Dispatcher
	processor  *pipeline.Processor
	events     *Broadcaster
	health     *health.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProviders injects a provider set instead of building one from config.
// Injected providers are not closed by Shutdown; their owner closes them.
func WithProviders(p *Providers) Option {
	return func(a *App) { a.providers = p }
}

// WithDispatcher injects a dispatcher instead of creating the LLM-backed one.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(a *App) { a.dispatcher = d }
}

// WithMetrics injects pipeline metrics instead of creating them from the
// global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem; everything not injected is built
// from cfg.
//
// New performs all initialisation synchronously: device and provider
// construction, recognizer and playback setup, and frame processor assembly.
// It does not start any processing; call Run for that.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		events: NewBroadcaster(),
	}
	for _, o := range opts {
		o(a)
	}
	a.closers = append(a.closers, a.events.Close)

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
		a.metrics = m
	}

	// ── 2. Providers ─────────────────────────────────────────────────────
	if a.providers == nil {
		p, err := BuildProviders(cfg)
		if err != nil {
			return nil, fmt.Errorf("app: build providers: %w", err)
		}
		a.providers = p
		a.closers = append(a.closers, p.Sink.Close, p.Source.Close)
	}

	// ── 3. Recognizer ────────────────────────────────────────────────────
	a.recognizer = recognize.New(a.providers.STT, a.providers.BatchSTT, recognize.Config{
		Stream: stt.StreamConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		},
	}, recognize.WithMetrics(a.metrics))

	// ── 4. Dispatcher ────────────────────────────────────────────────────
	if a.dispatcher == nil {
		d, err := llmdispatch.New(a.providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("app: init dispatcher: %w", err)
		}
		a.dispatcher = d
	}

	// ── 5. Playback ──────────────────────────────────────────────────────
	a.player = playback.New(a.providers.TTS, a.providers.Sink, tts.VoiceProfile{
		ID:          cfg.Audio.Voice.VoiceID,
		SpeedFactor: cfg.Audio.Voice.SpeedFactor,
	}, playback.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.player.Close)

	// ── 6. Frame processor ───────────────────────────────────────────────
	popts := []pipeline.Option{pipeline.WithMetrics(a.metrics)}
	if len(cfg.Conversation.GoodbyePhrases) > 0 {
		popts = append(popts, pipeline.WithGoodbyes(phrase.New(cfg.Conversation.GoodbyePhrases)))
	}
	if cfg.Wake.Phrase != "" {
		popts = append(popts, pipeline.WithWakeConfirm(phrase.New([]string{cfg.Wake.Phrase})))
	}
	if cfg.Speaker.Enabled && a.providers.Speaker != nil {
		popts = append(popts, pipeline.WithVerifier(a.providers.Speaker))
	}
	proc, err := pipeline.New(pipelineConfig(cfg), a.providers.Source, a.providers.Wake,
		a.providers.VAD, a.recognizer, a.dispatcher, a.player, popts...)
	if err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.processor = proc

	// ── 7. Health endpoint ───────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		a.health = health.NewServer(cfg.Server.ListenAddr, health.New(
			health.Checker{Name: "stt", Check: a.checkProvider(a.providers.STT != nil, "stt")},
			health.Checker{Name: "tts", Check: a.checkProvider(a.providers.TTS != nil, "tts")},
			health.Checker{Name: "llm", Check: a.checkProvider(a.providers.LLM != nil, "llm")},
		), a.metrics)
	}

	return a, nil
}

// checkProvider makes a readiness check out of a provider slot. The slot is
// fixed at construction, so the check reports a permanently missing
// capability rather than a transient backend failure.
func (a *App) checkProvider(configured bool, name string) func(ctx context.Context) error {
	return func(context.Context) error {
		if !configured {
			return fmt.Errorf("%s provider is not configured", name)
		}
		return nil
	}
}

// Events returns the broadcaster carrying pipeline lifecycle events. Call
// Subscribe on it before Run to observe the session from the start.
func (a *App) Events() *Broadcaster { return a.events }

// State returns the pipeline's current state. Safe from any goroutine.
func (a *App) State() pipeline.State { return a.processor.State() }

// Run executes the pipeline until ctx is cancelled or a subsystem fails.
// It blocks; the caller is expected to follow it with Shutdown.
func (a *App) Run(ctx context.Context) error {
	slog.Info("starting",
		"sample_rate", a.cfg.Audio.SampleRate,
		"frame_ms", a.cfg.Audio.FrameMs,
		"conversation", a.cfg.Conversation.Enabled,
		"speaker_filter", a.cfg.Speaker.Enabled)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.processor.Run(ctx)
	})
	g.Go(func() error {
		a.forwardEvents(ctx)
		return nil
	})
	if a.health != nil {
		g.Go(func() error {
			return a.health.Run(ctx)
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// forwardEvents drains the processor's event stream, logging each event and
// fanning it out to broadcaster subscribers.
func (a *App) forwardEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.processor.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case pipeline.EventError:
				slog.Warn("pipeline event", "type", ev.Type, "message", ev.Message)
			case pipeline.EventPartialTranscript, pipeline.EventResponse:
				slog.Info("pipeline event", "type", ev.Type, "text", ev.Text)
			default:
				slog.Info("pipeline event", "type", ev.Type)
			}
			a.events.Publish(ev)
		}
	}
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// pipelineConfig maps the YAML config onto the frame processor's tuning.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		SampleRate:      cfg.Audio.SampleRate,
		FrameMs:         cfg.Audio.FrameMs,
		WakeThreshold:   cfg.Wake.Threshold,
		VADThreshold:    cfg.VAD.Threshold,
		MinRMS:          cfg.Energy.MinRMS,
		AdaptiveRMS:     cfg.Energy.Adaptive,
		AmbientMultiple: cfg.Energy.AmbientMultiple,

		SpeakerEnabled:   cfg.Speaker.Enabled,
		SpeakerThreshold: cfg.Speaker.Threshold,

		Segment: segment.Config{
			EndpointSilence: time.Duration(cfg.Segmenter.EndpointSilenceMs) * time.Millisecond,
			MinSpeech:       time.Duration(cfg.Segmenter.MinSpeechMs) * time.Millisecond,
			MaxUtterance:    time.Duration(cfg.Segmenter.MaxUtteranceMs) * time.Millisecond,
		},

		ConversationEnabled: cfg.Conversation.Enabled,
		ConversationTimeout: time.Duration(cfg.Conversation.TimeoutMs) * time.Millisecond,
		MaxTurns:            cfg.Conversation.MaxTurns,
		IntentThreshold:     cfg.Conversation.IntentThreshold,
		AllowedIntents:      cfg.Conversation.AllowedIntents,

		SessionID: "session-" + time.Now().UTC().Format("20060102-150405"),
		NodeID:    nodeID(),
	}
}

// nodeID identifies this capture node in dispatch requests.
func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "earshot"
	}
	return host
}
