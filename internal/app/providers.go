package app

import (
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/earshot-ai/earshot/internal/config"
	"github.com/earshot-ai/earshot/internal/resilience"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/audio/portaudio"
	"github.com/earshot-ai/earshot/pkg/provider/llm"
	"github.com/earshot-ai/earshot/pkg/provider/llm/anyllm"
	"github.com/earshot-ai/earshot/pkg/provider/speaker"
	"github.com/earshot-ai/earshot/pkg/provider/speaker/httpid"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/stt/deepgram"
	openaistt "github.com/earshot-ai/earshot/pkg/provider/stt/openai"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
	"github.com/earshot-ai/earshot/pkg/provider/tts/elevenlabs"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
	vadenergy "github.com/earshot-ai/earshot/pkg/provider/vad/energy"
	"github.com/earshot-ai/earshot/pkg/provider/vad/silero"
	"github.com/earshot-ai/earshot/pkg/provider/wake"
	"github.com/earshot-ai/earshot/pkg/provider/wake/openwake"
)

// Providers holds one implementation per pipeline capability. Source, Sink,
// Wake, VAD, STT, TTS, and LLM are required; BatchSTT and Speaker are
// optional and may be nil.
type Providers struct {
	Source   audio.Source
	Sink     audio.Sink
	Wake     wake.Detector
	VAD      vad.Engine
	STT      stt.StreamProvider
	BatchSTT stt.BatchProvider
	TTS      tts.Provider
	LLM      llm.Provider
	Speaker  speaker.Verifier
}

// BuildProviders constructs every provider slot from config. A missing
// required credential or an unknown provider name is a construction error;
// the process should refuse to start rather than limp along without a
// capability.
func BuildProviders(cfg *config.Config) (*Providers, error) {
	p := &Providers{}

	src, err := portaudio.NewCaptureSource(portaudio.CaptureConfig{
		SampleRate: cfg.Audio.SampleRate,
		FrameMs:    cfg.Audio.FrameMs,
	})
	if err != nil {
		return nil, fmt.Errorf("capture device: %w", err)
	}
	p.Source = src

	sink, err := portaudio.NewPlaybackSink(cfg.Audio.SampleRate, cfg.Audio.FrameMs)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("playback device: %w", err)
	}
	p.Sink = sink

	if p.Wake, err = buildWake(cfg); err != nil {
		src.Close()
		sink.Close()
		return nil, err
	}
	if p.VAD, err = buildVAD(cfg); err != nil {
		src.Close()
		sink.Close()
		return nil, err
	}
	stream, err := buildSTT(cfg.Providers.STT)
	if err != nil {
		src.Close()
		sink.Close()
		return nil, err
	}
	p.STT = resilience.NewSTTFallback(stream, entryName(cfg.Providers.STT, "deepgram"), resilience.FallbackConfig{})

	batch, err := buildBatchSTT(cfg.Providers.BatchSTT)
	if err != nil {
		src.Close()
		sink.Close()
		return nil, err
	}
	if batch != nil {
		p.BatchSTT = resilience.NewBatchSTTFallback(batch, entryName(cfg.Providers.BatchSTT, "openai"), resilience.FallbackConfig{})
	}

	synth, err := buildTTS(cfg.Providers.TTS)
	if err != nil {
		src.Close()
		sink.Close()
		return nil, err
	}
	p.TTS = resilience.NewTTSFallback(synth, entryName(cfg.Providers.TTS, "elevenlabs"), resilience.FallbackConfig{})
	if p.LLM, err = buildLLM(cfg.Providers.LLM); err != nil {
		src.Close()
		sink.Close()
		return nil, err
	}
	if cfg.Speaker.Enabled {
		if p.Speaker, err = buildSpeaker(cfg.Providers.Speaker); err != nil {
			src.Close()
			sink.Close()
			return nil, err
		}
	}
	return p, nil
}

// entryName labels a provider's circuit breaker with its configured name.
func entryName(entry config.ProviderEntry, fallback string) string {
	if entry.Name != "" {
		return entry.Name
	}
	return fallback
}

func buildWake(cfg *config.Config) (wake.Detector, error) {
	entry := cfg.Providers.Wake
	if entry.BaseURL == "" {
		return nil, fmt.Errorf("providers.wake.base_url is required")
	}
	var opts []openwake.Option
	if entry.Model != "" {
		opts = append(opts, openwake.WithModel(entry.Model))
	} else if cfg.Wake.Model != "" {
		opts = append(opts, openwake.WithModel(cfg.Wake.Model))
	}
	det, err := openwake.New(entry.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("wake detector: %w", err)
	}
	return det, nil
}

func buildVAD(cfg *config.Config) (vad.Engine, error) {
	switch cfg.VAD.Backend {
	case config.VADSilero:
		eng, err := silero.New(cfg.VAD.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("silero vad: %w", err)
		}
		return eng, nil
	case config.VADEnergy:
		return vadenergy.New(), nil
	default:
		return nil, fmt.Errorf("unknown vad backend %q", cfg.VAD.Backend)
	}
}

func buildSTT(entry config.ProviderEntry) (stt.StreamProvider, error) {
	switch entry.Name {
	case "", "deepgram":
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang, ok := entry.Options["language"].(string); ok && lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		p, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("stt provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// buildBatchSTT returns nil when no batch provider is configured; the
// recognizer then has no fallback and degraded utterances are lost.
func buildBatchSTT(entry config.ProviderEntry) (stt.BatchProvider, error) {
	if entry.Name == "" && entry.APIKey == "" {
		return nil, nil
	}
	switch entry.Name {
	case "", "openai":
		var opts []openaistt.Option
		if entry.Model != "" {
			opts = append(opts, openaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openaistt.WithBaseURL(entry.BaseURL))
		}
		p, err := openaistt.New(entry.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("batch stt provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown batch stt provider %q", entry.Name)
	}
}

func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "", "elevenlabs":
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format, ok := entry.Options["output_format"].(string); ok && format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		p, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("tts provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	name := entry.Name
	if name == "" {
		name = "openai"
	}
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	p, err := anyllm.New(name, entry.Model, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	return p, nil
}

func buildSpeaker(entry config.ProviderEntry) (speaker.Verifier, error) {
	if entry.BaseURL == "" {
		return nil, fmt.Errorf("providers.speaker.base_url is required when speaker.enabled")
	}
	v, err := httpid.New(entry.BaseURL, httpid.WithEmbeddings())
	if err != nil {
		return nil, fmt.Errorf("speaker verifier: %w", err)
	}
	return v, nil
}
