package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"deepgram"},
	"batch_stt": {"openai"},
	"tts":       {"elevenlabs"},
	"llm":       {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp"},
	"wake":      {"openwake"},
	"speaker":   {"httpid"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameMs <= 0 || cfg.Audio.FrameMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is out of range (0, 100]", cfg.Audio.FrameMs))
	}
	if sf := cfg.Audio.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("audio.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}

	// Classifier thresholds
	if cfg.Wake.Threshold < 0 || cfg.Wake.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wake.threshold %.2f is out of range [0, 1]", cfg.Wake.Threshold))
	}
	if !cfg.VAD.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("vad.backend %q is invalid; valid values: silero, energy", cfg.VAD.Backend))
	}
	if cfg.VAD.Backend == VADSilero && cfg.VAD.ModelPath == "" {
		errs = append(errs, fmt.Errorf("vad.model_path is required when vad.backend is silero"))
	}
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.Energy.MinRMS < 0 {
		errs = append(errs, fmt.Errorf("energy.min_rms %.1f must not be negative", cfg.Energy.MinRMS))
	}
	if cfg.Energy.Adaptive && cfg.Energy.AmbientMultiple <= 1 {
		errs = append(errs, fmt.Errorf("energy.ambient_multiple %.2f must be > 1 in adaptive mode", cfg.Energy.AmbientMultiple))
	}
	if cfg.Speaker.Threshold < 0 || cfg.Speaker.Threshold > 1 {
		errs = append(errs, fmt.Errorf("speaker.threshold %.2f is out of range [0, 1]", cfg.Speaker.Threshold))
	}
	if cfg.Speaker.Enabled && cfg.Providers.Speaker.Name == "" {
		errs = append(errs, fmt.Errorf("speaker.enabled requires providers.speaker to be configured"))
	}

	// Segmenter
	if cfg.Segmenter.EndpointSilenceMs <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.endpoint_silence_ms %d must be positive", cfg.Segmenter.EndpointSilenceMs))
	}
	if cfg.Segmenter.MinSpeechMs < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_speech_ms %d must not be negative", cfg.Segmenter.MinSpeechMs))
	}
	if cfg.Segmenter.MaxUtteranceMs > 0 && cfg.Segmenter.MaxUtteranceMs < cfg.Segmenter.EndpointSilenceMs {
		errs = append(errs, fmt.Errorf("segmenter.max_utterance_ms %d must not be shorter than endpoint_silence_ms %d",
			cfg.Segmenter.MaxUtteranceMs, cfg.Segmenter.EndpointSilenceMs))
	}

	// Conversation
	if cfg.Conversation.Enabled && cfg.Conversation.TimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("conversation.timeout_ms %d must be positive when conversation mode is enabled", cfg.Conversation.TimeoutMs))
	}
	if cfg.Conversation.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_turns %d must not be negative", cfg.Conversation.MaxTurns))
	}
	if it := cfg.Conversation.IntentThreshold; it < 0 || it > 1 {
		errs = append(errs, fmt.Errorf("conversation.intent_threshold %.2f is out of range [0, 1]", it))
	}

	// Provider name validation, warns for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("batch_stt", cfg.Providers.BatchSTT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("wake", cfg.Providers.Wake.Name)
	validateProviderName("speaker", cfg.Providers.Speaker.Name)

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" && cfg.Providers.BatchSTT.Name == "" {
		slog.Warn("no STT provider configured; utterances will not be transcribed")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; responses will be text-only")
	}
	if cfg.Providers.TTS.Name != "" && cfg.Audio.Voice.VoiceID == "" {
		slog.Warn("providers.tts is configured but audio.voice.voice_id is empty")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
