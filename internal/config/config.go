// Package config provides the configuration schema, loader, and file watcher
// for the Earshot voice interaction core.
package config

// LogLevel controls log verbosity for the Earshot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VADBackend selects the voice activity detection implementation.
type VADBackend string

const (
	// VADSilero uses the Silero neural VAD via ONNX runtime.
	VADSilero VADBackend = "silero"

	// VADEnergy uses the pure-Go RMS hysteresis detector.
	VADEnergy VADBackend = "energy"
)

// IsValid reports whether v is a recognised VAD backend.
func (v VADBackend) IsValid() bool {
	return v == VADSilero || v == VADEnergy
}

// Config is the root configuration structure for Earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Wake         WakeConfig         `yaml:"wake"`
	VAD          VADConfig          `yaml:"vad"`
	Energy       EnergyConfig       `yaml:"energy"`
	Speaker      SpeakerConfig      `yaml:"speaker"`
	Segmenter    SegmenterConfig    `yaml:"segmenter"`
	Conversation ConversationConfig `yaml:"conversation"`
	Providers    ProvidersConfig    `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the Earshot process.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics endpoint listens on
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture format and output voice.
type AudioConfig struct {
	// SampleRate is the capture sample rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the capture channel count. Default 1 (mono).
	Channels int `yaml:"channels"`

	// FrameMs is the frame interval in milliseconds. Default 20.
	FrameMs int `yaml:"frame_ms"`

	// Voice configures the TTS voice used for spoken responses.
	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig specifies the TTS voice parameters for responses.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 1.0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// WakeConfig tunes wake word detection.
type WakeConfig struct {
	// Threshold is the minimum activation score in [0, 1] to treat a frame as
	// containing the wake word. Default 0.5.
	Threshold float64 `yaml:"threshold"`

	// Phrase is the textual wake phrase, used for transcript-level
	// confirmation (e.g., "hey earshot").
	Phrase string `yaml:"phrase"`

	// Model selects a named model on the wake scoring sidecar. Empty uses the
	// sidecar's default.
	Model string `yaml:"model"`
}

// VADConfig tunes voice activity detection.
type VADConfig struct {
	// Backend selects the VAD implementation.
	Backend VADBackend `yaml:"backend"`

	// Threshold is the minimum speech probability in [0, 1] for a frame to
	// count as speech in conversation mode. Default 0.5.
	Threshold float64 `yaml:"threshold"`

	// ModelPath is the path to the Silero ONNX model. Required for the
	// silero backend, ignored otherwise.
	ModelPath string `yaml:"model_path"`
}

// EnergyConfig tunes the RMS energy gate applied after VAD.
type EnergyConfig struct {
	// MinRMS is the fixed minimum frame energy for speech. Frames below it
	// are rejected in conversation mode. Default 250.
	MinRMS float64 `yaml:"min_rms"`

	// Adaptive enables the ambient noise floor tracker. When on, the gate is
	// AmbientMultiple times the tracked floor instead of MinRMS.
	Adaptive bool `yaml:"adaptive"`

	// AmbientMultiple is the floor multiplier used in adaptive mode. Default 3.
	AmbientMultiple float64 `yaml:"ambient_multiple"`
}

// SpeakerConfig tunes the speaker continuity filter.
type SpeakerConfig struct {
	// Enabled turns on speaker continuity checking: once a conversation is
	// bound to a speaker, utterances from other voices are ignored.
	Enabled bool `yaml:"enabled"`

	// Threshold is the minimum identification confidence in [0, 1] for an
	// utterance to count as the active speaker. Default 0.7.
	Threshold float64 `yaml:"threshold"`
}

// SegmenterConfig tunes utterance endpointing.
type SegmenterConfig struct {
	// EndpointSilenceMs is how much trailing silence ends an utterance.
	// Default 700.
	EndpointSilenceMs int `yaml:"endpoint_silence_ms"`

	// MinSpeechMs is the minimum accumulated speech for an utterance to be
	// considered real rather than a blip. Default 300.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// MaxUtteranceMs caps utterance length; recording is force-finalized at
	// this point. Default 30000.
	MaxUtteranceMs int `yaml:"max_utterance_ms"`
}

// ConversationConfig tunes follow-up conversation mode.
type ConversationConfig struct {
	// Enabled turns on conversation mode: after a response the system keeps
	// listening for follow-ups without requiring the wake word again.
	Enabled bool `yaml:"enabled"`

	// TimeoutMs is how long to wait for a follow-up before returning to
	// wake-word listening. Default 8000.
	TimeoutMs int `yaml:"timeout_ms"`

	// MaxTurns caps follow-up turns per wake; 0 means unlimited.
	MaxTurns int `yaml:"max_turns"`

	// GoodbyePhrases lists phrases that end the conversation immediately
	// (e.g., "that's all", "thanks, goodbye"). Matching is fuzzy.
	GoodbyePhrases []string `yaml:"goodbye_phrases"`

	// IntentThreshold is the minimum dispatcher intent confidence in [0, 1]
	// for the conversation to continue. 0 disables intent gating.
	IntentThreshold float64 `yaml:"intent_threshold"`

	// AllowedIntents lists intent categories that keep the conversation open.
	// Empty means all categories are allowed.
	AllowedIntents []string `yaml:"allowed_intents"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline capability.
type ProvidersConfig struct {
	STT      ProviderEntry `yaml:"stt"`
	BatchSTT ProviderEntry `yaml:"batch_stt"`
	TTS      ProviderEntry `yaml:"tts"`
	LLM      ProviderEntry `yaml:"llm"`
	Wake     ProviderEntry `yaml:"wake"`
	Speaker  ProviderEntry `yaml:"speaker"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "deepgram", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-2",
	// "whisper-1", "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// Default numeric values applied by [ApplyDefaults].
const (
	DefaultSampleRate        = 16000
	DefaultChannels          = 1
	DefaultFrameMs           = 20
	DefaultWakeThreshold     = 0.5
	DefaultVADThreshold      = 0.5
	DefaultMinRMS            = 250
	DefaultAmbientMultiple   = 3
	DefaultSpeakerThreshold  = 0.7
	DefaultEndpointSilenceMs = 700
	DefaultMinSpeechMs       = 300
	DefaultMaxUtteranceMs    = 30000
	DefaultTimeoutMs         = 8000
)

// ApplyDefaults fills zero-valued tuning fields with their defaults.
// Called by the loader after decoding and before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = DefaultFrameMs
	}
	if cfg.Wake.Threshold == 0 {
		cfg.Wake.Threshold = DefaultWakeThreshold
	}
	if cfg.VAD.Backend == "" {
		cfg.VAD.Backend = VADEnergy
	}
	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = DefaultVADThreshold
	}
	if cfg.Energy.MinRMS == 0 {
		cfg.Energy.MinRMS = DefaultMinRMS
	}
	if cfg.Energy.AmbientMultiple == 0 {
		cfg.Energy.AmbientMultiple = DefaultAmbientMultiple
	}
	if cfg.Speaker.Threshold == 0 {
		cfg.Speaker.Threshold = DefaultSpeakerThreshold
	}
	if cfg.Segmenter.EndpointSilenceMs == 0 {
		cfg.Segmenter.EndpointSilenceMs = DefaultEndpointSilenceMs
	}
	if cfg.Segmenter.MinSpeechMs == 0 {
		cfg.Segmenter.MinSpeechMs = DefaultMinSpeechMs
	}
	if cfg.Segmenter.MaxUtteranceMs == 0 {
		cfg.Segmenter.MaxUtteranceMs = DefaultMaxUtteranceMs
	}
	if cfg.Conversation.TimeoutMs == 0 {
		cfg.Conversation.TimeoutMs = DefaultTimeoutMs
	}
}
