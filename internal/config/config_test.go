package config_test

import (
	"testing"

	"github.com/earshot-ai/earshot/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO", "loud"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestVADBackend_IsValid(t *testing.T) {
	t.Parallel()
	if !config.VADSilero.IsValid() || !config.VADEnergy.IsValid() {
		t.Error("known backends should be valid")
	}
	for _, b := range []config.VADBackend{"", "webrtc", "SILERO"} {
		if b.IsValid() {
			t.Errorf("%q should be invalid", b)
		}
	}
}

func TestApplyDefaults_DoesNotOverrideSetValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Audio.SampleRate = 48000
	cfg.Wake.Threshold = 0.9
	cfg.VAD.Backend = config.VADSilero
	config.ApplyDefaults(cfg)
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("sample_rate overridden: got %d", cfg.Audio.SampleRate)
	}
	if cfg.Wake.Threshold != 0.9 {
		t.Errorf("wake.threshold overridden: got %v", cfg.Wake.Threshold)
	}
	if cfg.VAD.Backend != config.VADSilero {
		t.Errorf("vad.backend overridden: got %q", cfg.VAD.Backend)
	}
}
