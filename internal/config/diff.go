package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; structural settings
// (audio format, providers) require a restart and are ignored here.
type ConfigDiff struct {
	// LogLevelChanged is true when the server log level changed.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ThresholdsChanged is true when any classifier tuning changed (wake
	// threshold, VAD threshold, energy gate, speaker threshold).
	ThresholdsChanged bool

	// SegmenterChanged is true when any endpointing parameter changed.
	SegmenterChanged bool

	// ConversationChanged is true when conversation mode tuning changed
	// (timeout, max turns, goodbye phrases, intent gating).
	ConversationChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ThresholdsChanged || d.SegmenterChanged || d.ConversationChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Wake.Threshold != new.Wake.Threshold ||
		old.VAD.Threshold != new.VAD.Threshold ||
		old.Energy != new.Energy ||
		old.Speaker != new.Speaker {
		d.ThresholdsChanged = true
	}

	if old.Segmenter != new.Segmenter {
		d.SegmenterChanged = true
	}

	if old.Conversation.Enabled != new.Conversation.Enabled ||
		old.Conversation.TimeoutMs != new.Conversation.TimeoutMs ||
		old.Conversation.MaxTurns != new.Conversation.MaxTurns ||
		old.Conversation.IntentThreshold != new.Conversation.IntentThreshold ||
		!slices.Equal(old.Conversation.GoodbyePhrases, new.Conversation.GoodbyePhrases) ||
		!slices.Equal(old.Conversation.AllowedIntents, new.Conversation.AllowedIntents) {
		d.ConversationChanged = true
	}

	return d
}
