// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g., Silero VAD or a
// plain energy detector) and surfaces it as a stateful, per-stream session.
// Each session maintains its own internal state (smoothing history, hysteresis
// counters) so that multiple audio streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// probability, making it suitable for the per-frame hot path that gates
// recording and conversation-mode re-engagement.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines unless the
// implementation explicitly documents otherwise.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Common values: 8000, 16000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Most
	// VAD models operate on fixed frame sizes (10, 20, or 30 ms).
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame is classified as
	// speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64
}

// Result is the detection verdict for a single frame.
type Result struct {
	// Probability is the speech probability score (0.0–1.0).
	Probability float64

	// Speech reports whether Probability met the session's SpeechThreshold.
	Speech bool
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply scripted implementations.
type SessionHandle interface {
	// ProcessFrame analyses one frame of raw little-endian 16-bit PCM at the
	// configured SampleRate and FrameSizeMs. It must not block; it is called
	// from the frame processing loop for every captured frame.
	ProcessFrame(pcm []byte) (Result, error)

	// Reset clears accumulated detection state without closing the session.
	// Called when the stream restarts so stale smoothing state from the
	// previous segment does not bleed into the next.
	Reset()

	// Close releases all session resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the configuration is invalid or the backend cannot allocate
	// resources.
	NewSession(cfg Config) (SessionHandle, error)
}
