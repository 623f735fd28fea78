// Package wake defines the Detector interface for wake-word scoring backends.
//
// A wake-word detector scores a single audio frame against a trigger-phrase
// model. Scoring is stateless per call: the model carries its own internal
// ring buffer across calls but exposes no session handle, so one Detector is
// shared by the whole pipeline. The model is read-only after load and safe
// for concurrent scoring from the worker pool.
package wake

// Detector scores audio frames against a wake-phrase model.
type Detector interface {
	// Score returns the wake-word activation score for one frame of raw
	// little-endian 16-bit PCM, in the range [0.0, 1.0]. The frame processor
	// compares the score against its configured threshold.
	//
	// A failing backend returns an error; callers treat errors as a
	// below-threshold score (fail closed) and must not crash the pipeline.
	Score(pcm []byte) (float64, error)
}
