package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// RMS computes the root-mean-square energy of raw 16-bit little-endian PCM.
// The result is in absolute 16-bit sample units (0–32767); 300 corresponds to
// near-silence on most microphones. An odd trailing byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}

// AmbientTracker maintains an exponentially-weighted moving average of the
// background noise floor. The frame processor feeds it every frame that is
// classified as non-speech; the adaptive energy gate is then expressed as a
// multiple of the tracked floor instead of a fixed RMS value.
//
// All methods are safe for concurrent use.
type AmbientTracker struct {
	mu    sync.Mutex
	floor float64
	alpha float64
	seen  bool
}

// NewAmbientTracker creates a tracker with the given smoothing factor.
// alpha is the weight of each new observation in (0, 1]; values around 0.05
// adapt over a few seconds of 20 ms frames. Out-of-range values are clamped.
func NewAmbientTracker(alpha float64) *AmbientTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.05
	}
	return &AmbientTracker{alpha: alpha}
}

// Observe folds a non-speech frame's RMS into the floor estimate.
func (t *AmbientTracker) Observe(rms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seen {
		t.floor = rms
		t.seen = true
		return
	}
	t.floor = t.floor*(1-t.alpha) + rms*t.alpha
}

// Floor returns the current ambient floor estimate, or zero if no frame has
// been observed yet.
func (t *AmbientTracker) Floor() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.floor
}

// Threshold returns the adaptive energy gate: multiple × the tracked floor.
// Before any observation it returns zero, which callers should treat as
// "gate not yet established" and fall back to the static minimum.
func (t *AmbientTracker) Threshold(multiple float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seen {
		return 0
	}
	return t.floor * multiple
}
