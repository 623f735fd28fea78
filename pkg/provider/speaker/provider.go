// Package speaker defines the speaker identification capability.
//
// A Verifier maps a chunk of PCM audio to the most likely known speaker,
// yielding an identity plus a confidence score. The pipeline uses it to keep a
// conversation bound to the person who opened it: frames whose dominant voice
// does not match the active speaker are filtered out before recognition.
package speaker

import (
	"context"
	"math"
)

// Match is the result of identifying the dominant voice in an audio chunk.
type Match struct {
	// SpeakerID identifies the matched enrolled speaker. Empty when no
	// enrolled speaker scored above the backend's own floor.
	SpeakerID string
	// Confidence is the backend's similarity score in [0, 1].
	Confidence float64
	// Embedding is the raw voice embedding the backend computed, when the
	// backend exposes it. May be nil.
	Embedding []float32
}

// Verifier identifies the dominant speaker in PCM audio.
//
// Implementations must be safe for concurrent use. Identify is expected to be
// cheap enough to run on buffered utterance audio without stalling the frame
// loop; it is never called per frame.
type Verifier interface {
	// Identify returns the best Match for the given 16-bit mono PCM chunk.
	// An error means the backend could not score the audio at all; callers
	// that gate on speaker continuity should treat errors as a non-match.
	Identify(ctx context.Context, pcm []byte) (Match, error)
}

// Cosine returns the cosine similarity of two embeddings in [-1, 1].
// It returns 0 when the vectors differ in length or either has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
