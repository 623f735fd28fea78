package pipeline

import (
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/speaker"
)

// Reject reasons for the Conversing filter stack.
const (
	rejectVAD     = "vad"
	rejectEnergy  = "energy"
	rejectSpeaker = "speaker"
)

// filterStack gates conversation-mode re-engagement. Layers are checked in
// order and short-circuit on the first reject: VAD probability, then RMS
// energy against a fixed minimum or an adaptive multiple of the ambient
// floor.
//
// Speaker continuity is the third layer but cannot be judged from a single
// frame; it is enforced per utterance via continuityReject once the
// verification result is in.
type filterStack struct {
	vadThreshold    float64
	minRMS          float64
	adaptive        bool
	ambientMultiple float64
	ambient         *audio.AmbientTracker
}

// accept returns whether a frame qualifies as re-engaging speech, and the
// layer that rejected it otherwise.
func (f *filterStack) accept(prob, rms float64) (bool, string) {
	if prob < f.vadThreshold {
		return false, rejectVAD
	}
	gate := f.minRMS
	if f.adaptive {
		if a := f.ambient.Threshold(f.ambientMultiple); a > gate {
			gate = a
		}
	}
	if rms < gate {
		return false, rejectEnergy
	}
	return true, ""
}

// continuityReject reports whether an utterance from an ongoing conversation
// should be discarded because it does not match the bound speaker. bound is
// the session's first-turn match, got the current utterance's result.
//
// Missing data fails open: verification is best effort and its absence must
// never stall a turn. A scoring error upstream surfaces as a zero-value got
// and rejects.
func continuityReject(threshold float64, bound, got *speaker.Match) bool {
	if bound == nil || got == nil {
		return false
	}
	if len(bound.Embedding) > 0 && len(got.Embedding) > 0 {
		return speaker.Cosine(bound.Embedding, got.Embedding) < threshold
	}
	if bound.SpeakerID != "" && got.SpeakerID != "" {
		return bound.SpeakerID != got.SpeakerID
	}
	return false
}
