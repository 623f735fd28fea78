package pipeline

import (
	"testing"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/speaker"
)

func TestFilterStack_Accept(t *testing.T) {
	tests := []struct {
		name       string
		prob       float64
		rms        float64
		wantOK     bool
		wantReason string
	}{
		{"both pass", 0.9, 500, true, ""},
		{"vad below threshold", 0.3, 500, false, rejectVAD},
		{"vad at threshold reaches energy layer", 0.5, 100, false, rejectEnergy},
		{"energy below minimum", 0.9, 100, false, rejectEnergy},
		{"vad checked before energy", 0.1, 100, false, rejectVAD},
	}

	f := &filterStack{
		vadThreshold: 0.5,
		minRMS:       300,
		ambient:      audio.NewAmbientTracker(0.5),
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := f.accept(tt.prob, tt.rms)
			if ok != tt.wantOK || reason != tt.wantReason {
				t.Errorf("accept(%v, %v) = (%v, %q), want (%v, %q)",
					tt.prob, tt.rms, ok, reason, tt.wantOK, tt.wantReason)
			}
		})
	}
}

func TestFilterStack_AdaptiveGate(t *testing.T) {
	ambient := audio.NewAmbientTracker(1)
	ambient.Observe(200)

	f := &filterStack{
		vadThreshold:    0.5,
		minRMS:          100,
		adaptive:        true,
		ambientMultiple: 3,
		ambient:         ambient,
	}

	// Gate is max(100, 3*200) = 600.
	if ok, reason := f.accept(0.9, 500); ok {
		t.Error("expected reject below adaptive gate")
	} else if reason != rejectEnergy {
		t.Errorf("reason = %q, want %q", reason, rejectEnergy)
	}
	if ok, _ := f.accept(0.9, 700); !ok {
		t.Error("expected accept above adaptive gate")
	}
}

func TestFilterStack_AdaptiveFallsBackBeforeObservation(t *testing.T) {
	f := &filterStack{
		vadThreshold:    0.5,
		minRMS:          300,
		adaptive:        true,
		ambientMultiple: 3,
		ambient:         audio.NewAmbientTracker(0.5),
	}

	// No ambient observations yet: the static minimum applies.
	if ok, _ := f.accept(0.9, 400); !ok {
		t.Error("expected accept against static minimum")
	}
	if ok, _ := f.accept(0.9, 200); ok {
		t.Error("expected reject against static minimum")
	}
}

func TestContinuityReject(t *testing.T) {
	up := &speaker.Match{SpeakerID: "alice", Embedding: []float32{1, 0}}
	same := &speaker.Match{SpeakerID: "alice", Embedding: []float32{0.9, 0.1}}
	other := &speaker.Match{SpeakerID: "bob", Embedding: []float32{0, 1}}

	tests := []struct {
		name  string
		bound *speaker.Match
		got   *speaker.Match
		want  bool
	}{
		{"no bound speaker", nil, other, false},
		{"no result", up, nil, false},
		{"matching embedding", up, same, false},
		{"orthogonal embedding", up, other, true},
		{"id match no embeddings", &speaker.Match{SpeakerID: "alice"}, &speaker.Match{SpeakerID: "alice"}, false},
		{"id mismatch no embeddings", &speaker.Match{SpeakerID: "alice"}, &speaker.Match{SpeakerID: "bob"}, true},
		{"empty ids", &speaker.Match{}, &speaker.Match{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := continuityReject(0.5, tt.bound, tt.got); got != tt.want {
				t.Errorf("continuityReject = %v, want %v", got, tt.want)
			}
		})
	}
}
