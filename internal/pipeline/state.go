package pipeline

// State is the processor's pipeline state. Exactly one value is active at a
// time and only the processor goroutine transitions it.
type State int32

const (
	// Listening waits for the wake word. No audio is retained.
	Listening State = iota
	// Recording accumulates the current utterance until end of speech.
	Recording
	// Conversing accepts follow-up speech without the wake word until the
	// conversation timer fires.
	Conversing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	case Recording:
		return "recording"
	case Conversing:
		return "conversing"
	default:
		return "unknown"
	}
}
