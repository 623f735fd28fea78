package pipeline

import (
	"time"

	"github.com/earshot-ai/earshot/pkg/provider/speaker"
)

// Session tracks one conversation window. Created when the pipeline enters
// Conversing, cleared on return to Listening. Owned by the processor
// goroutine.
type Session struct {
	// TurnsSinceWake counts completed turns since the wake word opened the
	// conversation.
	TurnsSinceWake int

	// LastActivity is the time of the most recent completed turn.
	LastActivity time.Time

	// Speaker is the identity bound to the conversation, taken from the
	// first turn's verification result. Nil when verification is disabled
	// or the result never arrived.
	Speaker *speaker.Match
}
