package pipeline

import (
	"sync"
	"time"
)

// ConversationTimer is a single-slot cancellable countdown driving the
// Conversing to Listening timeout.
//
// Arm replaces any pending countdown, so at most one fire is ever outstanding.
// The fire callback runs on a timer goroutine and must only enqueue; the
// generation it carries lets the processor discard fires that raced a state
// transition.
type ConversationTimer struct {
	mu   sync.Mutex
	t    *time.Timer
	fire func(generation uint64)
}

// NewConversationTimer creates a timer that calls fire when a countdown
// elapses. fire receives the generation passed to Arm.
func NewConversationTimer(fire func(generation uint64)) *ConversationTimer {
	return &ConversationTimer{fire: fire}
}

// Arm starts a countdown of d tagged with generation, cancelling any pending
// countdown first.
func (ct *ConversationTimer) Arm(d time.Duration, generation uint64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.t != nil {
		ct.t.Stop()
	}
	ct.t = time.AfterFunc(d, func() { ct.fire(generation) })
}

// Cancel stops any pending countdown. Idempotent; a fire already in flight is
// not suppressed here and is discarded by the processor's generation check.
func (ct *ConversationTimer) Cancel() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.t != nil {
		ct.t.Stop()
		ct.t = nil
	}
}
