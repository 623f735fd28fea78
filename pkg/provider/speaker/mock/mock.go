// Package mock provides a test double for the speaker package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/speaker"
)

// IdentifyCall records a single invocation of Verifier.Identify.
type IdentifyCall struct {
	// PCM is a copy of the audio passed to Identify.
	PCM []byte
}

// Verifier is a mock implementation of speaker.Verifier.
type Verifier struct {
	mu sync.Mutex

	// Matches is a queue of results popped one per Identify call. When the
	// queue is exhausted, Default is returned instead.
	Matches []speaker.Match

	// Default is returned when Matches is empty.
	Default speaker.Match

	// Err, if non-nil, is returned by every Identify call.
	Err error

	// IdentifyCalls records every call to Identify in order.
	IdentifyCalls []IdentifyCall
}

// Identify records the call and pops the next queued Match.
func (v *Verifier) Identify(_ context.Context, pcm []byte) (speaker.Match, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	v.IdentifyCalls = append(v.IdentifyCalls, IdentifyCall{PCM: cp})
	if v.Err != nil {
		return speaker.Match{}, v.Err
	}
	if len(v.Matches) > 0 {
		m := v.Matches[0]
		v.Matches = v.Matches[1:]
		return m, nil
	}
	return v.Default, nil
}

// CallCount returns the number of Identify calls. Thread-safe.
func (v *Verifier) CallCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.IdentifyCalls)
}

// Ensure Verifier implements speaker.Verifier at compile time.
var _ speaker.Verifier = (*Verifier)(nil)
