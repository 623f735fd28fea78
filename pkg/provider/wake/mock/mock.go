// Package mock provides a test double for the wake package interface.
package mock

import (
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/wake"
)

// Detector is a mock implementation of wake.Detector. Score pops entries
// from the Scores queue; when the queue is empty it returns Default.
type Detector struct {
	mu sync.Mutex

	// Scores is consumed front-to-back, one entry per Score call.
	Scores []float64

	// Default is returned once Scores is exhausted.
	Default float64

	// Err, if non-nil, is returned from every Score call.
	Err error

	// Calls counts Score invocations.
	Calls int
}

// Score records the call and pops the next scripted score.
func (d *Detector) Score(_ []byte) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++
	if d.Err != nil {
		return 0, d.Err
	}
	if len(d.Scores) > 0 {
		s := d.Scores[0]
		d.Scores = d.Scores[1:]
		return s, nil
	}
	return d.Default, nil
}

// Compile-time interface assertion.
var _ wake.Detector = (*Detector)(nil)
