// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to hand the pipeline a scripted Session; configure the session's
// Results queue to drive the filter stack deterministically.
package mock

import (
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned from NewSession. If nil, a fresh default Session
	// is returned.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the configs passed to NewSession.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle. ProcessFrame pops
// results from the Results queue; when the queue is empty it returns Default.
type Session struct {
	mu sync.Mutex

	// Results is consumed front-to-back, one entry per ProcessFrame call.
	Results []vad.Result

	// Default is returned once Results is exhausted.
	Default vad.Result

	// Err, if non-nil, is returned from every ProcessFrame call.
	Err error

	// Frames records a copy of every frame passed to ProcessFrame.
	Frames [][]byte

	// ResetCalls counts Reset invocations.
	ResetCalls int
}

// ProcessFrame records the frame and pops the next scripted result.
func (s *Session) ProcessFrame(pcm []byte) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.Frames = append(s.Frames, cp)
	if s.Err != nil {
		return vad.Result{}, s.Err
	}
	if len(s.Results) > 0 {
		r := s.Results[0]
		s.Results = s.Results[1:]
		return r, nil
	}
	return s.Default, nil
}

// Reset increments ResetCalls.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
}

// Close is a no-op.
func (s *Session) Close() error { return nil }

// Compile-time interface assertion.
var _ vad.SessionHandle = (*Session)(nil)
