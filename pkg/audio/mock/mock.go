// Package mock provides test doubles for the audio package interfaces.
//
// Use Source to feed scripted frames into the pipeline and Sink to inspect
// what the playback controller wrote.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// Source is a mock implementation of audio.Source backed by a buffered
// channel. Tests push frames with Push and close the stream with Close.
type Source struct {
	// StartErr, if non-nil, is returned from Start.
	StartErr error

	frames chan audio.Frame
	once   sync.Once
}

// NewSource creates a Source with the given channel buffer depth.
func NewSource(buffer int) *Source {
	return &Source{frames: make(chan audio.Frame, buffer)}
}

// Start returns StartErr. No goroutine is started; tests drive the stream
// directly via Push.
func (s *Source) Start(_ context.Context) error { return s.StartErr }

// Frames returns the scripted frame channel.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Push delivers a frame to the consumer. Blocks if the buffer is full.
func (s *Source) Push(f audio.Frame) { s.frames <- f }

// Close closes the frame channel. Safe to call more than once.
func (s *Source) Close() error {
	s.once.Do(func() { close(s.frames) })
	return nil
}

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// Sink is a mock implementation of audio.Sink that records every Write.
type Sink struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned from every Write.
	WriteErr error

	// Writes holds a copy of each PCM chunk passed to Write, in order.
	Writes [][]byte

	closed bool
}

// Write records a copy of pcm and returns WriteErr.
func (s *Sink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock sink: write after close")
	}
	if s.WriteErr != nil {
		return s.WriteErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.Writes = append(s.Writes, cp)
	return nil
}

// Close marks the sink closed. Subsequent Writes fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Written returns the concatenation of all recorded writes.
func (s *Sink) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, w := range s.Writes {
		out = append(out, w...)
	}
	return out
}

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)
