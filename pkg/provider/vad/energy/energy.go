// Package energy provides a pure-Go VAD engine based on RMS energy with
// hysteresis. It has no model file and no cgo dependency, which makes it the
// fallback backend for platforms where the Silero ONNX runtime is
// unavailable, and the default backend in tests.
//
// Hysteresis avoids flickering between speech and silence: a few consecutive
// loud frames are required to enter the speech state and a longer run of
// quiet frames to leave it.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
)

const (
	// defaultSpeechRMS is the RMS level (16-bit sample units) at which a
	// frame counts towards entering the speech state.
	defaultSpeechRMS = 500.0

	// defaultSilenceRMS is the RMS level below which a frame counts towards
	// leaving the speech state. Must be below defaultSpeechRMS.
	defaultSilenceRMS = 250.0

	// defaultSpeechFrames is the consecutive loud-frame count required to
	// enter speech (~60 ms at 20 ms frames).
	defaultSpeechFrames = 3

	// defaultSilenceFrames is the consecutive quiet-frame count required to
	// leave speech (~400 ms at 20 ms frames).
	defaultSilenceFrames = 20
)

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithThresholds overrides the RMS levels for entering and leaving speech.
func WithThresholds(speechRMS, silenceRMS float64) Option {
	return func(e *Engine) {
		e.speechRMS = speechRMS
		e.silenceRMS = silenceRMS
	}
}

// WithHysteresis overrides the consecutive frame counts required to enter and
// leave the speech state.
func WithHysteresis(speechFrames, silenceFrames int) Option {
	return func(e *Engine) {
		e.speechFrames = speechFrames
		e.silenceFrames = silenceFrames
	}
}

// Engine implements vad.Engine with an RMS hysteresis detector.
type Engine struct {
	speechRMS     float64
	silenceRMS    float64
	speechFrames  int
	silenceFrames int
}

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// New creates an energy VAD engine with defaults tuned for 16 kHz 20 ms frames.
func New(opts ...Option) *Engine {
	e := &Engine{
		speechRMS:     defaultSpeechRMS,
		silenceRMS:    defaultSilenceRMS,
		speechFrames:  defaultSpeechFrames,
		silenceFrames: defaultSilenceFrames,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession creates an independent hysteresis session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate %d is invalid", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: frame size %d ms is invalid", cfg.FrameSizeMs)
	}
	return &session{
		engine:   e,
		frameLen: cfg.SampleRate * cfg.FrameSizeMs / 1000,
	}, nil
}

// session holds the per-stream hysteresis state.
type session struct {
	mu       sync.Mutex
	engine   *Engine
	frameLen int

	inSpeech     bool
	speechCount  int
	silenceCount int
	closed       bool
}

// ProcessFrame classifies one frame. The probability is derived from the RMS
// level relative to the speech threshold, saturating at 1.0, so callers can
// still threshold it like a model probability.
func (s *session) ProcessFrame(pcm []byte) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Result{}, errors.New("energy: session is closed")
	}
	if len(pcm)/2 != s.frameLen {
		return vad.Result{}, fmt.Errorf("energy: frame has %d samples, want %d", len(pcm)/2, s.frameLen)
	}

	level := audio.RMS(pcm)
	e := s.engine

	if s.inSpeech {
		if level < e.silenceRMS {
			s.silenceCount++
			s.speechCount = 0
			if s.silenceCount >= e.silenceFrames {
				s.inSpeech = false
				s.silenceCount = 0
			}
		} else {
			s.silenceCount = 0
		}
	} else {
		if level >= e.speechRMS {
			s.speechCount++
			s.silenceCount = 0
			if s.speechCount >= e.speechFrames {
				s.inSpeech = true
				s.speechCount = 0
			}
		} else {
			s.speechCount = 0
		}
	}

	prob := level / e.speechRMS
	if prob > 1 {
		prob = 1
	}
	return vad.Result{Probability: prob, Speech: s.inSpeech}, nil
}

// Reset clears the hysteresis state.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.speechCount = 0
	s.silenceCount = 0
}

// Close marks the session closed. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
