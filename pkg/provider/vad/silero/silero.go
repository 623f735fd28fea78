// Package silero provides a VAD engine backed by the Silero VAD ONNX model
// via github.com/streamer45/silero-vad-go. It implements the vad.Engine
// interface.
//
// The Silero streaming API operates on fixed 512-sample windows at 16 kHz and
// reports binary speech-start/speech-end events rather than raw per-frame
// probabilities. Sessions therefore accumulate incoming pipeline frames into
// model-sized windows and collapse the verdict to a 0/1 probability, which is
// what the filter stack thresholds against.
package silero

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/earshot-ai/earshot/pkg/provider/vad"
)

// modelWindow is the sample count Silero expects per streaming call at 16 kHz.
const modelWindow = 512

// Engine implements vad.Engine using the Silero VAD model. The ONNX model
// file is loaded once per session; sessions are independent.
type Engine struct {
	modelPath string
}

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// New creates a Silero VAD engine. modelPath is the path to the
// silero_vad.onnx model file.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession creates a streaming VAD session. Silero supports 8000 and
// 16000 Hz input; other rates are rejected.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != 8000 && cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("silero: frame size %d ms is invalid", cfg.FrameSizeMs)
	}
	threshold := cfg.SpeechThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  e.modelPath,
		SampleRate: cfg.SampleRate,
		Threshold:  float32(threshold),
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}

	return &session{
		det:       det,
		frameLen:  cfg.SampleRate * cfg.FrameSizeMs / 1000,
		threshold: threshold,
	}, nil
}

// session is a live Silero VAD session. It implements vad.SessionHandle.
type session struct {
	mu        sync.Mutex
	det       *speech.Detector
	frameLen  int
	threshold float64

	window   []float32 // accumulated samples awaiting a full model window
	inSpeech bool      // latest verdict from the model
	closed   bool
}

// ProcessFrame converts the frame to float32, feeds complete model windows to
// the detector, and returns the current speech verdict. Frames smaller than a
// model window reuse the verdict from the most recent window.
func (s *session) ProcessFrame(pcm []byte) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Result{}, errors.New("silero: session is closed")
	}
	if len(pcm)/2 != s.frameLen {
		return vad.Result{}, fmt.Errorf("silero: frame has %d samples, want %d", len(pcm)/2, s.frameLen)
	}

	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		s.window = append(s.window, float32(sample)/32768.0)
	}

	for len(s.window) >= modelWindow {
		event, err := s.det.DetectStreamFrame(s.window[:modelWindow])
		s.window = s.window[modelWindow:]
		if err != nil {
			// A desynchronised stream is recoverable by resetting model state;
			// report the error so the caller can fail closed for this frame.
			s.det.Reset()
			s.inSpeech = false
			return vad.Result{}, fmt.Errorf("silero: detect: %w", err)
		}
		if event != nil {
			if event.IsStart {
				s.inSpeech = true
			}
			if event.IsEnd {
				s.inSpeech = false
			}
		}
	}

	prob := 0.0
	if s.inSpeech {
		prob = 1.0
	}
	return vad.Result{Probability: prob, Speech: s.inSpeech}, nil
}

// Reset clears the window buffer and the model's streaming state.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.window = s.window[:0]
	s.inSpeech = false
	s.det.Reset()
}

// Close destroys the underlying detector. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.det.Destroy()
	return nil
}
