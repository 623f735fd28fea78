// Package portaudio provides audio.Source and audio.Sink implementations
// backed by PortAudio default devices.
//
// PortAudio owns both devices for the lifetime of the process; Initialize is
// reference-counted internally, so the capture source and playback sink can
// be opened and closed independently.
package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// CaptureConfig describes the capture format. FrameMs must match what the
// downstream classifiers expect (most VAD models operate on 10–30 ms frames).
type CaptureConfig struct {
	// SampleRate in Hz. Typical: 16000.
	SampleRate int

	// FrameMs is the duration of each emitted frame in milliseconds.
	FrameMs int

	// Buffer is the depth of the frame channel. When the consumer falls
	// behind by more than Buffer frames, older frames are dropped so the
	// capture callback never blocks. Default: 64.
	Buffer int
}

// CaptureSource captures mono 16-bit PCM from the default input device and
// emits fixed-size frames. It implements [audio.Source].
type CaptureSource struct {
	cfg CaptureConfig

	mu      sync.Mutex
	stream  *portaudio.Stream
	frames  chan audio.Frame
	scratch []int16
	running bool
	done    chan struct{}
	once    sync.Once
}

// Compile-time interface assertion.
var _ audio.Source = (*CaptureSource)(nil)

// NewCaptureSource initialises PortAudio and prepares a capture source.
// The device is not opened until Start.
func NewCaptureSource(cfg CaptureConfig) (*CaptureSource, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("portaudio: sample rate %d is invalid", cfg.SampleRate)
	}
	if cfg.FrameMs <= 0 {
		return nil, fmt.Errorf("portaudio: frame duration %d ms is invalid", cfg.FrameMs)
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	samples := cfg.SampleRate * cfg.FrameMs / 1000
	return &CaptureSource{
		cfg:     cfg,
		frames:  make(chan audio.Frame, cfg.Buffer),
		scratch: make([]int16, samples),
		done:    make(chan struct{}),
	}, nil
}

// Start opens the default input device and begins the read loop.
func (s *CaptureSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.cfg.SampleRate), len(s.scratch), s.scratch)
	if err != nil {
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}
	s.stream = stream
	s.running = true

	go s.readLoop(ctx)
	return nil
}

// Frames returns the capture frame channel.
func (s *CaptureSource) Frames() <-chan audio.Frame { return s.frames }

// readLoop reads one frame's worth of samples per iteration and forwards it.
// Frames are dropped, never blocked on, when the consumer lags.
func (s *CaptureSource) readLoop(ctx context.Context) {
	defer close(s.frames)

	frameDur := time.Duration(s.cfg.FrameMs) * time.Millisecond
	var ts time.Duration

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		s.mu.Lock()
		stream := s.stream
		running := s.running
		s.mu.Unlock()
		if !running || stream == nil {
			return
		}

		if err := stream.Read(); err != nil {
			// Input overflow is recoverable; anything else ends capture.
			if err == portaudio.InputOverflowed {
				slog.Debug("portaudio: input overflow, frame dropped")
				continue
			}
			slog.Error("portaudio: read failed, stopping capture", "err", err)
			return
		}

		data := make([]byte, len(s.scratch)*2)
		for i, v := range s.scratch {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
		}

		frame := audio.Frame{
			Data:       data,
			SampleRate: s.cfg.SampleRate,
			Channels:   1,
			Timestamp:  ts,
		}
		ts += frameDur

		select {
		case s.frames <- frame:
		default:
			// Consumer is behind; drop the oldest frame to make room.
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- frame:
			default:
			}
		}
	}
}

// Close stops capture and releases the device.
func (s *CaptureSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.stream != nil {
			_ = s.stream.Stop()
			err = s.stream.Close()
			s.stream = nil
		}
		s.running = false
		s.mu.Unlock()
		_ = portaudio.Terminate()
	})
	return err
}
