package portaudio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// PlaybackSink writes mono 16-bit PCM to the default output device.
// It implements [audio.Sink].
type PlaybackSink struct {
	sampleRate int
	frameLen   int // samples per device write

	mu      sync.Mutex
	stream  *portaudio.Stream
	scratch []int16
	pending []int16 // carry-over when a Write is not a multiple of frameLen
	closed  bool
}

// Compile-time interface assertion.
var _ audio.Sink = (*PlaybackSink)(nil)

// NewPlaybackSink opens the default output device at the given sample rate.
// frameMs sets the device write granularity.
func NewPlaybackSink(sampleRate, frameMs int) (*PlaybackSink, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("portaudio: sample rate %d is invalid", sampleRate)
	}
	if frameMs <= 0 {
		frameMs = 20
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	frameLen := sampleRate * frameMs / 1000
	scratch := make([]int16, frameLen)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), frameLen, scratch)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}

	return &PlaybackSink{
		sampleRate: sampleRate,
		frameLen:   frameLen,
		stream:     stream,
		scratch:    scratch,
	}, nil
}

// Write queues pcm for playback. Chunks smaller than one device frame are
// held until enough audio accumulates; callers flush the remainder by closing
// the sink.
func (p *PlaybackSink) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("portaudio: write after close")
	}

	for i := 0; i+1 < len(pcm); i += 2 {
		p.pending = append(p.pending, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}

	for len(p.pending) >= p.frameLen {
		copy(p.scratch, p.pending[:p.frameLen])
		p.pending = p.pending[p.frameLen:]
		if err := p.stream.Write(); err != nil {
			if err == portaudio.OutputUnderflowed {
				continue
			}
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

// Close pads and flushes the remaining partial frame, then releases the device.
func (p *PlaybackSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if len(p.pending) > 0 {
		for i := range p.scratch {
			if i < len(p.pending) {
				p.scratch[i] = p.pending[i]
			} else {
				p.scratch[i] = 0
			}
		}
		_ = p.stream.Write()
		p.pending = nil
	}

	_ = p.stream.Stop()
	err := p.stream.Close()
	p.stream = nil
	_ = portaudio.Terminate()
	return err
}
