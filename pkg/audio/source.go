package audio

import "context"

// Source is the capture side of the pipeline. Implementations wrap a real
// input device (e.g., a portaudio stream) or a test double and deliver
// fixed-size frames at a fixed rate.
//
// Implementations must be safe for concurrent use of Close against a running
// Start; Frames is single-consumer.
type Source interface {
	// Start begins capture. Frames become available on the Frames channel
	// until ctx is cancelled or Close is called. Returns an error if the
	// device cannot be opened.
	Start(ctx context.Context) error

	// Frames returns the channel of captured frames. The channel is closed
	// when capture stops. The channel is buffered; a consumer that falls
	// behind by more than the buffer depth causes frames to be dropped
	// (capture never blocks on a slow consumer).
	Frames() <-chan Frame

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls return nil.
	Close() error
}

// Sink is the playback side of the pipeline. Exactly one component (the
// playback controller) writes to it.
type Sink interface {
	// Write queues raw 16-bit little-endian PCM for playback. Write may block
	// briefly while the device buffer drains but must not block indefinitely.
	Write(pcm []byte) error

	// Close flushes pending audio and releases the device. Safe to call more
	// than once; subsequent calls return nil.
	Close() error
}
