// Package audio defines the frame type and device interfaces shared by the
// Earshot capture and playback pipeline.
//
// The two primary abstractions are:
//
//   - [Source] — supplies fixed-size PCM frames from a capture device.
//   - [Sink] — accepts PCM for playback on an output device.
//
// Each device is owned by exactly one component: the frame processor consumes
// the Source, the playback controller writes the Sink. No other component
// touches the devices directly.
package audio

import "time"

// Frame represents a single fixed-duration frame of PCM audio captured from
// the input device. Frames are the atomic unit of the pipeline — scored by the
// wake-word detector, classified by VAD, accumulated by the segmenter, and
// streamed to the recognizer.
//
// A Frame is never mutated after creation. Components that need to retain
// audio past the frame callback must copy Data.
type Frame struct {
	// Data is raw 16-bit little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for speech pipelines).
	SampleRate int

	// Channels: 1 for mono capture. Stereo input is downmixed by the Source.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	// It is monotonic: each frame's timestamp is strictly greater than the
	// previous frame's.
	Timestamp time.Duration
}

// Duration returns the play time of the frame derived from its PCM length.
// Returns zero if the frame has no format information.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 || len(f.Data) == 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
