// Package stt defines the provider interfaces for Speech-to-Text backends.
//
// Two shapes of recognition are distinguished:
//
//   - [StreamProvider] wraps a real-time service (e.g., Deepgram). Once a
//     session is open it accepts raw PCM audio and emits two streams of
//     [Transcript] values — low-latency partials for responsiveness and
//     authoritative finals at utterance end.
//   - [BatchProvider] wraps a one-shot service (e.g., the OpenAI Whisper
//     API). It transcribes a complete utterance buffer in a single call and
//     is the fallback path when streaming is unavailable.
//
// Both operate on the same raw PCM representation; no audio is re-encoded
// between the two paths.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format for a new recognition session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// SessionHandle represents an open streaming transcription session. It is an
// interface so that test code can provide mock implementations without a live
// provider connection.
//
// Callers must call Close when the session is no longer needed; failing to do
// so may leak goroutines and network connections inside the implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider.
	// The chunk must match the SampleRate and Channels agreed in
	// StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel emitting low-latency interim
	// Transcript values. Suitable for UI indicators; never authoritative.
	// The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel emitting authoritative Transcript
	// values once the provider commits to a recognition result.
	// The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes pending audio, and releases all
	// resources. After Close returns, the Partials and Finals channels will
	// be closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// StreamProvider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use.
type StreamProvider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format. The returned SessionHandle is ready to accept audio
	// immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unsupported configuration, or ctx already cancelled). The
	// caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// BatchProvider is the abstraction over any one-shot STT backend.
//
// Implementations must be safe for concurrent use.
type BatchProvider interface {
	// Transcribe submits a complete utterance of raw 16-bit little-endian
	// PCM and returns the final transcript. The call blocks for the duration
	// of the upload and inference; it must never run on the frame path.
	Transcribe(ctx context.Context, pcm []byte, cfg StreamConfig) (Transcript, error)
}
