// Package segment accumulates audio frames into utterances and decides when
// the speaker has finished talking.
//
// The [Segmenter] tracks a trailing silence run-length: any frame classified
// as speech resets the run to zero, any other frame extends it by the frame's
// duration. End-of-speech is reported once the run reaches the endpoint
// timeout, provided a minimum amount of speech has been seen first. A
// max-utterance cap forces the endpoint for speakers who never pause.
package segment

import (
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/speaker"
)

// Default endpointing parameters, used when the corresponding [Config] field
// is zero.
const (
	DefaultEndpointSilence = 700 * time.Millisecond
	DefaultMinSpeech       = 300 * time.Millisecond
	DefaultMaxUtterance    = 30 * time.Second
)

// Config holds the endpointing parameters of a [Segmenter].
type Config struct {
	// EndpointSilence is the trailing silence duration that ends an
	// utterance.
	EndpointSilence time.Duration

	// MinSpeech is the minimum accumulated speech before an endpoint can
	// fire. Prevents zero-length utterances from spurious wake triggers.
	MinSpeech time.Duration

	// MaxUtterance caps the total audio duration of a single utterance.
	// When reached, end-of-speech is reported regardless of silence.
	MaxUtterance time.Duration
}

// Utterance is the accumulator for one recording. It holds every frame since
// the recording started, in arrival order, together with the running
// endpointing counters and any metadata attached along the way.
//
// An Utterance exists only while a recording is in flight; it is reset on
// finalize or abort and never shared across utterances.
type Utterance struct {
	// Frames are the accumulated audio frames in strict arrival order.
	Frames []audio.Frame

	// Silence is the current trailing silence run-length.
	Silence time.Duration

	// Speech is the total duration of frames classified as speech.
	Speech time.Duration

	// Partial is the latest interim transcript from the streaming
	// recognizer, if any. Never authoritative.
	Partial string

	// Speaker is the identity match recorded at wake time, if speaker
	// verification is enabled.
	Speaker *speaker.Match
}

// Duration returns the total audio duration of the utterance.
func (u *Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}

// PCM returns the concatenated raw PCM of all frames. This is the exact byte
// sequence the frames carried; nothing is re-encoded, so the batch
// transcription path sees the same audio the streaming path did.
func (u *Utterance) PCM() []byte {
	var n int
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Segmenter accumulates frames into the current [Utterance] and detects
// end-of-speech.
//
// A Segmenter is owned by a single frame-processing goroutine and is not
// safe for concurrent use.
type Segmenter struct {
	cfg Config
	utt Utterance

	totalDur time.Duration
}

// New creates a [Segmenter]. Zero-value config fields get defaults.
func New(cfg Config) *Segmenter {
	if cfg.EndpointSilence <= 0 {
		cfg.EndpointSilence = DefaultEndpointSilence
	}
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = DefaultMinSpeech
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = DefaultMaxUtterance
	}
	return &Segmenter{cfg: cfg}
}

// Add appends frame to the current utterance and updates the endpointing
// counters. speech says whether the frame was classified as speech by the
// VAD (at its low accumulation threshold, not the gating threshold).
//
// The frame's PCM is copied, so the caller may reuse its buffer.
//
// Returns true when the utterance has reached end-of-speech: either the
// trailing silence run has hit the endpoint timeout after enough speech was
// seen, or the max-utterance cap was reached.
func (s *Segmenter) Add(frame audio.Frame, speech bool) (endOfSpeech bool) {
	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)
	frame.Data = data
	s.utt.Frames = append(s.utt.Frames, frame)

	d := frame.Duration()
	s.totalDur += d

	if speech {
		s.utt.Silence = 0
		s.utt.Speech += d
	} else {
		s.utt.Silence += d
	}

	if s.totalDur >= s.cfg.MaxUtterance {
		return true
	}
	return s.utt.Silence >= s.cfg.EndpointSilence && s.utt.Speech >= s.cfg.MinSpeech
}

// SetPartial records the latest interim transcript on the utterance.
func (s *Segmenter) SetPartial(text string) {
	s.utt.Partial = text
}

// SetSpeaker attaches the speaker identity matched at wake time.
func (s *Segmenter) SetSpeaker(m speaker.Match) {
	s.utt.Speaker = &m
}

// Current returns the in-flight utterance. The returned pointer stays valid
// until the next [Segmenter.Reset] or [Segmenter.Finalize].
func (s *Segmenter) Current() *Utterance {
	return &s.utt
}

// Finalize returns the accumulated utterance and resets the segmenter for
// the next recording.
func (s *Segmenter) Finalize() Utterance {
	u := s.utt
	s.Reset()
	return u
}

// Reset discards the current utterance and clears all counters. Called on
// every transition into recording and after finalize or abort.
func (s *Segmenter) Reset() {
	s.utt = Utterance{}
	s.totalDur = 0
}
