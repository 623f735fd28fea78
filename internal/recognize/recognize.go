// Package recognize drives speech-to-text for one utterance at a time.
//
// The [Recognizer] prefers the streaming path: frames are forwarded to an
// open [stt.SessionHandle] as they arrive and interim transcripts come back
// with low latency. Every frame is also appended to a raw PCM buffer. When
// the streaming path degrades (connect failure, send failure, or too many
// frames without any partial) the recognizer stops talking to the session
// and, at finalize, submits the buffered PCM to the [stt.BatchProvider] in
// one shot. Both paths read the same buffer; the batch backend receives the
// exact bytes the stream would have.
//
// Degraded mode is per utterance. The next [Recognizer.Open] retries
// streaming.
package recognize

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
)

// ErrNotOpen is returned by Send and Finalize when no utterance is open.
var ErrNotOpen = errors.New("recognizer: no open utterance")

// ErrNoTranscript is returned by Finalize when neither path produced a
// usable transcript.
var ErrNoTranscript = errors.New("recognizer: no transcript available")

// Degradation reasons reported in logs and metrics.
const (
	reasonConnect  = "connect"
	reasonSend     = "send"
	reasonStall    = "stall"
	reasonNoFinal  = "no_final"
	reasonNoStream = "no_stream"
)

// Config tunes a [Recognizer].
type Config struct {
	// Stream is the audio format announced to both backends.
	Stream stt.StreamConfig

	// StallFrames is the number of consecutive Send calls without any
	// partial before the streaming path is considered dead. Default: 150
	// (3 seconds of 20ms frames).
	StallFrames int

	// FinalWait bounds how long Finalize waits for the streaming final
	// after closing the session. Default: 2s.
	FinalWait time.Duration
}

// Option configures a [Recognizer].
type Option func(*Recognizer)

// WithMetrics wires the pipeline metrics. Without it, fallbacks and
// durations are not recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recognizer) { r.metrics = m }
}

// Recognizer transcribes one utterance via the streaming backend with a
// transparent batch fallback.
//
// A Recognizer is owned by the frame processor: Open and Send run on the
// frame path, Finalize runs on a worker after the last frame of the
// utterance has been sent. The processor serializes these calls; the type
// is not safe for arbitrary concurrent use.
type Recognizer struct {
	stream  stt.StreamProvider
	batch   stt.BatchProvider
	cfg     Config
	metrics *observe.Metrics

	session stt.SessionHandle
	open    bool
	opened  time.Time

	// buf accumulates the raw PCM of the whole utterance. It is the single
	// source for the batch path.
	buf []byte

	degraded      bool
	degradeReason string
	stalled       int
	pendingFinal  *stt.Transcript
}

// New creates a [Recognizer]. stream may be nil, in which case every
// utterance takes the batch path; batch may be nil, in which case there is
// no fallback and a degraded utterance yields [ErrNoTranscript].
func New(stream stt.StreamProvider, batch stt.BatchProvider, cfg Config, opts ...Option) *Recognizer {
	if cfg.StallFrames <= 0 {
		cfg.StallFrames = 150
	}
	if cfg.FinalWait <= 0 {
		cfg.FinalWait = 2 * time.Second
	}
	r := &Recognizer{stream: stream, batch: batch, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open starts a new utterance. It attempts to establish a streaming session;
// a connect failure is not an error, the utterance silently degrades to the
// batch path. Returns an error only on misuse (already open).
func (r *Recognizer) Open(ctx context.Context) error {
	if r.open {
		return errors.New("recognizer: utterance already open")
	}

	r.open = true
	r.opened = time.Now()
	r.buf = r.buf[:0]
	r.degraded = false
	r.degradeReason = ""
	r.stalled = 0
	r.pendingFinal = nil

	if r.stream == nil {
		r.degrade(ctx, reasonNoStream, nil)
		return nil
	}

	sess, err := r.stream.StartStream(ctx, r.cfg.Stream)
	if err != nil {
		r.degrade(ctx, reasonConnect, err)
		return nil
	}
	r.session = sess
	return nil
}

// Send appends the frame's PCM to the utterance buffer, forwards it to the
// streaming session, and performs a non-blocking receive for a transcript.
// It never blocks on the session; partials that have not arrived yet are
// picked up by a later Send or by Finalize.
//
// The returned transcript, if any, may be a partial or (when the backend
// endpoints on its own) a final with IsFinal set.
func (r *Recognizer) Send(frame audio.Frame) (*stt.Transcript, error) {
	if !r.open {
		return nil, ErrNotOpen
	}

	r.buf = append(r.buf, frame.Data...)

	if r.degraded {
		return nil, nil
	}

	if err := r.session.SendAudio(frame.Data); err != nil {
		r.degrade(context.Background(), reasonSend, err)
		return nil, nil
	}

	// Finals take priority: a backend-side endpoint ends the utterance.
	select {
	case tr, ok := <-r.session.Finals():
		if ok {
			r.stalled = 0
			r.pendingFinal = &tr
			return &tr, nil
		}
	default:
	}

	select {
	case tr, ok := <-r.session.Partials():
		if ok && tr.Text != "" {
			r.stalled = 0
			return &tr, nil
		}
	default:
	}

	r.stalled++
	if r.stalled >= r.cfg.StallFrames {
		r.degrade(context.Background(), reasonStall, nil)
	}
	return nil, nil
}

// Finalize ends the utterance and returns the authoritative transcript.
// On the streaming path it closes the session and waits up to FinalWait for
// the final; if the final never arrives or is empty, or the utterance is
// degraded, the buffered PCM goes to the batch backend in one shot.
//
// Finalize must not run on the frame path.
func (r *Recognizer) Finalize(ctx context.Context) (stt.Transcript, error) {
	if !r.open {
		return stt.Transcript{}, ErrNotOpen
	}
	defer r.reset()

	if !r.degraded {
		if tr := r.awaitFinal(ctx); tr != nil && tr.Text != "" {
			if r.metrics != nil {
				r.metrics.STTStreamDuration.Record(ctx, time.Since(r.opened).Seconds())
				r.metrics.RecordUtterance(ctx, "stream")
			}
			return *tr, nil
		}
		r.degrade(ctx, reasonNoFinal, nil)
	}

	if r.batch == nil {
		return stt.Transcript{}, ErrNoTranscript
	}

	start := time.Now()
	tr, err := r.batch.Transcribe(ctx, r.buf, r.cfg.Stream)
	if err != nil {
		return stt.Transcript{}, err
	}
	tr.IsFinal = true
	if r.metrics != nil {
		r.metrics.BatchSTTDuration.Record(ctx, time.Since(start).Seconds())
		r.metrics.RecordUtterance(ctx, "batch")
	}
	return tr, nil
}

// awaitFinal closes the session to flush pending audio and waits a bounded
// time for the final transcript.
func (r *Recognizer) awaitFinal(ctx context.Context) *stt.Transcript {
	if r.pendingFinal != nil {
		return r.pendingFinal
	}
	if r.session == nil {
		return nil
	}

	finals := r.session.Finals()
	if err := r.session.Close(); err != nil {
		slog.Warn("recognizer: session close failed", "error", err)
		return nil
	}

	timer := time.NewTimer(r.cfg.FinalWait)
	defer timer.Stop()

	for {
		select {
		case tr, ok := <-finals:
			if !ok {
				return nil
			}
			if tr.Text != "" {
				return &tr
			}
			// Empty final, keep waiting for a real one until the deadline.
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Close aborts the current utterance, if any, without producing a
// transcript. Safe to call when nothing is open.
func (r *Recognizer) Close() {
	if !r.open {
		return
	}
	r.reset()
}

// Degraded reports whether the current utterance has fallen back to the
// batch path.
func (r *Recognizer) Degraded() bool {
	return r.degraded
}

// degrade switches the current utterance to the batch path.
func (r *Recognizer) degrade(ctx context.Context, reason string, err error) {
	if r.degraded {
		return
	}
	r.degraded = true
	r.degradeReason = reason
	if r.session != nil {
		if cerr := r.session.Close(); cerr != nil {
			slog.Debug("recognizer: closing degraded session", "error", cerr)
		}
		r.session = nil
	}
	if reason != reasonNoStream {
		slog.Warn("recognizer: streaming degraded, batch fallback",
			"reason", reason, "error", err)
		if r.metrics != nil {
			r.metrics.RecordFallback(ctx, reason)
		}
	}
}

// reset clears per-utterance state. The PCM buffer's backing array is kept
// for reuse.
func (r *Recognizer) reset() {
	if r.session != nil {
		_ = r.session.Close()
		r.session = nil
	}
	r.open = false
	r.degraded = false
	r.degradeReason = ""
	r.stalled = 0
	r.pendingFinal = nil
	r.buf = r.buf[:0]
}
