// Package pipeline contains the frame processor, the state machine at the
// heart of the voice pipeline.
//
// The processor consumes capture frames and turns them into bounded
// utterances: the wake word opens a recording, the segmenter endpoints it,
// the recognizer transcribes it, the dispatcher answers it, and playback
// speaks the answer. A completed turn may open a timed conversation window
// during which follow-up speech is accepted without the wake word.
//
// All pipeline state is owned by the single goroutine running Run. Slow work
// (wake scoring, recognizer connect and finalize, speaker verification,
// dispatch, playback waits) runs on a semaphore-bounded worker pool and
// reports back through the processor's command queue, so the frame path
// never blocks on I/O.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/earshot-ai/earshot/internal/dispatch"
	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/internal/phrase"
	"github.com/earshot-ai/earshot/internal/playback"
	"github.com/earshot-ai/earshot/internal/recognize"
	"github.com/earshot-ai/earshot/internal/segment"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/speaker"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
	"github.com/earshot-ai/earshot/pkg/provider/wake"
)

// Recognizer is the utterance transcription client consumed by the processor.
type Recognizer interface {
	Open(ctx context.Context) error
	Send(frame audio.Frame) (*stt.Transcript, error)
	Finalize(ctx context.Context) (stt.Transcript, error)
	Close()
}

var _ Recognizer = (*recognize.Recognizer)(nil)

// Player is the playback surface consumed by the processor.
type Player interface {
	Speak(text string) *playback.Handle
	Stop()
	Active() bool
}

var _ Player = (*playback.Controller)(nil)

// Config holds the processor's tunables. Every threshold is configuration;
// zero values fall back to the defaults below.
type Config struct {
	// SampleRate and FrameMs describe the capture format and size the VAD
	// session accordingly.
	SampleRate int
	FrameMs    int

	// WakeThreshold is the wake-word activation score gate.
	WakeThreshold float64

	// VADThreshold gates conversation-mode re-engagement.
	VADThreshold float64

	// EndpointSpeechProb is the lower VAD probability above which a frame
	// counts as speech for endpointing.
	EndpointSpeechProb float64

	// MinRMS is the energy floor for re-engagement. When AdaptiveRMS is set
	// the effective floor is AmbientMultiple times the tracked ambient
	// level, whichever is higher.
	MinRMS          float64
	AdaptiveRMS     bool
	AmbientMultiple float64

	// SpeakerEnabled gates utterances in an ongoing conversation on the
	// bound speaker; SpeakerThreshold is the embedding cosine gate.
	SpeakerEnabled   bool
	SpeakerThreshold float64

	// Segment configures utterance endpointing.
	Segment segment.Config

	// ConversationEnabled allows completed turns to open a conversation
	// window of ConversationTimeout. MaxTurns caps turns per window; zero
	// means unlimited. IntentThreshold and AllowedIntents gate continuation
	// on the dispatcher's intent report; an empty AllowedIntents allows
	// every category.
	ConversationEnabled bool
	ConversationTimeout time.Duration
	MaxTurns            int
	IntentThreshold     float64
	AllowedIntents      []string

	// SessionID and NodeID are passed through to the dispatcher.
	SessionID string
	NodeID    string

	// Workers bounds concurrent background work. EventBuffer sizes the
	// event channel.
	Workers     int64
	EventBuffer int
}

const (
	defaultWakeThreshold       = 0.5
	defaultVADThreshold        = 0.5
	defaultEndpointSpeechProb  = 0.3
	defaultAmbientMultiple     = 3.0
	defaultConversationTimeout = 8 * time.Second
	defaultWorkers             = 4
	defaultEventBuffer         = 64

	// ambientAlpha smooths the tracked noise floor over a few seconds of
	// 20-30 ms frames.
	ambientAlpha = 0.02
)

func (c Config) withDefaults() Config {
	if c.WakeThreshold <= 0 {
		c.WakeThreshold = defaultWakeThreshold
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = defaultVADThreshold
	}
	if c.EndpointSpeechProb <= 0 {
		c.EndpointSpeechProb = defaultEndpointSpeechProb
	}
	if c.AmbientMultiple <= 0 {
		c.AmbientMultiple = defaultAmbientMultiple
	}
	if c.ConversationTimeout <= 0 {
		c.ConversationTimeout = defaultConversationTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	return c
}

// Option configures a Processor.
type Option func(*Processor)

// WithVerifier enables speaker verification on finalized utterances.
func WithVerifier(v speaker.Verifier) Option {
	return func(p *Processor) { p.verifier = v }
}

// WithGoodbyes sets the matcher that ends a conversation on a goodbye phrase.
func WithGoodbyes(m *phrase.Matcher) Option {
	return func(p *Processor) { p.goodbyes = m }
}

// WithWakeConfirm sets the matcher that confirms the wake phrase in the
// transcript of a wake-triggered utterance. An utterance whose transcript
// does not contain the phrase is treated as a false activation and
// discarded before dispatch. Follow-up utterances in a conversation are
// never checked.
func WithWakeConfirm(m *phrase.Matcher) Option {
	return func(p *Processor) { p.wakeConfirm = m }
}

// WithMetrics wires the pipeline metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the processor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// command kinds delivered on the processor's queue.
type cmdKind int

const (
	cmdTimerFired cmdKind = iota
	cmdWakeScored
	cmdRecognizerOpened
	cmdTurnDone
)

// command is one message on the processor's queue. Workers and the timer
// enqueue commands; only the processor goroutine handles them.
type command struct {
	kind       cmdKind
	generation uint64

	// cmdWakeScored payload.
	score float64

	// cmdTurnDone payload.
	resp        dispatch.Response
	match       *speaker.Match
	goodbye     bool
	interrupted bool
	discarded   bool
	err         error
}

// Processor owns the pipeline state machine.
type Processor struct {
	cfg        Config
	source     audio.Source
	wake       wake.Detector
	vadEngine  vad.Engine
	recognizer Recognizer
	dispatcher dispatch.Dispatcher
	player     Player

	verifier    speaker.Verifier
	goodbyes    *phrase.Matcher
	wakeConfirm *phrase.Matcher
	metrics     *observe.Metrics
	log         *slog.Logger

	events   chan Event
	commands chan command
	sem      *semaphore.Weighted
	timer    *ConversationTimer
	filters  *filterStack
	ambient  *audio.AmbientTracker

	done      chan struct{}
	closeOnce sync.Once

	// Processor-goroutine state.
	state       State
	stateMirror atomic.Int32
	generation  uint64
	session     *Session
	seg         *segment.Segmenter
	vadSession  vad.SessionHandle

	// Recording bookkeeping. Frames arriving before the recognizer stream
	// is open are replayed once it is; an endpoint reached in that window
	// is parked until the open completes.
	recOpen       bool
	openStarted   bool
	openInFlight  bool
	pendingFrames []audio.Frame
	pendingUtt    *segment.Utterance
	turnInFlight  bool
	turnCancel    context.CancelFunc
}

// New creates a Processor. The wake detector, VAD engine, recognizer,
// dispatcher, and player are required; the speaker verifier and goodbye
// matcher are optional.
func New(cfg Config, src audio.Source, det wake.Detector, eng vad.Engine,
	rec Recognizer, disp dispatch.Dispatcher, player Player, opts ...Option) (*Processor, error) {
	if src == nil || det == nil || eng == nil || rec == nil || disp == nil || player == nil {
		return nil, fmt.Errorf("pipeline: source, wake detector, vad engine, recognizer, dispatcher, and player are required")
	}
	cfg = cfg.withDefaults()

	p := &Processor{
		cfg:        cfg,
		source:     src,
		wake:       det,
		vadEngine:  eng,
		recognizer: rec,
		dispatcher: disp,
		player:     player,
		log:        slog.Default(),
		events:     make(chan Event, cfg.EventBuffer),
		commands:   make(chan command, cfg.EventBuffer),
		sem:        semaphore.NewWeighted(cfg.Workers),
		ambient:    audio.NewAmbientTracker(ambientAlpha),
		done:       make(chan struct{}),
		seg:        segment.New(cfg.Segment),
		state:      Listening,
	}
	for _, o := range opts {
		o(p)
	}
	p.filters = &filterStack{
		vadThreshold:    cfg.VADThreshold,
		minRMS:          cfg.MinRMS,
		adaptive:        cfg.AdaptiveRMS,
		ambientMultiple: cfg.AmbientMultiple,
		ambient:         p.ambient,
	}
	p.timer = NewConversationTimer(func(gen uint64) {
		p.enqueue(command{kind: cmdTimerFired, generation: gen})
	})

	sess, err := eng.NewSession(vad.Config{
		SampleRate:      cfg.SampleRate,
		FrameSizeMs:     cfg.FrameMs,
		SpeechThreshold: cfg.VADThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: vad session: %w", err)
	}
	p.vadSession = sess
	return p, nil
}

// Events returns the lifecycle event stream. Events are dropped, not
// blocked on, when the consumer falls behind.
func (p *Processor) Events() <-chan Event { return p.events }

// State returns the current pipeline state. Safe from any goroutine.
func (p *Processor) State() State { return State(p.stateMirror.Load()) }

// Run starts the capture source and processes frames until ctx is cancelled
// or the source closes its frame channel. It blocks for the lifetime of the
// pipeline and returns nil on graceful shutdown.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.source.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: start source: %w", err)
	}
	defer p.shutdown()

	p.setState(ctx, Listening)
	p.emit(Event{Type: EventListening})

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-p.commands:
			p.handleCommand(ctx, cmd)
		case f, ok := <-p.source.Frames():
			if !ok {
				return nil
			}
			p.processFrame(ctx, f)
		}
	}
}

func (p *Processor) shutdown() {
	p.closeOnce.Do(func() { close(p.done) })
	p.timer.Cancel()
	p.recognizer.Close()
	if p.vadSession != nil {
		if err := p.vadSession.Close(); err != nil {
			p.log.Warn("closing vad session", "error", err)
		}
	}
}

// enqueue delivers a command to the processor goroutine. Safe from any
// goroutine; returns once the command is queued or the processor stopped.
func (p *Processor) enqueue(cmd command) {
	select {
	case p.commands <- cmd:
	case <-p.done:
	}
}

// emit publishes an event without ever blocking the caller.
func (p *Processor) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn("event dropped, consumer behind", "type", ev.Type)
	}
}

func (p *Processor) setState(ctx context.Context, s State) {
	p.state = s
	p.stateMirror.Store(int32(s))
	if p.metrics != nil {
		p.metrics.PipelineState.Record(ctx, int64(s))
	}
}

// processFrame is the hot path. VAD and RMS run inline; wake scoring and all
// slower work are handed to the worker pool.
func (p *Processor) processFrame(ctx context.Context, f audio.Frame) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.FrameDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	prob := p.speechProbability(ctx, f)
	rms := audio.RMS(f.Data)
	if prob < p.cfg.EndpointSpeechProb {
		p.ambient.Observe(rms)
	}

	switch p.state {
	case Listening:
		p.scoreWake(ctx, f)
	case Recording:
		p.recordFrame(ctx, f, prob)
	case Conversing:
		p.scoreWake(ctx, f)
		ok, reason := p.filters.accept(prob, rms)
		if ok {
			p.startRecording(ctx)
		} else if reason != rejectVAD {
			p.log.Debug("frame rejected", "reason", reason)
		}
	}
}

// speechProbability runs VAD on one frame. Failures are logged and count as
// silence; a broken classifier must not take down the pipeline.
func (p *Processor) speechProbability(ctx context.Context, f audio.Frame) float64 {
	res, err := p.vadSession.ProcessFrame(f.Data)
	if err != nil {
		p.log.Warn("vad classify failed", "error", err)
		if p.metrics != nil {
			p.metrics.RecordClassifierError(ctx, "vad")
		}
		return 0
	}
	return res.Probability
}

// scoreWake hands one frame to the wake detector on a worker; the score
// comes back as a command. The detector call may be network I/O, so it never
// runs on the frame path. When the pool is saturated the frame is skipped
// rather than stalling capture. Failures are logged and reject.
func (p *Processor) scoreWake(ctx context.Context, f audio.Frame) {
	if !p.sem.TryAcquire(1) {
		return
	}
	gen := p.generation
	pcm := make([]byte, len(f.Data))
	copy(pcm, f.Data)
	go func() {
		defer p.sem.Release(1)
		score, err := p.wake.Score(pcm)
		if err != nil {
			p.log.Warn("wake scoring failed", "error", err)
			if p.metrics != nil {
				p.metrics.RecordClassifierError(ctx, "wake")
			}
			return
		}
		p.enqueue(command{kind: cmdWakeScored, generation: gen, score: score})
	}()
}

// startRecording transitions into Recording from Listening or Conversing.
// Stops playback (barge-in), cancels the conversation timer, and resets the
// segmenter in one transition.
func (p *Processor) startRecording(ctx context.Context) {
	p.generation++
	if p.player.Active() {
		p.player.Stop()
		if p.metrics != nil {
			p.metrics.BargeIns.Add(ctx, 1)
		}
		p.log.Info("barge-in, playback stopped")
	}
	if p.turnInFlight && p.turnCancel != nil {
		// The pending turn belongs to an abandoned utterance.
		p.turnCancel()
	}
	p.timer.Cancel()
	p.seg.Reset()
	p.vadSession.Reset()
	p.recOpen = false
	p.openStarted = false
	p.pendingFrames = nil
	p.pendingUtt = nil
	p.setState(ctx, Recording)
	p.emit(Event{Type: EventRecording})
	if !p.turnInFlight && !p.openInFlight {
		p.startOpen(ctx)
	}
}

// startOpen connects the recognizer on a worker. The stream connect is a
// network call and never runs on the frame path; frames captured meanwhile
// are replayed when the open completes. At most one open is in flight: the
// recognizer holds a single stream, so a second Open must wait until the
// first lands and is either adopted or reaped.
func (p *Processor) startOpen(ctx context.Context) {
	p.openStarted = true
	p.openInFlight = true
	gen := p.generation
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		if err := p.recognizer.Open(ctx); err != nil {
			p.log.Error("recognizer open", "error", err)
		}
		p.enqueue(command{kind: cmdRecognizerOpened, generation: gen})
	}()
}

// recordFrame feeds one frame to the segmenter and, once the stream is open,
// the recognizer. VAD and energy only inform endpointing here; a recording is
// never rejected mid-stream.
func (p *Processor) recordFrame(ctx context.Context, f audio.Frame, prob float64) {
	backendFinal := false
	if p.recOpen {
		backendFinal = p.sendFrame(f)
	} else {
		p.pendingFrames = append(p.pendingFrames, f)
	}
	endpoint := p.seg.Add(f, prob >= p.cfg.EndpointSpeechProb)
	if endpoint || backendFinal {
		p.finishUtterance(ctx)
	}
}

// sendFrame forwards one frame to the recognizer. Returns true when the
// backend marked its transcript final, which ends the utterance without
// waiting for local silence.
func (p *Processor) sendFrame(f audio.Frame) bool {
	partial, err := p.recognizer.Send(f)
	if err != nil {
		p.log.Warn("recognizer send", "error", err)
		return false
	}
	if partial == nil {
		return false
	}
	if partial.Text != "" {
		p.seg.SetPartial(partial.Text)
		p.emit(Event{Type: EventPartialTranscript, Text: partial.Text})
	}
	return partial.IsFinal
}

// finishUtterance leaves Recording. The heavy turn work runs on a worker; if
// the recognizer open is still in flight the turn is parked until it lands,
// preserving frame order into the stream.
func (p *Processor) finishUtterance(ctx context.Context) {
	utt := p.seg.Finalize()
	p.setState(ctx, Listening)
	p.emit(Event{Type: EventProcessing})
	if !p.recOpen {
		p.pendingUtt = &utt
		return
	}
	p.launchTurn(ctx, utt)
}

func (p *Processor) launchTurn(ctx context.Context, utt segment.Utterance) {
	p.turnInFlight = true
	var bound *speaker.Match
	if p.session != nil {
		bound = p.session.Speaker
	}
	fromConversation := p.session != nil
	gen := p.generation
	tctx, cancel := context.WithCancel(ctx)
	p.turnCancel = cancel
	go p.runTurn(tctx, gen, utt, bound, fromConversation)
}

// handleCommand applies one async result on the processor goroutine.
func (p *Processor) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdTimerFired:
		stale := cmd.generation != p.generation || p.state != Conversing
		if p.metrics != nil {
			p.metrics.RecordTimerFire(ctx, stale)
		}
		if stale {
			return
		}
		p.log.Info("conversation timed out")
		p.toListening(ctx)

	case cmdWakeScored:
		if cmd.generation != p.generation || cmd.score < p.cfg.WakeThreshold {
			return
		}
		if p.state != Listening && p.state != Conversing {
			return
		}
		if p.metrics != nil {
			p.metrics.WakeDetections.Add(ctx, 1)
		}
		p.log.Info("wake word detected")
		// In Conversing this is explicit re-engagement and skips the
		// filter stack.
		p.startRecording(ctx)

	case cmdRecognizerOpened:
		p.openInFlight = false
		if cmd.generation != p.generation {
			// The utterance this open belonged to is gone. Reap the
			// stream, then open one for the recording that replaced it.
			p.recognizer.Close()
			if p.state == Recording && !p.openStarted && !p.turnInFlight {
				p.startOpen(ctx)
			}
			return
		}
		p.recOpen = true
		backendFinal := false
		for _, f := range p.pendingFrames {
			if p.sendFrame(f) {
				backendFinal = true
			}
		}
		p.pendingFrames = nil
		if p.pendingUtt != nil {
			utt := *p.pendingUtt
			p.pendingUtt = nil
			p.launchTurn(ctx, utt)
		} else if backendFinal && p.state == Recording {
			p.finishUtterance(ctx)
		}

	case cmdTurnDone:
		p.turnInFlight = false
		if p.turnCancel != nil {
			p.turnCancel()
			p.turnCancel = nil
		}
		if p.state == Recording && !p.openStarted && !p.openInFlight {
			// A barge-in recording waited for the recognizer to free up.
			p.startOpen(ctx)
		}
		if cmd.generation != p.generation || cmd.interrupted {
			return
		}
		p.settleTurn(ctx, cmd)
	}
}

// settleTurn decides where a completed turn lands: Conversing with the timer
// armed when continuation is allowed, Listening otherwise.
func (p *Processor) settleTurn(ctx context.Context, cmd command) {
	if cmd.err != nil {
		p.toListening(ctx)
		return
	}
	if cmd.discarded {
		// Not a qualifying turn. An ongoing conversation keeps its window.
		if p.session != nil {
			p.toConversing(ctx, cmd.match)
		} else {
			p.toListening(ctx)
		}
		return
	}

	turns := 1
	if p.session != nil {
		turns = p.session.TurnsSinceWake + 1
	}
	switch {
	case !p.cfg.ConversationEnabled:
		p.toListening(ctx)
	case cmd.goodbye:
		p.log.Info("goodbye phrase matched, conversation over")
		p.toListening(ctx)
	case p.cfg.MaxTurns > 0 && turns >= p.cfg.MaxTurns:
		p.log.Info("turn limit reached", "turns", turns)
		p.toListening(ctx)
	case cmd.resp.IntentConfidence < p.cfg.IntentThreshold:
		p.toListening(ctx)
	case !p.intentAllowed(cmd.resp.IntentCategory):
		p.toListening(ctx)
	default:
		p.toConversing(ctx, cmd.match)
		p.session.TurnsSinceWake = turns
	}
}

func (p *Processor) intentAllowed(category string) bool {
	if len(p.cfg.AllowedIntents) == 0 {
		return true
	}
	for _, c := range p.cfg.AllowedIntents {
		if c == category {
			return true
		}
	}
	return false
}

func (p *Processor) toConversing(ctx context.Context, match *speaker.Match) {
	p.generation++
	if p.session == nil {
		p.session = &Session{Speaker: match}
	}
	p.session.LastActivity = time.Now()
	p.setState(ctx, Conversing)
	p.timer.Arm(p.cfg.ConversationTimeout, p.generation)
}

func (p *Processor) toListening(ctx context.Context) {
	p.generation++
	p.session = nil
	p.timer.Cancel()
	p.setState(ctx, Listening)
	p.emit(Event{Type: EventListening})
}

// runTurn performs everything between endpoint and settled state on a worker:
// speaker verification in parallel with recognizer finalize, goodbye check,
// dispatch, and playback. The result is applied via the command queue.
func (p *Processor) runTurn(ctx context.Context, gen uint64, utt segment.Utterance,
	bound *speaker.Match, fromConversation bool) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.enqueue(command{kind: cmdTurnDone, generation: gen, err: err})
		return
	}
	defer p.sem.Release(1)

	ctx, span := observe.StartSpan(ctx, "pipeline.turn",
		trace.WithAttributes(attribute.Bool("conversation", fromConversation)))
	defer span.End()

	var matchCh chan speaker.Match
	var identifyErr atomic.Bool
	if p.verifier != nil && p.cfg.SpeakerEnabled {
		matchCh = make(chan speaker.Match, 1)
		pcm := utt.PCM()
		go func() {
			m, err := p.verifier.Identify(ctx, pcm)
			if err != nil {
				p.log.Warn("speaker identify failed", "error", err)
				if p.metrics != nil {
					p.metrics.RecordClassifierError(ctx, "speaker")
				}
				identifyErr.Store(true)
				close(matchCh)
				return
			}
			matchCh <- m
		}()
	}

	transcript, err := p.recognizer.Finalize(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			p.emit(Event{Type: EventError, Message: "could not transcribe that"})
			p.log.Error("finalize failed", "error", err)
		}
		p.enqueue(command{kind: cmdTurnDone, generation: gen, err: err})
		return
	}
	if transcript.Text == "" {
		p.enqueue(command{kind: cmdTurnDone, generation: gen, discarded: true})
		return
	}
	if !fromConversation && p.wakeConfirm != nil && !p.wakeConfirm.Empty() &&
		!p.wakeConfirm.Contains(transcript.Text) {
		p.log.Info("utterance discarded, wake phrase not in transcript", "text", transcript.Text)
		p.enqueue(command{kind: cmdTurnDone, generation: gen, discarded: true})
		return
	}

	// Verification is best effort: take the match if it is already in,
	// drop it otherwise. Finalize never waits on it.
	var match *speaker.Match
	if matchCh != nil {
		select {
		case m, ok := <-matchCh:
			if ok {
				match = &m
			}
		default:
		}
	}
	if fromConversation && p.cfg.SpeakerEnabled && bound != nil {
		if identifyErr.Load() || continuityReject(p.cfg.SpeakerThreshold, bound, match) {
			p.log.Info("utterance discarded, speaker mismatch")
			p.enqueue(command{kind: cmdTurnDone, generation: gen, discarded: true, match: bound})
			return
		}
	}

	goodbye := p.goodbyes != nil && p.goodbyes.Contains(transcript.Text)

	req := dispatch.Request{
		Transcript: transcript.Text,
		SessionID:  p.cfg.SessionID,
		NodeID:     p.cfg.NodeID,
	}
	if match != nil {
		req.SpeakerID = match.SpeakerID
	} else if bound != nil {
		req.SpeakerID = bound.SpeakerID
	}

	dispatchStart := time.Now()
	resp, err := p.dispatcher.Handle(ctx, req)
	if p.metrics != nil {
		p.metrics.DispatchDuration.Record(ctx, time.Since(dispatchStart).Seconds())
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			p.emit(Event{Type: EventError, Message: "request failed"})
			p.log.Error("dispatch failed", "error", err)
		}
		p.enqueue(command{kind: cmdTurnDone, generation: gen, err: err})
		return
	}

	p.emit(Event{Type: EventResponding})
	p.emit(Event{Type: EventResponse, Text: resp.Text})

	if ctx.Err() != nil {
		p.enqueue(command{kind: cmdTurnDone, generation: gen, err: ctx.Err()})
		return
	}
	h := p.player.Speak(resp.Text)
	var res playback.Result
	select {
	case res = <-h.Done():
	case <-ctx.Done():
		p.enqueue(command{kind: cmdTurnDone, generation: gen, err: ctx.Err()})
		return
	}
	if res.Err != nil {
		p.emit(Event{Type: EventError, Message: "playback failed"})
		p.log.Error("playback failed", "error", res.Err)
		p.enqueue(command{kind: cmdTurnDone, generation: gen, err: res.Err})
		return
	}

	p.enqueue(command{
		kind:        cmdTurnDone,
		generation:  gen,
		resp:        resp,
		match:       match,
		goodbye:     goodbye,
		interrupted: res.Interrupted,
	})
}
