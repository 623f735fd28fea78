package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/earshot-ai/earshot/internal/dispatch"
	dispmock "github.com/earshot-ai/earshot/internal/dispatch/mock"
	"github.com/earshot-ai/earshot/internal/phrase"
	"github.com/earshot-ai/earshot/internal/playback"
	"github.com/earshot-ai/earshot/internal/segment"
	"github.com/earshot-ai/earshot/pkg/audio"
	audiomock "github.com/earshot-ai/earshot/pkg/audio/mock"
	"github.com/earshot-ai/earshot/pkg/provider/speaker"
	speakermock "github.com/earshot-ai/earshot/pkg/provider/speaker/mock"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
	ttsmock "github.com/earshot-ai/earshot/pkg/provider/tts/mock"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
)

// Test frames encode their classifier verdicts in the leading bytes: the
// fake VAD reads the speech probability from byte 0, the fake wake detector
// triggers on byte 1.
func pcmFrame(first, second, fill byte) audio.Frame {
	data := make([]byte, 640) // 20 ms at 16 kHz mono
	for i := range data {
		data[i] = fill
	}
	data[0] = first
	data[1] = second
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1}
}

func speechFrame() audio.Frame  { return pcmFrame(0xFF, 0x00, 0x20) }
func silenceFrame() audio.Frame { return pcmFrame(0x00, 0x00, 0x00) }
func wakeFrame() audio.Frame    { return pcmFrame(0xFF, 0xAA, 0x20) }
func lowVADFrame() audio.Frame  { return pcmFrame(0x33, 0x00, 0x20) } // prob 0.2, loud

type fakeWake struct {
	mu    sync.Mutex
	err   error
	block chan struct{} // when set, Score parks until it is closed
	calls int
}

func (d *fakeWake) Score(pcm []byte) (float64, error) {
	d.mu.Lock()
	d.calls++
	err := d.err
	block := d.block
	d.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return 0, err
	}
	if len(pcm) > 1 && pcm[1] == 0xAA {
		return 0.9, nil
	}
	return 0.05, nil
}

func (d *fakeWake) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeVADEngine struct{ sess *fakeVADSession }

func (e *fakeVADEngine) NewSession(vad.Config) (vad.SessionHandle, error) {
	return e.sess, nil
}

type fakeVADSession struct {
	mu     sync.Mutex
	resets int
	frames int
}

func (s *fakeVADSession) ProcessFrame(pcm []byte) (vad.Result, error) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
	if len(pcm) == 0 {
		return vad.Result{}, nil
	}
	p := float64(pcm[0]) / 255
	return vad.Result{Probability: p, Speech: p >= 0.5}, nil
}

func (s *fakeVADSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *fakeVADSession) Close() error { return nil }

func (s *fakeVADSession) ResetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func (s *fakeVADSession) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// fakeRecognizer scripts transcription without any transport underneath.
type fakeRecognizer struct {
	mu            sync.Mutex
	final         stt.Transcript
	finals        []stt.Transcript
	partials      []*stt.Transcript
	finalizeErr   error
	finalizeDelay time.Duration
	openBlock     chan struct{} // when set, Open parks until it is closed

	openCalls  int
	closeCalls int
	sent       []audio.Frame
}

func (r *fakeRecognizer) Open(context.Context) error {
	r.mu.Lock()
	r.openCalls++
	block := r.openBlock
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	return nil
}

func (r *fakeRecognizer) Send(f audio.Frame) (*stt.Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, f)
	if len(r.partials) > 0 {
		p := r.partials[0]
		r.partials = r.partials[1:]
		return p, nil
	}
	return nil, nil
}

func (r *fakeRecognizer) Finalize(ctx context.Context) (stt.Transcript, error) {
	r.mu.Lock()
	delay := r.finalizeDelay
	r.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalizeErr != nil {
		return stt.Transcript{}, r.finalizeErr
	}
	if len(r.finals) > 0 {
		t := r.finals[0]
		r.finals = r.finals[1:]
		return t, nil
	}
	return r.final, nil
}

func (r *fakeRecognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCalls++
}

func (r *fakeRecognizer) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openCalls
}

func (r *fakeRecognizer) CloseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCalls
}

func baseConfig() Config {
	return Config{
		SampleRate:          16000,
		FrameMs:             20,
		WakeThreshold:       0.5,
		VADThreshold:        0.5,
		ConversationEnabled: true,
		ConversationTimeout: 5 * time.Second,
		IntentThreshold:     0.5,
		AllowedIntents:      []string{"tool_use", "question"},
		Segment: segment.Config{
			EndpointSilence: 40 * time.Millisecond,
			MinSpeech:       20 * time.Millisecond,
			MaxUtterance:    10 * time.Second,
		},
		SessionID: "sess-1",
		NodeID:    "node-1",
	}
}

type harness struct {
	t       *testing.T
	src     *audiomock.Source
	wake    *fakeWake
	vadSess *fakeVADSession
	rec     *fakeRecognizer
	disp    *dispmock.Dispatcher
	sink    *audiomock.Sink
	player  *playback.Controller
	pbDone  chan playback.Result
	p       *Processor
	cancel  context.CancelFunc
	runDone chan struct{}
}

func newHarness(t *testing.T, cfg Config, synth tts.Provider, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		src:     audiomock.NewSource(64),
		wake:    &fakeWake{},
		vadSess: &fakeVADSession{},
		rec:     &fakeRecognizer{final: stt.Transcript{Text: "what time is it", IsFinal: true}},
		disp: &dispmock.Dispatcher{Response: dispatch.Response{
			Text: "It's 3pm.", IntentConfidence: 0.9, IntentCategory: "tool_use",
		}},
		sink:    &audiomock.Sink{},
		pbDone:  make(chan playback.Result, 8),
		runDone: make(chan struct{}),
	}
	if synth == nil {
		synth = &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("aa")}}
	}
	h.player = playback.New(synth, h.sink, tts.VoiceProfile{ID: "v1"},
		playback.WithEvents(playback.Events{
			OnDone: func(_ *playback.Handle, res playback.Result) { h.pbDone <- res },
		}))

	p, err := New(cfg, h.src, h.wake, &fakeVADEngine{sess: h.vadSess}, h.rec, h.disp, h.player, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.p = p

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.runDone)
		if err := p.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.runDone:
		case <-time.After(2 * time.Second):
			t.Error("processor did not stop")
		}
		h.player.Close()
	})
	return h
}

// stop cancels the run loop and waits for it, so processor internals can be
// inspected without racing the owner goroutine.
func (h *harness) stop() {
	h.t.Helper()
	h.cancel()
	select {
	case <-h.runDone:
	case <-time.After(2 * time.Second):
		h.t.Fatal("processor did not stop")
	}
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.p.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("state = %v, want %v", h.p.State(), want)
}

// waitEvent consumes the event stream until an event of the wanted type
// arrives.
func (h *harness) waitEvent(want EventType) Event {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.p.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			h.t.Fatalf("event %q never arrived", want)
			return Event{}
		}
	}
}

func (h *harness) waitPlaybackDone() playback.Result {
	h.t.Helper()
	select {
	case res := <-h.pbDone:
		return res
	case <-time.After(2 * time.Second):
		h.t.Fatal("playback never completed")
		return playback.Result{}
	}
}

// speakUtterance pushes a wake frame, speech, and trailing silence: one full
// utterance from Listening.
func (h *harness) speakUtterance() {
	h.src.Push(wakeFrame())
	h.waitState(Recording)
	h.src.Push(speechFrame())
	h.src.Push(speechFrame())
	h.src.Push(silenceFrame())
	h.src.Push(silenceFrame())
}

func TestRun_StartsListening(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	h.waitEvent(EventListening)
	if got := h.p.State(); got != Listening {
		t.Fatalf("state = %v, want Listening", got)
	}
}

func TestWake_TransitionsToRecording(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)

	h.src.Push(silenceFrame())
	h.src.Push(wakeFrame())

	h.waitEvent(EventRecording)
	h.waitState(Recording)
	if h.vadSess.ResetCount() == 0 {
		t.Error("expected VAD session reset on recording start")
	}
	// The recognizer stream opens off the frame path.
	deadline := time.Now().Add(2 * time.Second)
	for h.rec.OpenCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if h.rec.OpenCount() == 0 {
		t.Error("recognizer was never opened")
	}
}

func TestWake_ScoreErrorStaysListening(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	h.wake.mu.Lock()
	h.wake.err = errors.New("model crashed")
	h.wake.mu.Unlock()

	for i := 0; i < 5; i++ {
		h.src.Push(wakeFrame())
	}
	time.Sleep(50 * time.Millisecond)
	if got := h.p.State(); got != Listening {
		t.Fatalf("state = %v, want Listening", got)
	}
}

func TestTurn_EndToEnd(t *testing.T) {
	cfg := baseConfig()
	cfg.ConversationTimeout = 120 * time.Millisecond
	h := newHarness(t, cfg, nil)

	h.speakUtterance()

	h.waitEvent(EventProcessing)
	h.waitEvent(EventResponding)
	if ev := h.waitEvent(EventResponse); ev.Text != "It's 3pm." {
		t.Errorf("response text = %q", ev.Text)
	}

	// Continuation allowed: conversation window opens with the timer armed.
	h.waitState(Conversing)

	calls := h.disp.Calls()
	if len(calls) != 1 {
		t.Fatalf("dispatcher calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Transcript != "what time is it" || req.SessionID != "sess-1" || req.NodeID != "node-1" {
		t.Errorf("unexpected request: %+v", req)
	}

	// No qualifying speech: the timer returns the pipeline to Listening.
	h.waitState(Listening)
	h.waitEvent(EventListening)

	h.stop()
	if h.p.session != nil {
		t.Error("session not cleared after timeout")
	}
}

func TestConversing_LowVADNeverRecords(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)

	h.speakUtterance()
	h.waitState(Conversing)

	// Loud frames with low speech probability must not re-engage.
	for i := 0; i < 5; i++ {
		h.src.Push(lowVADFrame())
	}
	time.Sleep(50 * time.Millisecond)
	if got := h.p.State(); got != Conversing {
		t.Fatalf("state = %v, want Conversing", got)
	}
}

func TestConversing_SpeechReengages(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)

	h.speakUtterance()
	h.waitState(Conversing)

	h.src.Push(speechFrame())
	h.waitState(Recording)
}

func TestConversing_GoodbyeForcesListening(t *testing.T) {
	h := newHarness(t, baseConfig(), nil,
		WithGoodbyes(phrase.New([]string{"that's all, thanks"})))
	h.rec.mu.Lock()
	h.rec.final = stt.Transcript{Text: "okay that's all thanks", IsFinal: true}
	h.rec.mu.Unlock()

	h.speakUtterance()

	// The dispatcher allows continuation; the goodbye phrase overrides it.
	h.waitEvent(EventResponse)
	h.waitState(Listening)
	h.waitEvent(EventListening)

	h.stop()
	if h.p.session != nil {
		t.Error("session not cleared after goodbye")
	}
}

func TestTurn_WakePhraseNotInTranscriptDiscards(t *testing.T) {
	h := newHarness(t, baseConfig(), nil,
		WithWakeConfirm(phrase.New([]string{"hey earshot"})))

	h.speakUtterance()

	h.waitEvent(EventProcessing)
	h.waitEvent(EventListening)
	time.Sleep(50 * time.Millisecond)
	if n := len(h.disp.Calls()); n != 0 {
		t.Errorf("dispatcher called %d times for an unconfirmed wake", n)
	}

	h.stop()
	if h.p.session != nil {
		t.Error("session opened for an unconfirmed wake")
	}
}

func TestTurn_WakePhraseConfirmedDispatches(t *testing.T) {
	h := newHarness(t, baseConfig(), nil,
		WithWakeConfirm(phrase.New([]string{"hey earshot"})))
	h.rec.mu.Lock()
	h.rec.final = stt.Transcript{Text: "hey earshot what time is it", IsFinal: true}
	h.rec.mu.Unlock()

	h.speakUtterance()

	h.waitEvent(EventResponse)
	h.waitState(Conversing)
}

func TestTurn_MaxTurnsForcesListening(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxTurns = 1
	h := newHarness(t, cfg, nil)

	h.speakUtterance()

	h.waitEvent(EventResponse)
	h.waitState(Listening)
	if got := h.p.State(); got == Conversing {
		t.Fatal("conversation window opened past the turn limit")
	}
}

func TestTurn_LowIntentConfidenceEndsConversation(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	h.disp.Response = dispatch.Response{Text: "Hm.", IntentConfidence: 0.2, IntentCategory: "tool_use"}

	h.speakUtterance()

	h.waitEvent(EventResponse)
	h.waitState(Listening)
	h.waitEvent(EventListening)
}

func TestTurn_DisallowedIntentEndsConversation(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	h.disp.Response = dispatch.Response{Text: "Done.", IntentConfidence: 0.9, IntentCategory: "command"}

	h.speakUtterance()

	h.waitEvent(EventResponse)
	h.waitState(Listening)
}

func TestTurn_DispatchError(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	h.disp.Err = errors.New("backend down")

	h.speakUtterance()

	if ev := h.waitEvent(EventError); ev.Message == "" {
		t.Error("error event missing message")
	}
	h.waitState(Listening)
	h.waitEvent(EventListening)
}

func TestRecording_PartialTranscriptEvent(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	h.rec.mu.Lock()
	h.rec.partials = []*stt.Transcript{nil, {Text: "what time"}}
	h.rec.mu.Unlock()

	h.src.Push(wakeFrame())
	h.waitState(Recording)
	h.src.Push(speechFrame())
	h.src.Push(speechFrame())

	if ev := h.waitEvent(EventPartialTranscript); ev.Text != "what time" {
		t.Errorf("partial text = %q", ev.Text)
	}
}

func TestRecording_BackendFinalEndsUtterance(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	h.rec.mu.Lock()
	h.rec.partials = []*stt.Transcript{{Text: "what time is it", IsFinal: true}}
	h.rec.mu.Unlock()

	h.src.Push(wakeFrame())
	h.waitState(Recording)

	// Continuous speech: the local silence endpoint never fires, so only
	// the backend-side final can end the utterance.
	h.src.Push(speechFrame())
	h.src.Push(speechFrame())

	h.waitEvent(EventProcessing)
	if ev := h.waitEvent(EventResponse); ev.Text != "It's 3pm." {
		t.Errorf("response text = %q", ev.Text)
	}
	h.waitState(Conversing)
}

func TestWake_SlowDetectorDoesNotStallFrames(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	release := make(chan struct{})
	h.wake.mu.Lock()
	h.wake.block = release
	h.wake.mu.Unlock()

	h.src.Push(wakeFrame())
	deadline := time.Now().Add(2 * time.Second)
	for h.wake.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if h.wake.CallCount() == 0 {
		t.Fatal("wake detector never called")
	}

	// The detector is stuck, but frames must keep draining off the source.
	for i := 0; i < 8; i++ {
		h.src.Push(silenceFrame())
	}
	deadline = time.Now().Add(2 * time.Second)
	for h.vadSess.FrameCount() < 9 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := h.vadSess.FrameCount(); got < 9 {
		t.Fatalf("frames classified = %d, want at least 9", got)
	}
	if got := h.p.State(); got != Listening {
		t.Fatalf("state = %v, want Listening while score pending", got)
	}

	// The parked score lands once the detector returns.
	close(release)
	h.waitState(Recording)
}

func TestRecording_NewWakeDuringOpenReusesSingleStream(t *testing.T) {
	h := newHarness(t, baseConfig(), nil)
	release := make(chan struct{})
	h.rec.mu.Lock()
	h.rec.openBlock = release
	h.rec.mu.Unlock()

	// First utterance endpoints while the stream connect is still parked.
	h.speakUtterance()
	h.waitEvent(EventProcessing)

	// A new wake abandons the parked utterance and starts over.
	h.src.Push(wakeFrame())
	h.waitState(Recording)

	time.Sleep(50 * time.Millisecond)
	if got := h.rec.OpenCount(); got != 1 {
		t.Fatalf("open calls = %d, want 1 while the first connect is in flight", got)
	}

	// The stale stream is reaped and a fresh one opened for the new
	// recording, which then completes normally.
	close(release)
	h.src.Push(speechFrame())
	h.src.Push(speechFrame())
	h.src.Push(silenceFrame())
	h.src.Push(silenceFrame())

	h.waitEvent(EventResponse)
	h.waitState(Conversing)

	if got := h.rec.OpenCount(); got != 2 {
		t.Errorf("open calls = %d, want 2", got)
	}
	if got := h.rec.CloseCount(); got != 1 {
		t.Errorf("close calls = %d, want 1 for the reaped stream", got)
	}
}

func TestBargeIn_StopsPlaybackAndRecords(t *testing.T) {
	h := newHarness(t, baseConfig(), &stallingSynth{})

	h.speakUtterance()
	h.waitEvent(EventResponding)

	// Wait for audio to reach the device so playback is interruptible.
	deadline := time.Now().Add(2 * time.Second)
	for len(h.sink.Written()) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if len(h.sink.Written()) == 0 {
		t.Fatal("playback never started")
	}

	h.src.Push(wakeFrame())

	h.waitState(Recording)
	if res := h.waitPlaybackDone(); !res.Interrupted {
		t.Error("expected interrupted playback result")
	}
}

func TestSpeakerContinuity_MismatchDiscardsTurn(t *testing.T) {
	cfg := baseConfig()
	cfg.SpeakerEnabled = true
	cfg.SpeakerThreshold = 0.5
	verifier := &speakermock.Verifier{Matches: []speaker.Match{
		{SpeakerID: "alice", Confidence: 0.9},
		{SpeakerID: "bob", Confidence: 0.9},
	}}
	h := newHarness(t, cfg, nil, WithVerifier(verifier))
	// Give verification time to land before finalize returns.
	h.rec.mu.Lock()
	h.rec.finalizeDelay = 20 * time.Millisecond
	h.rec.mu.Unlock()

	h.speakUtterance()
	h.waitState(Conversing)

	// A different speaker tries to continue the conversation.
	h.src.Push(speechFrame())
	h.waitState(Recording)
	h.src.Push(speechFrame())
	h.src.Push(silenceFrame())
	h.src.Push(silenceFrame())

	h.waitState(Conversing)
	deadline := time.Now().Add(2 * time.Second)
	for verifier.CallCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(h.disp.Calls()); got != 1 {
		t.Errorf("dispatcher calls = %d, want 1 (mismatched turn dispatched)", got)
	}
	if got := h.p.State(); got != Conversing {
		t.Errorf("state = %v, want Conversing", got)
	}
}

// stallingSynth emits one chunk and then blocks until cancelled, keeping
// playback active so barge-in can interrupt it.
type stallingSynth struct{}

func (s *stallingSynth) SynthesizeStream(ctx context.Context, text <-chan string, _ tts.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		go func() {
			for range text {
			}
		}()
		select {
		case out <- []byte("aa"):
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return out, nil
}

func (s *stallingSynth) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	return nil, nil
}
