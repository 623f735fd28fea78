package recognize

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	sttmock "github.com/earshot-ai/earshot/pkg/provider/stt/mock"
)

func newSession() *sttmock.Session {
	return &sttmock.Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
}

func pcmFrame(data ...byte) audio.Frame {
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1}
}

func TestSend_BeforeOpen(t *testing.T) {
	r := New(&sttmock.Provider{}, &sttmock.Batch{}, Config{})
	if _, err := r.Send(pcmFrame(0x01)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen", err)
	}
	if _, err := r.Finalize(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen", err)
	}
}

func TestSend_ForwardsAudioAndReturnsPartial(t *testing.T) {
	sess := newSession()
	r := New(&sttmock.Provider{Session: sess}, &sttmock.Batch{}, Config{})

	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Degraded() {
		t.Fatal("degraded after successful open")
	}

	// No partial yet.
	tr, err := r.Send(pcmFrame(0x01, 0x02))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tr != nil {
		t.Fatalf("transcript = %+v, want nil before any partial", tr)
	}

	sess.PartialsCh <- stt.Transcript{Text: "hel"}
	tr, err = r.Send(pcmFrame(0x03, 0x04))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tr == nil || tr.Text != "hel" || tr.IsFinal {
		t.Fatalf("transcript = %+v, want partial %q", tr, "hel")
	}

	if got := sess.SendAudioCallCount(); got != 2 {
		t.Fatalf("SendAudio calls = %d, want 2", got)
	}
}

func TestSend_ReturnsBackendFinal(t *testing.T) {
	sess := newSession()
	r := New(&sttmock.Provider{Session: sess}, &sttmock.Batch{}, Config{})
	_ = r.Open(context.Background())

	sess.FinalsCh <- stt.Transcript{Text: "hello there", IsFinal: true}
	tr, err := r.Send(pcmFrame(0x01, 0x02))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tr == nil || !tr.IsFinal {
		t.Fatalf("transcript = %+v, want backend final", tr)
	}

	// Finalize must reuse the already-received final, not the batch path.
	batch := &sttmock.Batch{}
	r.batch = batch
	final, err := r.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if final.Text != "hello there" {
		t.Fatalf("final = %q, want %q", final.Text, "hello there")
	}
	if len(batch.TranscribeCalls) != 0 {
		t.Fatal("batch path used despite streaming final")
	}
}

func TestConnectFailure_BatchGetsIdenticalPCM(t *testing.T) {
	provider := &sttmock.Provider{StartStreamErr: errors.New("dial tcp: refused")}
	batch := &sttmock.Batch{Transcript: stt.Transcript{Text: "fallback", IsFinal: true}}
	r := New(provider, batch, Config{})

	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !r.Degraded() {
		t.Fatal("not degraded after connect failure")
	}

	frames := [][]byte{{0x01, 0x02}, {0x03, 0x04}, {0x05, 0x06}}
	var want []byte
	for _, f := range frames {
		want = append(want, f...)
		if _, err := r.Send(pcmFrame(f...)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	tr, err := r.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if tr.Text != "fallback" {
		t.Fatalf("text = %q, want fallback", tr.Text)
	}
	if len(batch.TranscribeCalls) != 1 {
		t.Fatalf("batch calls = %d, want 1", len(batch.TranscribeCalls))
	}
	if !bytes.Equal(batch.TranscribeCalls[0].PCM, want) {
		t.Fatalf("batch PCM = %v, want byte-identical buffer %v", batch.TranscribeCalls[0].PCM, want)
	}
}

func TestSendError_DegradesMidUtterance(t *testing.T) {
	sess := newSession()
	sess.SendAudioErr = errors.New("broken pipe")
	sess.SendAudioErrAfter = 2
	batch := &sttmock.Batch{Transcript: stt.Transcript{Text: "batched", IsFinal: true}}
	r := New(&sttmock.Provider{Session: sess}, batch, Config{})
	_ = r.Open(context.Background())

	// Two sends succeed, the third breaks the stream.
	for i := 0; i < 3; i++ {
		if _, err := r.Send(pcmFrame(byte(i), byte(i))); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if !r.Degraded() {
		t.Fatal("not degraded after send error")
	}
	if sess.CloseCallCount == 0 {
		t.Fatal("degraded session was not closed")
	}

	// A frame after degradation is still buffered for the batch path.
	_, _ = r.Send(pcmFrame(0x09, 0x09))

	_, err := r.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	want := []byte{0x00, 0x00, 0x01, 0x01, 0x02, 0x02, 0x09, 0x09}
	if !bytes.Equal(batch.TranscribeCalls[0].PCM, want) {
		t.Fatalf("batch PCM = %v, want %v (all frames incl. pre-error)", batch.TranscribeCalls[0].PCM, want)
	}
}

func TestStall_DegradesAfterNFramesWithoutPartial(t *testing.T) {
	sess := newSession()
	batch := &sttmock.Batch{Transcript: stt.Transcript{Text: "batched", IsFinal: true}}
	r := New(&sttmock.Provider{Session: sess}, batch, Config{StallFrames: 5})
	_ = r.Open(context.Background())

	for i := 0; i < 4; i++ {
		_, _ = r.Send(pcmFrame(0x01))
	}
	if r.Degraded() {
		t.Fatal("degraded before stall threshold")
	}
	_, _ = r.Send(pcmFrame(0x01))
	if !r.Degraded() {
		t.Fatal("not degraded at stall threshold")
	}
}

func TestStall_PartialResetsCounter(t *testing.T) {
	sess := newSession()
	r := New(&sttmock.Provider{Session: sess}, &sttmock.Batch{}, Config{StallFrames: 3})
	_ = r.Open(context.Background())

	_, _ = r.Send(pcmFrame(0x01))
	_, _ = r.Send(pcmFrame(0x01))
	sess.PartialsCh <- stt.Transcript{Text: "hi"}
	_, _ = r.Send(pcmFrame(0x01))

	// Two more silent sends: counter restarted, still streaming.
	_, _ = r.Send(pcmFrame(0x01))
	_, _ = r.Send(pcmFrame(0x01))
	if r.Degraded() {
		t.Fatal("degraded despite partial resetting the stall counter")
	}
}

func TestFinalize_WaitsForStreamingFinal(t *testing.T) {
	sess := newSession()
	batch := &sttmock.Batch{}
	r := New(&sttmock.Provider{Session: sess}, batch, Config{FinalWait: time.Second})
	_ = r.Open(context.Background())
	_, _ = r.Send(pcmFrame(0x01, 0x02))

	// The final arrives shortly after the session is flushed.
	go func() {
		time.Sleep(20 * time.Millisecond)
		sess.FinalsCh <- stt.Transcript{Text: "final text", IsFinal: true}
	}()

	tr, err := r.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if tr.Text != "final text" {
		t.Fatalf("text = %q, want %q", tr.Text, "final text")
	}
	if sess.CloseCallCount == 0 {
		t.Fatal("Finalize did not flush the session")
	}
	if len(batch.TranscribeCalls) != 0 {
		t.Fatal("batch path used despite streaming final")
	}
}

func TestFinalize_EmptyStreamingFinalFallsBack(t *testing.T) {
	sess := newSession()
	sess.FinalsCh <- stt.Transcript{Text: "", IsFinal: true}
	close(sess.FinalsCh)
	batch := &sttmock.Batch{Transcript: stt.Transcript{Text: "from batch", IsFinal: true}}
	r := New(&sttmock.Provider{Session: sess}, batch, Config{FinalWait: 100 * time.Millisecond})
	_ = r.Open(context.Background())
	_, _ = r.Send(pcmFrame(0x01, 0x02))

	tr, err := r.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if tr.Text != "from batch" {
		t.Fatalf("text = %q, want %q", tr.Text, "from batch")
	}
}

func TestFinalize_NoBatchBackend(t *testing.T) {
	provider := &sttmock.Provider{StartStreamErr: errors.New("down")}
	r := New(provider, nil, Config{})
	_ = r.Open(context.Background())
	_, _ = r.Send(pcmFrame(0x01))

	if _, err := r.Finalize(context.Background()); !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("err = %v, want ErrNoTranscript", err)
	}
}

func TestOpen_RetriesStreamingNextUtterance(t *testing.T) {
	provider := &sttmock.Provider{StartStreamErr: errors.New("down")}
	batch := &sttmock.Batch{Transcript: stt.Transcript{Text: "x", IsFinal: true}}
	r := New(provider, batch, Config{})

	_ = r.Open(context.Background())
	_, _ = r.Send(pcmFrame(0x01))
	_, _ = r.Finalize(context.Background())

	// Backend recovers; the next utterance must attempt streaming again.
	provider.StartStreamErr = nil
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Degraded() {
		t.Fatal("second utterance degraded despite healthy backend")
	}
	if len(provider.StartStreamCalls) != 2 {
		t.Fatalf("StartStream calls = %d, want 2", len(provider.StartStreamCalls))
	}
}

func TestOpen_Twice(t *testing.T) {
	r := New(&sttmock.Provider{}, nil, Config{})
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := r.Open(context.Background()); err == nil {
		t.Fatal("second Open succeeded, want error")
	}
}

func TestClose_AbortsUtterance(t *testing.T) {
	sess := newSession()
	r := New(&sttmock.Provider{Session: sess}, nil, Config{})
	_ = r.Open(context.Background())
	_, _ = r.Send(pcmFrame(0x01))

	r.Close()
	if sess.CloseCallCount == 0 {
		t.Fatal("session not closed on abort")
	}
	if _, err := r.Send(pcmFrame(0x01)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen after Close", err)
	}

	// Reusable after abort.
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
}
