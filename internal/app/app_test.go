package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/earshot-ai/earshot/internal/config"
	dispmock "github.com/earshot-ai/earshot/internal/dispatch/mock"
	"github.com/earshot-ai/earshot/internal/pipeline"
	audiomock "github.com/earshot-ai/earshot/pkg/audio/mock"
	llmmock "github.com/earshot-ai/earshot/pkg/provider/llm/mock"
	sttmock "github.com/earshot-ai/earshot/pkg/provider/stt/mock"
	ttsmock "github.com/earshot-ai/earshot/pkg/provider/tts/mock"
	vadmock "github.com/earshot-ai/earshot/pkg/provider/vad/mock"
	wakemock "github.com/earshot-ai/earshot/pkg/provider/wake/mock"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Conversation.Enabled = true
	cfg.Conversation.GoodbyePhrases = []string{"goodbye"}
	return cfg
}

func testProviders() *Providers {
	return &Providers{
		Source: audiomock.NewSource(8),
		Sink:   &audiomock.Sink{},
		Wake:   &wakemock.Detector{Default: 0.05},
		VAD:    &vadmock.Engine{},
		STT:    &sttmock.Provider{},
		TTS:    &ttsmock.Provider{},
		LLM:    &llmmock.Provider{},
	}
}

func TestNew_WiresInjectedProviders(t *testing.T) {
	a, err := New(context.Background(), testConfig(),
		WithProviders(testProviders()),
		WithDispatcher(&dispmock.Dispatcher{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if got := a.State(); got != pipeline.Listening {
		t.Errorf("initial state = %v, want %v", got, pipeline.Listening)
	}
}

func TestNew_DefaultDispatcherRequiresLLM(t *testing.T) {
	p := testProviders()
	p.LLM = nil

	_, err := New(context.Background(), testConfig(), WithProviders(p))
	if err == nil {
		t.Fatal("New succeeded without an LLM provider or injected dispatcher")
	}
}

func TestApp_RunEmitsListening(t *testing.T) {
	a, err := New(context.Background(), testConfig(),
		WithProviders(testProviders()),
		WithDispatcher(&dispmock.Dispatcher{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	events, cancelSub := a.Events().Subscribe(8)
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	select {
	case ev := <-events:
		if ev.Type != pipeline.EventListening {
			t.Errorf("first event = %q, want %q", ev.Type, pipeline.EventListening)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no listening event within 2s")
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned %v after cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(),
		WithProviders(testProviders()),
		WithDispatcher(&dispmock.Dispatcher{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestApp_ShutdownRespectsDeadline(t *testing.T) {
	a, err := New(context.Background(), testConfig(),
		WithProviders(testProviders()),
		WithDispatcher(&dispmock.Dispatcher{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestPipelineConfig_MapsTuning(t *testing.T) {
	cfg := testConfig()
	cfg.Wake.Threshold = 0.6
	cfg.VAD.Threshold = 0.4
	cfg.Energy.MinRMS = 300
	cfg.Energy.Adaptive = true
	cfg.Energy.AmbientMultiple = 4
	cfg.Speaker.Enabled = true
	cfg.Speaker.Threshold = 0.8
	cfg.Segmenter.EndpointSilenceMs = 500
	cfg.Segmenter.MinSpeechMs = 200
	cfg.Segmenter.MaxUtteranceMs = 15000
	cfg.Conversation.TimeoutMs = 6000
	cfg.Conversation.MaxTurns = 3
	cfg.Conversation.IntentThreshold = 0.7
	cfg.Conversation.AllowedIntents = []string{"question"}

	pc := pipelineConfig(cfg)

	if pc.WakeThreshold != 0.6 || pc.VADThreshold != 0.4 {
		t.Errorf("thresholds = %v/%v, want 0.6/0.4", pc.WakeThreshold, pc.VADThreshold)
	}
	if pc.MinRMS != 300 || !pc.AdaptiveRMS || pc.AmbientMultiple != 4 {
		t.Errorf("energy gate = %v/%v/%v", pc.MinRMS, pc.AdaptiveRMS, pc.AmbientMultiple)
	}
	if !pc.SpeakerEnabled || pc.SpeakerThreshold != 0.8 {
		t.Errorf("speaker = %v/%v", pc.SpeakerEnabled, pc.SpeakerThreshold)
	}
	if pc.Segment.EndpointSilence != 500*time.Millisecond ||
		pc.Segment.MinSpeech != 200*time.Millisecond ||
		pc.Segment.MaxUtterance != 15*time.Second {
		t.Errorf("segment = %+v", pc.Segment)
	}
	if pc.ConversationTimeout != 6*time.Second || pc.MaxTurns != 3 {
		t.Errorf("conversation = %v/%v", pc.ConversationTimeout, pc.MaxTurns)
	}
	if pc.IntentThreshold != 0.7 || len(pc.AllowedIntents) != 1 {
		t.Errorf("intent gate = %v/%v", pc.IntentThreshold, pc.AllowedIntents)
	}
	if !strings.HasPrefix(pc.SessionID, "session-") {
		t.Errorf("session id %q missing session- prefix", pc.SessionID)
	}
	if pc.NodeID == "" {
		t.Error("node id is empty")
	}
}
