package resilience

import (
	"context"

	"github.com/earshot-ai/earshot/pkg/provider/stt"
)

// STTFallback implements [stt.StreamProvider] with automatic failover across
// multiple streaming STT backends. Each backend has its own circuit breaker.
//
// Only session establishment is covered by failover. Once a session is open
// the caller talks to that backend directly; mid-session errors are handled
// by the recognizer's degraded mode, not here.
type STTFallback struct {
	group *FallbackGroup[stt.StreamProvider]
}

var _ stt.StreamProvider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.StreamProvider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional streaming backend as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.StreamProvider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a streaming transcription session against the first
// healthy backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.StreamProvider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// BatchSTTFallback implements [stt.BatchProvider] with automatic failover
// across multiple one-shot STT backends.
type BatchSTTFallback struct {
	group *FallbackGroup[stt.BatchProvider]
}

var _ stt.BatchProvider = (*BatchSTTFallback)(nil)

// NewBatchSTTFallback creates a [BatchSTTFallback] with primary as the
// preferred backend.
func NewBatchSTTFallback(primary stt.BatchProvider, primaryName string, cfg FallbackConfig) *BatchSTTFallback {
	return &BatchSTTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional batch backend as a fallback.
func (f *BatchSTTFallback) AddFallback(name string, provider stt.BatchProvider) {
	f.group.AddFallback(name, provider)
}

// Transcribe submits the utterance to the first healthy backend.
func (f *BatchSTTFallback) Transcribe(ctx context.Context, pcm []byte, cfg stt.StreamConfig) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.BatchProvider) (stt.Transcript, error) {
		return p.Transcribe(ctx, pcm, cfg)
	})
}
