// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/earshot-ai/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// FrameDuration tracks per-frame processing time in the hot path.
	FrameDuration metric.Float64Histogram

	// STTStreamDuration tracks streaming recognition session length.
	STTStreamDuration metric.Float64Histogram

	// BatchSTTDuration tracks batch transcription latency (fallback path).
	BatchSTTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// DispatchDuration tracks request dispatch (intent handling) latency.
	DispatchDuration metric.Float64Histogram

	// --- Counters ---

	// WakeDetections counts wake word activations.
	WakeDetections metric.Int64Counter

	// Utterances counts finalized utterances. Use with attribute:
	//   attribute.String("path", "stream"|"batch")
	Utterances metric.Int64Counter

	// BargeIns counts playback interruptions caused by user speech.
	BargeIns metric.Int64Counter

	// RecognizerFallbacks counts streaming-to-batch recognition fallbacks.
	// Use with attribute: attribute.String("reason", ...)
	RecognizerFallbacks metric.Int64Counter

	// ClassifierErrors counts wake/VAD/speaker classifier failures. Use with
	// attribute: attribute.String("classifier", ...)
	ClassifierErrors metric.Int64Counter

	// TimerFires counts conversation timeout fires. Use with attribute:
	//   attribute.Bool("stale", ...)
	TimerFires metric.Int64Counter

	// --- Gauges ---

	// PipelineState records the current processor state as an integer
	// (0=listening, 1=recording, 2=conversing).
	PipelineState metric.Int64Gauge

	// ActivePlaybacks tracks the number of queued or playing responses.
	ActivePlaybacks metric.Int64UpDownCounter

	// --- Operational listener ---

	// HTTPRequestDuration tracks request processing time on the health
	// listener. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// frameBuckets defines boundaries (in seconds) for the sub-frame hot path.
var frameBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameDuration, err = m.Float64Histogram("earshot.frame.duration",
		metric.WithDescription("Per-frame processing time in the hot path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTStreamDuration, err = m.Float64Histogram("earshot.stt.stream.duration",
		metric.WithDescription("Length of streaming recognition sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BatchSTTDuration, err = m.Float64Histogram("earshot.stt.batch.duration",
		metric.WithDescription("Latency of batch transcription on the fallback path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("earshot.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("earshot.dispatch.duration",
		metric.WithDescription("Latency of utterance dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WakeDetections, err = m.Int64Counter("earshot.wake.detections",
		metric.WithDescription("Total wake word activations."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("earshot.utterances",
		metric.WithDescription("Total finalized utterances by recognition path."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("earshot.barge_ins",
		metric.WithDescription("Total playback interruptions caused by user speech."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerFallbacks, err = m.Int64Counter("earshot.recognizer.fallbacks",
		metric.WithDescription("Total streaming-to-batch recognition fallbacks by reason."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierErrors, err = m.Int64Counter("earshot.classifier.errors",
		metric.WithDescription("Total classifier failures by classifier name."),
	); err != nil {
		return nil, err
	}
	if met.TimerFires, err = m.Int64Counter("earshot.timer.fires",
		metric.WithDescription("Total conversation timeout fires, including stale ones."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.PipelineState, err = m.Int64Gauge("earshot.pipeline.state",
		metric.WithDescription("Current processor state (0=listening, 1=recording, 2=conversing)."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlaybacks, err = m.Int64UpDownCounter("earshot.active_playbacks",
		metric.WithDescription("Number of queued or playing responses."),
	); err != nil {
		return nil, err
	}

	// Operational listener histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("Health listener request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUtterance records a finalized utterance with its recognition path.
func (m *Metrics) RecordUtterance(ctx context.Context, path string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("path", path)),
	)
}

// RecordFallback records a streaming-to-batch fallback with its reason.
func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	m.RecognizerFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordClassifierError records a classifier failure by classifier name.
func (m *Metrics) RecordClassifierError(ctx context.Context, classifier string) {
	m.ClassifierErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("classifier", classifier)),
	)
}

// RecordTimerFire records a conversation timeout fire, marking stale fires.
func (m *Metrics) RecordTimerFire(ctx context.Context, stale bool) {
	m.TimerFires.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("stale", stale)),
	)
}
