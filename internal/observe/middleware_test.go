package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// instrumentSetup creates a Metrics backed by a manual reader for inspecting
// what Instrument records.
func instrumentSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func requestAttrs(t *testing.T, reader *sdkmetric.ManualReader) map[string]string {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "earshot.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}

	attrs := make(map[string]string)
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	return attrs
}

func TestInstrument_RecordsRouteAndMethod(t *testing.T) {
	m, reader := instrumentSetup(t)

	handler := Instrument(m, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	attrs := requestAttrs(t, reader)
	if attrs["method"] != "GET" {
		t.Errorf("method attribute = %q, want %q", attrs["method"], "GET")
	}
	if attrs["route"] != "/healthz" {
		t.Errorf("route attribute = %q, want %q", attrs["route"], "/healthz")
	}
}

func TestInstrument_UnknownPathCollapsesToOther(t *testing.T) {
	m, reader := instrumentSetup(t)

	handler := Instrument(m, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest("GET", "/some/arbitrary/path", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	attrs := requestAttrs(t, reader)
	if attrs["route"] != "other" {
		t.Errorf("route attribute = %q, want %q", attrs["route"], "other")
	}
}

func TestInstrument_PassesStatusThrough(t *testing.T) {
	m, _ := instrumentSetup(t)

	handler := Instrument(m, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("response status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestOpsRoute(t *testing.T) {
	cases := map[string]string{
		"/healthz":  "/healthz",
		"/readyz":   "/readyz",
		"/metrics":  "/metrics",
		"/":         "other",
		"/healthz/": "other",
		"/admin":    "other",
	}
	for path, want := range cases {
		if got := opsRoute(path); got != want {
			t.Errorf("opsRoute(%q) = %q, want %q", path, got, want)
		}
	}
}
