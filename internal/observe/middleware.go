package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument wraps the operational listener with request metrics and
// completion logging. The listener serves a fixed route set (health probes
// and the Prometheus scrape endpoint); any other path is recorded under
// "other" so arbitrary requests cannot grow metric cardinality. Probe and
// scrape traffic is chatty, so successful requests log at Debug and only
// failures are promoted.
func Instrument(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		route := opsRoute(r.URL.Path)
		m.HTTPRequestDuration.Record(r.Context(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
			),
		)

		level := slog.LevelDebug
		if rec.statusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.LogAttrs(r.Context(), level, "request completed",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.statusCode),
			slog.Duration("duration", duration),
		)
	})
}

// opsRoute maps a request path onto the listener's known route set.
func opsRoute(path string) string {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return path
	default:
		return "other"
	}
}
