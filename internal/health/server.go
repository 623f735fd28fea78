package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/earshot-ai/earshot/internal/observe"
)

// shutdownGrace is how long in-flight requests get to finish on shutdown.
const shutdownGrace = 5 * time.Second

// Server is the operational HTTP listener. It serves the probe and metrics
// routes of an embedded [Handler], wrapped in request instrumentation.
type Server struct {
	srv *http.Server
}

// NewServer builds a server listening on addr. The handler's routes are
// registered on a fresh mux.
func NewServer(addr string, h *Handler, m *observe.Metrics) *Server {
	mux := http.NewServeMux()
	h.Register(mux)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           observe.Instrument(m, mux),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to [shutdownGrace]. It returns nil on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	slog.Info("health server listening", "addr", s.srv.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
