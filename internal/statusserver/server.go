// Package statusserver exposes the connection manager over local HTTP:
// health and status for probes and the status command, plus a few
// control endpoints.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rickgao/gateway-companion/internal/connection"
	"github.com/rickgao/gateway-companion/internal/health"
)

// Manager is the part of the connection manager the server uses.
type Manager interface {
	Status() connection.Snapshot
	PausePolling()
	ResumePolling()
	ResetPluginState()
}

// Reconnector restarts the connection to the configured gateway.
type Reconnector interface {
	Reconnect()
}

// ReconnectorFunc adapts a function to Reconnector.
type ReconnectorFunc func()

// Reconnect calls f().
func (f ReconnectorFunc) Reconnect() { f() }

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status     health.Status    `json:"status"`
	Reasons    []string         `json:"reasons"`
	Phase      connection.Phase `json:"phase"`
	Connected  bool             `json:"connected"`
	InstanceID string           `json:"instance_id"`
}

// NewHandler creates the HTTP handler. reconnect may be nil, which disables
// the reconnect endpoint.
func NewHandler(m Manager, reconnect Reconnector, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		snap := m.Status()
		resp := HealthResponse{
			Status:     snap.Health.Status,
			Reasons:    snap.Health.Reasons,
			Phase:      snap.Phase,
			Connected:  snap.Connected,
			InstanceID: snap.InstanceID,
		}

		code := http.StatusOK
		if resp.Status == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp, logger)
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Status(), logger)
	})

	control := func(action string, fn func()) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			logger.Info("control request", "action", action, "remote", r.RemoteAddr)
			fn()
			writeJSON(w, http.StatusAccepted, map[string]string{"accepted": action}, logger)
		}
	}
	mux.HandleFunc("POST /control/pause", control("pause", m.PausePolling))
	mux.HandleFunc("POST /control/resume", control("resume", m.ResumePolling))
	mux.HandleFunc("POST /control/reset", control("reset", m.ResetPluginState))
	if reconnect != nil {
		mux.HandleFunc("POST /control/reconnect", control("reconnect", reconnect.Reconnect))
	}

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encode response", "error", err)
	}
}

// Server serves NewHandler on a TCP address.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New creates a Server listening on addr.
func New(addr string, m Manager, reconnect Reconnector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "status_server")
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(m, reconnect, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting status server", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("status server stopped")
	return nil
}
