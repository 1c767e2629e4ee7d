package statusserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/gateway-companion/internal/connection"
	"github.com/rickgao/gateway-companion/internal/health"
)

type fakeManager struct {
	mu    sync.Mutex
	snap  connection.Snapshot
	calls []string
}

func (f *fakeManager) Status() connection.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeManager) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeManager) PausePolling()     { f.record("pause") }
func (f *fakeManager) ResumePolling()    { f.record("resume") }
func (f *fakeManager) ResetPluginState() { f.record("reset") }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		status   health.Status
		reasons  []string
		wantCode int
	}{
		{"healthy", health.StatusHealthy, nil, http.StatusOK},
		{"degraded", health.StatusDegraded, []string{"latency 600ms is poor"}, http.StatusOK},
		{"unhealthy", health.StatusUnhealthy, []string{"not connected"}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeManager{snap: connection.Snapshot{
				InstanceID: "inst-1",
				Phase:      connection.PhaseConnected,
				Connected:  true,
				Health:     health.Assessment{Status: tt.status, Reasons: tt.reasons},
			}}
			h := NewHandler(m, nil, testLogger())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.status || body.InstanceID != "inst-1" || len(body.Reasons) != len(tt.reasons) {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestStatusHandler(t *testing.T) {
	ms := 12.0
	m := &fakeManager{snap: connection.Snapshot{
		InstanceID:        "inst-1",
		Phase:             connection.PhaseConnected,
		Connected:         true,
		PluginAvailable:   true,
		PluginStateMethod: "companion.getState",
		LatencyMs:         &ms,
		Health:            health.Assessment{Status: health.StatusHealthy, Reasons: []string{}},
	}}
	h := NewHandler(m, nil, testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var snap connection.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.PluginStateMethod != "companion.getState" || snap.LatencyMs == nil || *snap.LatencyMs != 12 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestControlEndpoints(t *testing.T) {
	m := &fakeManager{}
	reconnects := 0
	h := NewHandler(m, ReconnectorFunc(func() { reconnects++ }), testLogger())

	for _, path := range []string{"/control/pause", "/control/resume", "/control/reset", "/control/reconnect"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusAccepted {
			t.Errorf("POST %s code = %d, want 202", path, rec.Code)
		}
	}

	want := []string{"pause", "resume", "reset"}
	if len(m.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", m.calls, want)
	}
	for i := range want {
		if m.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, m.calls[i], want[i])
		}
	}
	if reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", reconnects)
	}

	// Control endpoints reject GET.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/control/pause", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /control/pause code = %d, want 405", rec.Code)
	}
}

func TestReconnectDisabledWithoutReconnector(t *testing.T) {
	h := NewHandler(&fakeManager{}, nil, testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control/reconnect", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestServerServeAndFetchStatus(t *testing.T) {
	m := &fakeManager{snap: connection.Snapshot{
		InstanceID: "inst-9",
		Phase:      connection.PhaseConnecting,
		Health:     health.Assessment{Status: health.StatusUnhealthy, Reasons: []string{"not connected"}},
	}}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(ln.Addr().String(), m, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	fetchCtx, fetchCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer fetchCancel()
	snap, err := FetchStatus(fetchCtx, ln.Addr().String())
	if err != nil {
		t.Fatalf("FetchStatus failed: %v", err)
	}
	if snap.InstanceID != "inst-9" || snap.Phase != connection.PhaseConnecting {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Health.Status != health.StatusUnhealthy {
		t.Errorf("health = %+v", snap.Health)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestFetchStatus_Non200(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	if _, err := FetchStatus(context.Background(), server.URL); err == nil {
		t.Error("FetchStatus expected error for 404, got nil")
	}
}
