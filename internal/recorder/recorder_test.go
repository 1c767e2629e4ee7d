package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/gateway-companion/internal/connection"
	"github.com/rickgao/gateway-companion/internal/health"
	"github.com/rickgao/gateway-companion/internal/latency"
)

type fakeStore struct {
	mu      sync.Mutex
	events  []EventRow
	samples []SampleRow
	fail    error
}

func (s *fakeStore) InsertEvents(ctx context.Context, rows []EventRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	s.events = append(s.events, rows...)
	return len(rows), nil
}

func (s *fakeStore) InsertSamples(ctx context.Context, rows []SampleRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	s.samples = append(s.samples, rows...)
	return len(rows), nil
}

func (s *fakeStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *fakeStore) sampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

type fakeSource struct {
	snap connection.Snapshot
}

func (f *fakeSource) InstanceID() string { return f.snap.InstanceID }
func (f *fakeSource) Status() connection.Snapshot { return f.snap }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorder_Transform(t *testing.T) {
	r := New(DefaultConfig(), &fakeStore{}, &fakeSource{snap: connection.Snapshot{InstanceID: "inst-1"}}, testLogger())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := r.transform(connection.Event{
		Kind:  connection.EventDisconnect,
		At:    at,
		Close: &connection.CloseInfo{Code: 4001, Reason: "unauthorized", Fatal: true},
	})

	if row.ID == "" {
		t.Error("ID is empty")
	}
	if row.InstanceID != "inst-1" {
		t.Errorf("InstanceID = %q, want inst-1", row.InstanceID)
	}
	if !row.At.Equal(at) {
		t.Errorf("At = %v, want %v", row.At, at)
	}
	if row.Kind != "disconnect" {
		t.Errorf("Kind = %q, want disconnect", row.Kind)
	}
	if row.CloseCode == nil || *row.CloseCode != 4001 || !row.Fatal || row.CloseReason != "unauthorized" {
		t.Errorf("close = %v %q %v", row.CloseCode, row.CloseReason, row.Fatal)
	}
	if row.OK != nil {
		t.Errorf("OK = %v, want nil for disconnect", *row.OK)
	}
}

func TestRecorder_TransformHandshakeAndPayload(t *testing.T) {
	r := New(DefaultConfig(), &fakeStore{}, nil, testLogger())

	hs := r.transform(connection.Event{Kind: connection.EventHandshake, OK: false, Reason: "bad token"})
	if hs.OK == nil || *hs.OK {
		t.Errorf("handshake OK = %v, want false", hs.OK)
	}
	if hs.Reason != "bad token" {
		t.Errorf("Reason = %q", hs.Reason)
	}
	if hs.At.IsZero() {
		t.Error("At not defaulted")
	}

	st := r.transform(connection.Event{
		Kind:    connection.EventPluginState,
		Method:  "companion.state",
		Payload: json.RawMessage(`{"mood":"happy"}`),
	})
	if string(st.Payload) != `{"mood":"happy"}` || st.Method != "companion.state" {
		t.Errorf("plugin state row = %+v", st)
	}

	er := r.transform(connection.Event{Kind: connection.EventError, Err: errors.New("boom")})
	if er.Error != "boom" {
		t.Errorf("Error = %q, want boom", er.Error)
	}
}

func TestSampleFromSnapshot(t *testing.T) {
	ms := 42.0
	snap := connection.Snapshot{
		InstanceID:    "inst-1",
		Phase:         connection.PhaseConnected,
		Connected:     true,
		LatencyMs:     &ms,
		LatencyStats:  &latency.Stats{Samples: 3, Median: 40, P95: 60, Jitter: 5},
		Health:        health.Assessment{Status: health.StatusHealthy},
		UptimePercent: 99.5,
		RequestsSent:  10,
	}

	row := sampleFromSnapshot(snap)
	if row.Phase != "connected" || !row.Connected || row.Health != "healthy" {
		t.Errorf("row = %+v", row)
	}
	if row.Reasons == nil {
		t.Error("Reasons is nil, want empty slice")
	}
	if row.MedianMs == nil || *row.MedianMs != 40 || *row.P95Ms != 60 || *row.JitterMs != 5 {
		t.Errorf("stats = %v %v %v", row.MedianMs, row.P95Ms, row.JitterMs)
	}
	if row.LatencyMs == nil || *row.LatencyMs != 42 {
		t.Errorf("LatencyMs = %v", row.LatencyMs)
	}

	empty := sampleFromSnapshot(connection.Snapshot{})
	if empty.MedianMs != nil || empty.LatencyMs != nil {
		t.Error("nil stats produced values")
	}
}

func TestRecorder_FlushOnBatchSize(t *testing.T) {
	store := &fakeStore{}
	cfg := Config{BatchSize: 3, BufferSize: 16, FlushInterval: time.Hour}
	r := New(cfg, store, nil, testLogger())

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for range 3 {
		r.Emit(connection.Event{Kind: connection.EventStateChange, Phase: connection.PhaseConnecting})
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.eventCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := store.eventCount(); got != 3 {
		t.Fatalf("events written = %d, want 3", got)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	if m := r.Stats(); m.Events != 3 || m.Flushes != 1 {
		t.Errorf("metrics = %+v, want 3 events in 1 flush", m)
	}
}

func TestRecorder_StopFlushesRemainder(t *testing.T) {
	store := &fakeStore{}
	cfg := Config{BatchSize: 100, BufferSize: 16, FlushInterval: time.Hour}
	r := New(cfg, store, nil, testLogger())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Emit(connection.Event{Kind: connection.EventHandshake, OK: true})
	r.Emit(connection.Event{Kind: connection.EventReconnectCountdown, Seconds: 3})
	r.Emit(connection.Event{Kind: connection.EventDisconnect, Close: &connection.CloseInfo{Code: 1000}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Countdown ticks are skipped.
	if got := store.eventCount(); got != 2 {
		t.Errorf("events written = %d, want 2", got)
	}
}

func TestRecorder_DropsWhenBufferFull(t *testing.T) {
	r := New(Config{BatchSize: 10, BufferSize: 1, FlushInterval: time.Hour}, &fakeStore{}, nil, testLogger())

	// Not started: nothing consumes the buffer.
	r.Emit(connection.Event{Kind: connection.EventAgent})
	r.Emit(connection.Event{Kind: connection.EventAgent})
	r.Emit(connection.Event{Kind: connection.EventAgent})

	if got := r.Stats().Dropped; got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
}

func TestRecorder_Samples(t *testing.T) {
	store := &fakeStore{}
	source := &fakeSource{snap: connection.Snapshot{
		InstanceID: "inst-1",
		Phase:      connection.PhaseDisconnected,
		Health:     health.Assessment{Status: health.StatusUnhealthy, Reasons: []string{"not connected"}},
	}}
	cfg := Config{BatchSize: 10, BufferSize: 16, FlushInterval: 20 * time.Millisecond, SnapshotInterval: 10 * time.Millisecond}
	r := New(cfg, store, source, testLogger())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.sampleCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)

	if store.sampleCount() < 2 {
		t.Fatalf("samples written = %d, want >= 2", store.sampleCount())
	}
	store.mu.Lock()
	first := store.samples[0]
	store.mu.Unlock()
	if first.InstanceID != "inst-1" || first.Health != "unhealthy" || len(first.Reasons) != 1 {
		t.Errorf("first sample = %+v", first)
	}
}

func TestRecorder_FlushErrorCounted(t *testing.T) {
	store := &fakeStore{fail: errors.New("connection refused")}
	r := New(Config{BatchSize: 10, BufferSize: 16, FlushInterval: time.Hour}, store, nil, testLogger())

	r.addEvent(r.transform(connection.Event{Kind: connection.EventAgent}))
	r.flush(context.Background())

	m := r.Stats()
	if m.Errors != 1 || m.Events != 0 || m.Flushes != 0 {
		t.Errorf("metrics = %+v, want one error", m)
	}
}
