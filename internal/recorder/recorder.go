package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/gateway-companion/internal/connection"
)

// Recorder consumes manager events and status samples and writes them to a Store.
type Recorder struct {
	cfg    Config
	store  Store
	source StatusSource
	logger *slog.Logger

	// Input from the manager's control goroutine
	input chan connection.Event

	// Batching
	events  []EventRow
	samples []SampleRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// New creates a new Recorder. source may be nil to disable sampling.
func New(cfg Config, store Store, source StatusSource, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	return &Recorder{
		cfg:    cfg,
		store:  store,
		source: source,
		logger: logger.With("component", "recorder"),
		input:  make(chan connection.Event, cfg.BufferSize),
		events: make([]EventRow, 0, cfg.BatchSize),
	}
}

// Emit queues e without blocking. Reconnect countdown ticks are not recorded.
func (r *Recorder) Emit(e connection.Event) {
	if e.Kind == connection.EventReconnectCountdown {
		return
	}
	select {
	case r.input <- e:
	default:
		r.batchMu.Lock()
		r.metrics.Dropped++
		r.batchMu.Unlock()
	}
}

// Start begins consuming events and sampling status.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	// Consumer goroutine
	r.wg.Add(1)
	go r.consumeLoop()

	// Flush ticker goroutine
	r.wg.Add(1)
	go r.flushLoop()

	if r.source != nil && r.cfg.SnapshotInterval > 0 {
		r.wg.Add(1)
		go r.sampleLoop()
	}

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
		"snapshot_interval", r.cfg.SnapshotInterval,
	)
	return nil
}

// Stop drains queued events and writes what is left. ctx bounds the wait
// and the final flush.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	if r.cancel != nil {
		r.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
		return ctx.Err()
	}

	r.drain()
	r.flush(ctx)
	r.logger.Info("recorder stopped")
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case e := <-r.input:
			r.handleEvent(e)
		}
	}
}

// drain moves events still buffered after shutdown into the batch.
func (r *Recorder) drain() {
	for {
		select {
		case e := <-r.input:
			r.addEvent(r.transform(e))
		default:
			return
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flush(r.ctx)
		}
	}
}

// sampleLoop records a status sample immediately and then every interval.
func (r *Recorder) sampleLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SnapshotInterval)
	defer ticker.Stop()

	r.sample()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sample()
		}
	}
}

func (r *Recorder) handleEvent(e connection.Event) {
	if r.addEvent(r.transform(e)) {
		r.flush(r.ctx)
	}
}

// addEvent appends row and reports whether the batch is full.
func (r *Recorder) addEvent(row EventRow) bool {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	r.events = append(r.events, row)
	return len(r.events) >= r.cfg.BatchSize
}

func (r *Recorder) sample() {
	row := sampleFromSnapshot(r.source.Status())

	r.batchMu.Lock()
	r.samples = append(r.samples, row)
	r.batchMu.Unlock()
}

// transform converts an Event to an EventRow.
func (r *Recorder) transform(e connection.Event) EventRow {
	instanceID := ""
	if r.source != nil {
		instanceID = r.source.InstanceID()
	}

	row := EventRow{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		At:         e.At,
		Kind:       string(e.Kind),
		Phase:      string(e.Phase),
		Reason:     e.Reason,
		Method:     e.Method,
		Name:       e.Name,
	}
	if row.At.IsZero() {
		row.At = time.Now()
	}

	switch e.Kind {
	case connection.EventHandshake, connection.EventPluginReset:
		ok := e.OK
		row.OK = &ok
	case connection.EventPluginState, connection.EventAgent:
		if len(e.Payload) > 0 {
			row.Payload = []byte(e.Payload)
		}
	}

	if e.Close != nil {
		code := e.Close.Code
		row.CloseCode = &code
		row.CloseReason = e.Close.Reason
		row.Fatal = e.Close.Fatal
	}
	if e.Err != nil {
		row.Error = e.Err.Error()
	}
	return row
}

// sampleFromSnapshot converts a Snapshot to a SampleRow.
func sampleFromSnapshot(s connection.Snapshot) SampleRow {
	row := SampleRow{
		InstanceID:        s.InstanceID,
		TakenAt:           s.TakenAt,
		Phase:             string(s.Phase),
		Connected:         s.Connected,
		Paused:            s.Paused,
		Health:            string(s.Health.Status),
		Reasons:           s.Health.Reasons,
		LatencyMs:         s.LatencyMs,
		UptimePercent:     s.UptimePercent,
		ReconnectAttempt:  s.ReconnectAttempt,
		RequestsSent:      s.RequestsSent,
		RequestsSucceeded: s.RequestsSucceeded,
		RequestsFailed:    s.RequestsFailed,
		PluginAvailable:   s.PluginAvailable,
	}
	if row.Reasons == nil {
		row.Reasons = []string{}
	}
	if st := s.LatencyStats; st != nil {
		median, p95, jitter := st.Median, st.P95, st.Jitter
		row.MedianMs, row.P95Ms, row.JitterMs = &median, &p95, &jitter
	}
	return row
}

// flush writes the current batches to the store.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.events) == 0 && len(r.samples) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batches
	events, samples := r.events, r.samples
	r.events = make([]EventRow, 0, r.cfg.BatchSize)
	r.samples = nil
	r.batchMu.Unlock()

	start := time.Now()
	var eventsWritten, samplesWritten int
	var err error

	if len(events) > 0 {
		eventsWritten, err = r.store.InsertEvents(ctx, events)
		if err != nil {
			r.logger.Error("event insert failed", "error", err, "count", len(events))
		}
	}
	if len(samples) > 0 {
		var serr error
		samplesWritten, serr = r.store.InsertSamples(ctx, samples)
		if serr != nil {
			r.logger.Error("sample insert failed", "error", serr, "count", len(samples))
			err = serr
		}
	}

	r.batchMu.Lock()
	r.metrics.Events += int64(eventsWritten)
	r.metrics.Samples += int64(samplesWritten)
	if err != nil {
		r.metrics.Errors++
	} else {
		r.metrics.Flushes++
	}
	r.batchMu.Unlock()

	r.logger.Debug("flushed telemetry",
		"events", len(events),
		"samples", len(samples),
		"duration", time.Since(start),
	)
}
