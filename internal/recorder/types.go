package recorder

import (
	"context"
	"time"

	"github.com/rickgao/gateway-companion/internal/connection"
)

// Config contains configuration for the recorder.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// BufferSize bounds events waiting to be batched. Events beyond it are dropped.
	BufferSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// SnapshotInterval is the status sampling period. Zero disables sampling.
	SnapshotInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:        500,
		BufferSize:       4096,
		FlushInterval:    time.Second,
		SnapshotInterval: 30 * time.Second,
	}
}

// Store writes recorder rows.
type Store interface {
	InsertEvents(ctx context.Context, rows []EventRow) (inserted int, err error)
	InsertSamples(ctx context.Context, rows []SampleRow) (inserted int, err error)
}

// StatusSource is the manager as seen by the sampler.
type StatusSource interface {
	InstanceID() string
	Status() connection.Snapshot
}

// Metrics counts recorder activity.
type Metrics struct {
	Events  int64 // Event rows written
	Samples int64 // Sample rows written
	Flushes int64
	Errors  int64 // Failed flushes
	Dropped int64 // Events lost to a full buffer
}

// EventRow represents a row for the connection_events table.
type EventRow struct {
	ID          string
	InstanceID  string
	At          time.Time
	Kind        string
	Phase       string
	OK          *bool
	Reason      string
	Method      string
	Name        string
	CloseCode   *int
	CloseReason string
	Fatal       bool
	Error       string
	Payload     []byte // JSONB, nil when the event carries none
}

// SampleRow represents a row for the status_samples table.
type SampleRow struct {
	InstanceID        string
	TakenAt           time.Time
	Phase             string
	Connected         bool
	Paused            bool
	Health            string
	Reasons           []string
	LatencyMs         *float64
	MedianMs          *float64
	P95Ms             *float64
	JitterMs          *float64
	UptimePercent     float64
	ReconnectAttempt  int
	RequestsSent      int64
	RequestsSucceeded int64
	RequestsFailed    int64
	PluginAvailable   bool
}
