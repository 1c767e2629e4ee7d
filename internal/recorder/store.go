package recorder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS connection_events (
	id           UUID PRIMARY KEY,
	instance_id  TEXT        NOT NULL,
	at           TIMESTAMPTZ NOT NULL,
	kind         TEXT        NOT NULL,
	phase        TEXT,
	ok           BOOLEAN,
	reason       TEXT,
	method       TEXT,
	name         TEXT,
	close_code   INTEGER,
	close_reason TEXT,
	fatal        BOOLEAN     NOT NULL DEFAULT FALSE,
	error        TEXT,
	payload      JSONB
);
CREATE INDEX IF NOT EXISTS connection_events_instance_at ON connection_events (instance_id, at DESC);

CREATE TABLE IF NOT EXISTS status_samples (
	instance_id        TEXT        NOT NULL,
	taken_at           TIMESTAMPTZ NOT NULL,
	phase              TEXT        NOT NULL,
	connected          BOOLEAN     NOT NULL,
	paused             BOOLEAN     NOT NULL,
	health             TEXT        NOT NULL,
	reasons            TEXT[]      NOT NULL,
	latency_ms         DOUBLE PRECISION,
	median_ms          DOUBLE PRECISION,
	p95_ms             DOUBLE PRECISION,
	jitter_ms          DOUBLE PRECISION,
	uptime_percent     DOUBLE PRECISION NOT NULL,
	reconnect_attempt  INTEGER     NOT NULL,
	requests_sent      BIGINT      NOT NULL,
	requests_succeeded BIGINT      NOT NULL,
	requests_failed    BIGINT      NOT NULL,
	plugin_available   BOOLEAN     NOT NULL,
	PRIMARY KEY (instance_id, taken_at)
);
`

// PgStore writes rows to PostgreSQL using pgx batches.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore creates a PgStore on db.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

// EnsureSchema creates the recorder tables if they do not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create recorder schema: %w", err)
	}
	return nil
}

// InsertEvents inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *PgStore) InsertEvents(ctx context.Context, rows []EventRow) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO connection_events
				(id, instance_id, at, kind, phase, ok, reason, method, name, close_code, close_reason, fatal, error, payload)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, NULLIF($11, ''), $12, NULLIF($13, ''), $14)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.InstanceID, r.At, r.Kind, r.Phase, r.OK, r.Reason, r.Method, r.Name,
			r.CloseCode, r.CloseReason, r.Fatal, r.Error, r.Payload)
	}
	return s.send(ctx, batch, len(rows))
}

// InsertSamples inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *PgStore) InsertSamples(ctx context.Context, rows []SampleRow) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO status_samples
				(instance_id, taken_at, phase, connected, paused, health, reasons, latency_ms, median_ms, p95_ms, jitter_ms,
				 uptime_percent, reconnect_attempt, requests_sent, requests_succeeded, requests_failed, plugin_available)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (instance_id, taken_at) DO NOTHING
		`, r.InstanceID, r.TakenAt, r.Phase, r.Connected, r.Paused, r.Health, r.Reasons,
			r.LatencyMs, r.MedianMs, r.P95Ms, r.JitterMs, r.UptimePercent, r.ReconnectAttempt,
			r.RequestsSent, r.RequestsSucceeded, r.RequestsFailed, r.PluginAvailable)
	}
	return s.send(ctx, batch, len(rows))
}

func (s *PgStore) send(ctx context.Context, batch *pgx.Batch, n int) (inserted int, err error) {
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range n {
		ct, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(ct.RowsAffected())
	}
	return inserted, nil
}
