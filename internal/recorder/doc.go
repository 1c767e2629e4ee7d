// Package recorder persists connection telemetry to PostgreSQL/TimescaleDB.
//
// A Recorder is a connection.EventSink. Events are buffered, transformed
// into rows and written in batches, flushed when the batch is full or on a
// timer. A second loop samples the manager's Snapshot at a fixed interval
// so uptime, latency and health can be charted over time.
package recorder
