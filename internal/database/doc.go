// Package database provides the PostgreSQL/TimescaleDB connection pool used
// by the telemetry recorder.
package database
