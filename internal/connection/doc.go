// Package connection implements the gateway Connection Manager.
//
// The Manager:
//   - Negotiates the versioned handshake and waits for hello-ok
//   - Reconnects with jittered exponential backoff, except after fatal closes
//   - Closes connections that go silent (stale watchdog)
//   - Polls plugin state at a bounded rate with at most one request in flight
//   - Probes capability method aliases through internal/resolver
//   - Publishes an immutable Snapshot with latency and health
//
// All mutable state lives on a single control goroutine (internal/loop).
// Socket goroutines, timers and public calls only post closures to it.
package connection
