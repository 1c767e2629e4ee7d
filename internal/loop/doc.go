// Package loop provides the single-goroutine scheduler that drives the
// connection manager.
//
// All state owned by a manager is mutated only from closures executed by a
// Scheduler. Socket goroutines, timers and public API calls post closures
// instead of touching state directly, so no locks are needed on the hot path.
//
// Loop is the production implementation. Fake advances virtual time on
// demand so tests never sleep.
package loop

import "errors"

// ErrAlreadyRunning is returned when Run is called twice on the same Loop.
var ErrAlreadyRunning = errors.New("loop already running")
