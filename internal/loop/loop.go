package loop

import (
	"context"
	"sync/atomic"
	"time"
)

// Scheduler runs closures on a single control goroutine and schedules
// timers whose callbacks are delivered on that same goroutine.
type Scheduler interface {
	// Now returns the scheduler's current time.
	Now() time.Time

	// Post queues fn to run on the control goroutine. It never blocks.
	Post(fn func())

	// AfterFunc runs fn on the control goroutine once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer

	// Every runs fn on the control goroutine each time d elapses.
	Every(d time.Duration, fn func()) Timer
}

// Timer is a cancellable scheduled callback. Stop guarantees the callback
// will not run afterwards, even if its tick was already queued.
type Timer interface {
	Stop()
}

// Loop is the production Scheduler backed by wall-clock timers.
type Loop struct {
	queue   *Queue[func()]
	running atomic.Bool
}

// New creates a Loop. Call Run to start draining it.
func New() *Loop {
	return &Loop{
		queue: NewQueue[func()](64),
	}
}

// Run executes posted closures until ctx is cancelled. Closures posted
// before cancellation are drained first.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	stop := context.AfterFunc(ctx, l.queue.Close)
	defer stop()

	for {
		fn, ok := l.queue.Pop()
		if !ok {
			return ctx.Err()
		}
		fn()
	}
}

// Now returns the wall-clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Post queues fn. Closures posted after shutdown are dropped.
func (l *Loop) Post(fn func()) {
	l.queue.Push(fn)
}

// Pending returns the number of closures waiting to run.
func (l *Loop) Pending() int {
	return l.queue.Len()
}

// AfterFunc schedules a one-shot callback.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &wallTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if !t.stopped.Load() {
				fn()
			}
		})
	})
	return t
}

// Every schedules a periodic callback.
func (l *Loop) Every(d time.Duration, fn func()) Timer {
	t := &wallTicker{done: make(chan struct{})}
	ticker := time.NewTicker(d)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				l.Post(func() {
					if !t.stopped.Load() {
						fn()
					}
				})
			}
		}
	}()

	return t
}

type wallTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (t *wallTimer) Stop() {
	t.stopped.Store(true)
	t.timer.Stop()
}

type wallTicker struct {
	done    chan struct{}
	stopped atomic.Bool
}

func (t *wallTicker) Stop() {
	if t.stopped.CompareAndSwap(false, true) {
		close(t.done)
	}
}
