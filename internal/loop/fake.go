package loop

import (
	"sort"
	"sync"
	"time"
)

// Fake is a virtual-time Scheduler for tests. Posted closures run when the
// test calls Flush or Advance, always on the calling goroutine.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	posted []func()
	timers []*fakeTimer
	seq    int
}

// NewFake creates a Fake scheduler starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

type fakeTimer struct {
	f       *Fake
	when    time.Time
	period  time.Duration // 0 for one-shot
	fn      func()
	seq     int
	stopped bool
}

func (t *fakeTimer) Stop() {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.stopped = true
}

// Now returns the virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Post queues fn until the next Flush.
func (f *Fake) Post(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, fn)
}

// AfterFunc schedules fn at now+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.schedule(d, 0, fn)
}

// Every schedules fn at now+d, now+2d, ...
func (f *Fake) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Nanosecond
	}
	return f.schedule(d, d, fn)
}

func (f *Fake) schedule(d, period time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{
		f:      f,
		when:   f.now.Add(d),
		period: period,
		fn:     fn,
		seq:    f.seq,
	}
	f.timers = append(f.timers, t)
	return t
}

// Flush runs posted closures, including ones they post, until none remain.
func (f *Fake) Flush() {
	for {
		f.mu.Lock()
		if len(f.posted) == 0 {
			f.mu.Unlock()
			return
		}
		fn := f.posted[0]
		f.posted = f.posted[1:]
		f.mu.Unlock()

		fn()
	}
}

// Advance moves virtual time forward by d, firing due timers in order and
// flushing posted closures after each one.
func (f *Fake) Advance(d time.Duration) {
	f.Flush()

	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		t := f.nextDueLocked(target)
		if t == nil {
			f.now = target
			f.mu.Unlock()
			break
		}
		f.now = t.when
		if t.period > 0 {
			t.when = t.when.Add(t.period)
		} else {
			t.stopped = true
		}
		fn := t.fn
		f.mu.Unlock()

		fn()
		f.Flush()
	}

	f.Flush()
}

// ActiveTimers returns the number of timers that can still fire.
func (f *Fake) ActiveTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneLocked()
	return len(f.timers)
}

func (f *Fake) nextDueLocked(target time.Time) *fakeTimer {
	f.pruneLocked()
	if len(f.timers) == 0 {
		return nil
	}
	sort.SliceStable(f.timers, func(i, j int) bool {
		if f.timers[i].when.Equal(f.timers[j].when) {
			return f.timers[i].seq < f.timers[j].seq
		}
		return f.timers[i].when.Before(f.timers[j].when)
	})
	if f.timers[0].when.After(target) {
		return nil
	}
	return f.timers[0]
}

func (f *Fake) pruneLocked() {
	live := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(f.timers); i++ {
		f.timers[i] = nil
	}
	f.timers = live
}
