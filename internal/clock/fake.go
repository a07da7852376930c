package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Advance moves the fake
// time forward and fires any pending After waiters whose deadline has
// been reached. Sleep returns immediately after recording the duration;
// tests that care about waits inspect SleptDurations.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
	slept   []time.Duration
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFake returns a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that fires once the fake time has been
// advanced past d. A zero or negative d fires immediately.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, fakeWaiter{deadline: f.now.Add(d), ch: ch})
	return ch
}

// Sleep records the requested duration and returns immediately. The
// fake time is advanced by d so backoff sequences remain observable.
func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	f.slept = append(f.slept, d)
	f.mu.Unlock()
	f.Advance(d)
}

// Advance moves the fake time forward and fires matured After waiters.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.deadline.After(f.now) {
			w.ch <- f.now
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
}

// SleptDurations returns every duration passed to Sleep, in order.
func (f *Fake) SleptDurations() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.slept))
	copy(out, f.slept)
	return out
}
