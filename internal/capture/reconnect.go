package capture

import "time"

// windowCounter counts events inside a rolling window. The window does
// not slide continuously: the first event after the window elapses
// resets the count and opens a fresh window anchored at that event.
// Both the reconnection budget and the restart budget use this shape.
//
// Callers pass the current time explicitly so the counter stays free of
// clock plumbing; synchronization is the caller's responsibility.
type windowCounter struct {
	window time.Duration
	start  time.Time
	count  int
}

func newWindowCounter(window time.Duration) *windowCounter {
	return &windowCounter{window: window}
}

// increment records one event at time now and returns the count of
// events in the current window, including this one. If the previous
// window has elapsed, the counter resets before counting.
func (w *windowCounter) increment(now time.Time) int {
	if w.start.IsZero() || now.Sub(w.start) >= w.window {
		w.start = now
		w.count = 0
	}
	w.count++
	return w.count
}

// value returns the count of events in the current window without
// recording anything. Events from an already-elapsed window report zero.
func (w *windowCounter) value(now time.Time) int {
	if w.start.IsZero() || now.Sub(w.start) >= w.window {
		return 0
	}
	return w.count
}

// backoffDelay computes the exponential backoff wait before reconnection
// attempt n within the current window.
//
// Formula: delay = base * 2^(n-1), capped at max.
//
// With base=1s, max=30s the schedule is:
//   - Attempt 1: 1s
//   - Attempt 2: 2s
//   - Attempt 3: 4s
//   - Attempt 4: 8s
//   - Attempt 5: 16s
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Guard the shift: past attempt 6 with the default base the cap
	// always wins, and large shifts would overflow.
	if attempt > 32 {
		return max
	}
	delay := base * time.Duration(1<<uint(attempt-1))
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}
