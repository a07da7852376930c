package capture

import (
	"testing"
	"time"
)

func TestBackoffDelaySchedule(t *testing.T) {
	base := 1 * time.Second
	cap := 30 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // 32s capped
		{7, 30 * time.Second},
		{40, 30 * time.Second}, // shift guard
		{0, 1 * time.Second},   // clamped to attempt 1
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt, base, cap); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWindowCounterAccumulates(t *testing.T) {
	w := newWindowCounter(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		if got := w.increment(now.Add(time.Duration(i) * time.Minute)); got != i {
			t.Fatalf("increment #%d = %d, want %d", i, got, i)
		}
	}
	if got := w.value(now.Add(10 * time.Minute)); got != 5 {
		t.Errorf("value() = %d, want 5", got)
	}
}

func TestWindowCounterResetsAfterWindow(t *testing.T) {
	w := newWindowCounter(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w.increment(now)
	w.increment(now.Add(time.Minute))
	w.increment(now.Add(2 * time.Minute))

	// 59 minutes after the window opened: still the same window.
	if got := w.increment(now.Add(59 * time.Minute)); got != 4 {
		t.Errorf("increment inside window = %d, want 4", got)
	}

	// One hour after the window opened: fresh window, fresh count.
	if got := w.increment(now.Add(time.Hour)); got != 1 {
		t.Errorf("increment after window elapsed = %d, want 1", got)
	}
	if got := w.value(now.Add(time.Hour)); got != 1 {
		t.Errorf("value in new window = %d, want 1", got)
	}
}

func TestWindowCounterValueExpires(t *testing.T) {
	w := newWindowCounter(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w.increment(now)
	if got := w.value(now.Add(2 * time.Hour)); got != 0 {
		t.Errorf("value after expiry = %d, want 0", got)
	}
}
