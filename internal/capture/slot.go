package capture

import (
	"sync"
	"time"
)

// frameSlot is the single-frame publication cell between the
// materialization loop and consumers. It holds at most one frame;
// every publish overwrites the previous frame unconditionally, so
// consumers always observe the newest frame and never a queue.
//
// The slot has its own mutex and is never locked together with the
// handle lock.
type frameSlot struct {
	mu         sync.Mutex
	frame      *Frame
	capturedAt time.Time
}

// publish stores a frame and its capture time, replacing whatever was
// there before.
func (s *frameSlot) publish(f Frame, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = &f
	s.capturedAt = at
}

// get returns the current frame and its capture time, or nil if no
// frame has been published since the last reset.
func (s *frameSlot) get() (*Frame, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.capturedAt
}

// reset clears the slot. Used when a new session starts so health
// checks do not judge staleness against a frame from a previous session.
func (s *frameSlot) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = nil
	s.capturedAt = time.Time{}
}
