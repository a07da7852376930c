package capture

import (
	"sync"
	"testing"
	"time"
)

func TestFrameSlotOverwrites(t *testing.T) {
	var s frameSlot
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if f, _ := s.get(); f != nil {
		t.Fatal("empty slot returned a frame")
	}

	s.publish(Frame{Seq: 1}, t0)
	s.publish(Frame{Seq: 2}, t0.Add(time.Second))

	f, at := s.get()
	if f == nil || f.Seq != 2 {
		t.Fatalf("get() = %+v, want frame with Seq 2", f)
	}
	if !at.Equal(t0.Add(time.Second)) {
		t.Errorf("capturedAt = %v, want %v", at, t0.Add(time.Second))
	}
}

func TestFrameSlotReset(t *testing.T) {
	var s frameSlot
	s.publish(Frame{Seq: 1}, time.Now())
	s.reset()

	f, at := s.get()
	if f != nil {
		t.Error("slot still holds a frame after reset")
	}
	if !at.IsZero() {
		t.Error("capturedAt not zeroed after reset")
	}
}

func TestFrameSlotConcurrentPublish(t *testing.T) {
	var s frameSlot
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.publish(Frame{Seq: seq}, time.Now())
				s.get()
			}
		}(uint64(i))
	}
	wg.Wait()

	if f, _ := s.get(); f == nil {
		t.Error("slot empty after concurrent publishes")
	}
}
