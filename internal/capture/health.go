package capture

import "time"

// State is a coarse view of the subsystem for logs and the API. It is
// derived at query time from the lifecycle flags and frame freshness,
// never stored.
type State int

const (
	StateStopped State = iota
	StateConnecting
	StateStreaming
	StateDegraded
	StateHalted
)

func (st State) String() string {
	switch st {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// HealthStats is the health snapshot served by the API and published
// over MQTT. DelaySeconds is computed at the moment of the query from
// the newest frame's capture time, so a stalled stream reports a
// growing delay instead of the last value seen before the stall. The
// counts cover the current rolling budget window, so they fall back to
// zero once the window expires.
type HealthStats struct {
	IsHealthy            bool    `json:"is_healthy"`
	SystemHalted         bool    `json:"system_halted"`
	DelaySeconds         float64 `json:"delay_seconds"`
	ReconnectCount       int     `json:"reconnect_count"`
	WatchdogRestartCount int     `json:"watchdog_restart_count"`
	State                string  `json:"state"`
}

// IsHealthy reports whether the subsystem is delivering frames. Halted
// is always unhealthy. Before the first frame of a session arrives the
// subsystem is given the benefit of the doubt; after that, a frame
// older than the watchdog timeout is unhealthy.
func (s *StreamCapture) IsHealthy() bool {
	if s.halted.Load() {
		return false
	}
	frame, capturedAt := s.slot.get()
	if frame == nil {
		return true
	}
	return s.clk.Now().Sub(capturedAt) <= s.cfg.WatchdogTimeout
}

// Frame returns the newest published frame, its age, and whether the
// subsystem is halted. The frame pointer is nil when nothing has been
// published in the current session.
func (s *StreamCapture) Frame() (*Frame, time.Duration, bool) {
	frame, capturedAt := s.slot.get()
	var age time.Duration
	if frame != nil {
		age = s.clk.Now().Sub(capturedAt)
	}
	return frame, age, s.halted.Load()
}

// Health returns the current health snapshot.
func (s *StreamCapture) Health() HealthStats {
	_, age, halted := s.Frame()
	now := s.clk.Now()
	s.stateMu.Lock()
	reconnects := s.reconnectWindow.value(now)
	restarts := s.restartWindow.value(now)
	s.stateMu.Unlock()
	return HealthStats{
		IsHealthy:            s.IsHealthy(),
		SystemHalted:         halted,
		DelaySeconds:         age.Seconds(),
		ReconnectCount:       reconnects,
		WatchdogRestartCount: restarts,
		State:                s.State().String(),
	}
}

// State derives the coarse subsystem state.
func (s *StreamCapture) State() State {
	if s.halted.Load() {
		return StateHalted
	}
	s.stateMu.Lock()
	running := s.running
	s.stateMu.Unlock()
	if !running {
		return StateStopped
	}
	if s.reconnecting.Load() {
		return StateDegraded
	}
	frame, capturedAt := s.slot.get()
	if frame == nil {
		return StateConnecting
	}
	if s.clk.Now().Sub(capturedAt) > s.cfg.WatchdogTimeout {
		return StateDegraded
	}
	return StateStreaming
}
