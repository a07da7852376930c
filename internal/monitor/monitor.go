// Package monitor runs the supervising loop around the capture
// subsystem: it polls health and forces watchdog restarts, runs the
// occupancy detector on the newest frame, and persists and publishes
// observations on a fixed cadence.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KazuyukiGui/restaurant-camera-system/internal/capture"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/clock"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/detect"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/history"
)

// Capture is the slice of the capture subsystem the monitor drives.
type Capture interface {
	IsHealthy() bool
	Restart() error
	Frame() (*capture.Frame, time.Duration, bool)
	Health() capture.HealthStats
}

// Recorder persists occupancy observations.
type Recorder interface {
	Save(ctx context.Context, rec history.Record) error
}

// Publisher pushes status to the broker. Optional.
type Publisher interface {
	PublishHealth(v any) error
	PublishCrowding(v any) error
}

// Config holds the monitor collaborators and cadence.
type Config struct {
	Capture  Capture
	Detector detect.Detector
	Recorder Recorder
	// Publisher may be nil when no broker is configured.
	Publisher Publisher
	Clock     clock.Clock

	// ProcessFPS is the loop cadence in iterations per second
	// (default: 3).
	ProcessFPS float64
	// RecordInterval is how often an observation is persisted and
	// published (default: 10s).
	RecordInterval time.Duration
	// RestartBackoff is the pause after a watchdog restart before
	// health is judged again (default: 5s).
	RestartBackoff time.Duration
}

// Observation is the monitor's latest detector output, served by the
// crowding API.
type Observation struct {
	detect.Result
	Timestamp    time.Time `json:"timestamp"`
	DelaySeconds float64   `json:"delay_seconds"`
	SystemHalted bool      `json:"system_halted"`
}

// Monitor is the supervising loop. Create with New, drive with Run.
type Monitor struct {
	cfg Config
	clk clock.Clock

	mu     sync.RWMutex
	latest *Observation
}

// New validates the collaborators and returns a monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Capture == nil {
		return nil, fmt.Errorf("monitor: capture is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("monitor: detector is required")
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("monitor: recorder is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.ProcessFPS <= 0 {
		cfg.ProcessFPS = 3.0
	}
	if cfg.RecordInterval <= 0 {
		cfg.RecordInterval = 10 * time.Second
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = 5 * time.Second
	}
	return &Monitor{cfg: cfg, clk: cfg.Clock}, nil
}

// Latest returns the most recent observation, or false if the detector
// has not produced one yet.
func (m *Monitor) Latest() (Observation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Observation{}, false
	}
	return *m.latest, true
}

// Run executes the loop until ctx is cancelled. Always returns nil on
// cancellation; the monitor has no failure mode of its own.
func (m *Monitor) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / m.cfg.ProcessFPS)
	slog.Info("monitor: started",
		"process_fps", m.cfg.ProcessFPS,
		"record_interval", m.cfg.RecordInterval,
	)

	var lastRecord time.Time
	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor: stopped")
			return nil
		case <-m.clk.After(interval):
		}

		health := m.cfg.Capture.Health()
		if health.SystemHalted {
			// Terminal state: nothing to supervise anymore. Keep
			// looping so the API still serves the last observation.
			continue
		}

		if !m.cfg.Capture.IsHealthy() {
			err := m.cfg.Capture.Restart()
			switch {
			case errors.Is(err, capture.ErrHalted):
				slog.Error("monitor: capture halted during restart")
			case err != nil:
				slog.Error("monitor: watchdog restart failed", "error", err)
			default:
				slog.Warn("monitor: watchdog restart issued")
			}
			m.clk.Sleep(m.cfg.RestartBackoff)
			continue
		}

		frame, age, halted := m.cfg.Capture.Frame()
		if frame == nil {
			continue
		}

		result, err := m.cfg.Detector.Detect(frame)
		if err != nil {
			slog.Warn("monitor: detection failed", "error", err, "trace_id", frame.TraceID)
			continue
		}

		now := m.clk.Now()
		obs := Observation{
			Result:       result,
			Timestamp:    now,
			DelaySeconds: age.Seconds(),
			SystemHalted: halted,
		}
		m.mu.Lock()
		m.latest = &obs
		m.mu.Unlock()

		if now.Sub(lastRecord) >= m.cfg.RecordInterval {
			lastRecord = now
			m.record(ctx, obs, health)
		}
	}
}

// record persists one observation and publishes status. Failures are
// logged, never fatal: a broken store or broker must not stop the
// supervision of the camera.
func (m *Monitor) record(ctx context.Context, obs Observation, health capture.HealthStats) {
	err := m.cfg.Recorder.Save(ctx, history.Record{
		Timestamp:   obs.Timestamp,
		PersonCount: obs.PersonCount,
		Level:       obs.Level,
		Confidence:  obs.Confidence,
	})
	if err != nil {
		slog.Error("monitor: saving record", "error", err)
	}

	if m.cfg.Publisher == nil {
		return
	}
	if err := m.cfg.Publisher.PublishCrowding(obs); err != nil {
		slog.Warn("monitor: publishing crowding status", "error", err)
	}
	if err := m.cfg.Publisher.PublishHealth(health); err != nil {
		slog.Warn("monitor: publishing health status", "error", err)
	}
}
