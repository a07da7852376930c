package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KazuyukiGui/restaurant-camera-system/internal/clock"
)

// ErrHalted is returned by Start and Restart once the subsystem has
// exhausted a recovery budget. Halted is terminal for the process:
// recovery requires a supervisor-level restart, not another Start call.
var ErrHalted = errors.New("capture: subsystem halted")

var errNoHandle = errors.New("capture: no active stream handle")

// Config carries the stream address, the session dialer, and the
// recovery policy constants. Zero values are filled from DefaultConfig.
type Config struct {
	// URL is the RTSP stream address. Required.
	URL string
	// Dialer opens decoder sessions. Required.
	Dialer Dialer
	// Clock is the time source. Defaults to the real clock.
	Clock clock.Clock

	// PollInterval is the acquisition loop cadence (default: 10ms).
	PollInterval time.Duration
	// GrabFailureThreshold is the count of consecutive grab failures
	// that triggers a reconnect (default: 30).
	GrabFailureThreshold int
	// SignalTimeout bounds the materialization loop's wait for the
	// frame-ready signal (default: 100ms).
	SignalTimeout time.Duration
	// ReadIntervalThreshold is how long materialization may stall
	// before a reconnect is forced (default: 5s).
	ReadIntervalThreshold time.Duration
	// WatchdogTimeout is the frame age beyond which IsHealthy reports
	// false (default: 10s).
	WatchdogTimeout time.Duration

	// MaxReconnects is the reconnection budget per window (default: 5).
	MaxReconnects int
	// MaxWatchdogRestarts is the restart budget per window (default: 3).
	MaxWatchdogRestarts int
	// BudgetWindow is the rolling window for both budgets (default: 1h).
	BudgetWindow time.Duration
	// BackoffBase is the first reconnect delay (default: 1s).
	BackoffBase time.Duration
	// BackoffCap bounds the reconnect delay (default: 30s).
	BackoffCap time.Duration

	// StopTimeout bounds the wait for loop goroutines on Stop (default: 2s).
	StopTimeout time.Duration
	// RestartDelay is the pause between stop and start during a
	// watchdog restart (default: 1s).
	RestartDelay time.Duration
}

// DefaultConfig returns the production recovery policy for the given
// stream address and dialer.
func DefaultConfig(url string, dialer Dialer) Config {
	return Config{
		URL:                   url,
		Dialer:                dialer,
		Clock:                 clock.Real(),
		PollInterval:          10 * time.Millisecond,
		GrabFailureThreshold:  30,
		SignalTimeout:         100 * time.Millisecond,
		ReadIntervalThreshold: 5 * time.Second,
		WatchdogTimeout:       10 * time.Second,
		MaxReconnects:         5,
		MaxWatchdogRestarts:   3,
		BudgetWindow:          time.Hour,
		BackoffBase:           1 * time.Second,
		BackoffCap:            30 * time.Second,
		StopTimeout:           2 * time.Second,
		RestartDelay:          1 * time.Second,
	}
}

// StreamCapture acquires frames from an RTSP stream and keeps the
// newest one available through a single-frame slot. Two goroutines run
// while started: the acquisition loop drains the decoder buffer at a
// fixed cadence, and the materialization loop decodes and publishes
// frames when signalled. Failures escalate through budgeted,
// exponentially backed-off reconnects; once a budget is exhausted the
// subsystem halts and stays halted.
type StreamCapture struct {
	cfg Config
	clk clock.Clock

	// handleMu guards the decoder session. Never held together with
	// the slot mutex.
	handleMu sync.Mutex
	handle   Handle

	slot       frameSlot
	frameReady chan struct{}

	// lastMu guards lastMaterialized, the staleness reference point.
	lastMu           sync.Mutex
	lastMaterialized time.Time

	// stateMu guards lifecycle transitions and the budget counters.
	stateMu         sync.Mutex
	running         bool
	cancel          context.CancelFunc
	done            chan struct{}
	reconnectWindow *windowCounter
	restartWindow   *windowCounter

	halted       atomic.Bool
	reconnecting atomic.Bool
}

// New validates the configuration and returns a stopped subsystem.
func New(cfg Config) (*StreamCapture, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("capture: stream url is required")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("capture: dialer is required")
	}
	def := DefaultConfig(cfg.URL, cfg.Dialer)
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.GrabFailureThreshold <= 0 {
		cfg.GrabFailureThreshold = def.GrabFailureThreshold
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = def.SignalTimeout
	}
	if cfg.ReadIntervalThreshold <= 0 {
		cfg.ReadIntervalThreshold = def.ReadIntervalThreshold
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = def.WatchdogTimeout
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}
	if cfg.MaxWatchdogRestarts <= 0 {
		cfg.MaxWatchdogRestarts = def.MaxWatchdogRestarts
	}
	if cfg.BudgetWindow <= 0 {
		cfg.BudgetWindow = def.BudgetWindow
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}

	return &StreamCapture{
		cfg:             cfg,
		clk:             cfg.Clock,
		frameReady:      make(chan struct{}, 1),
		reconnectWindow: newWindowCounter(cfg.BudgetWindow),
		restartWindow:   newWindowCounter(cfg.BudgetWindow),
	}, nil
}

// Start dials the stream and launches the acquisition and
// materialization loops. Idempotent while running. Returns ErrHalted
// once the subsystem has halted.
func (s *StreamCapture) Start() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.halted.Load() {
		return ErrHalted
	}
	if s.running {
		return nil
	}

	h, err := s.cfg.Dialer(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("capture: open stream: %w", err)
	}

	s.handleMu.Lock()
	s.handle = h
	s.handleMu.Unlock()

	s.slot.reset()
	s.markMaterialized(s.clk.Now())

	// Drain a ready signal left over from a previous session.
	select {
	case <-s.frameReady:
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.acquisitionLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.materializationLoop(ctx)
	}()
	done := s.done
	go func() {
		wg.Wait()
		close(done)
	}()

	s.running = true
	slog.Info("capture: started", "url", s.cfg.URL)
	return nil
}

// Stop halts both loops, joins them with a bounded wait, and closes the
// decoder session. Idempotent; always succeeds. A session left behind
// by a halt is closed here too, so Stop on a halted subsystem still
// releases the stream.
func (s *StreamCapture) Stop() error {
	s.stateMu.Lock()
	if !s.running {
		s.stateMu.Unlock()
		s.closeHandle()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.stateMu.Unlock()

	cancel()
	select {
	case <-done:
	case <-s.clk.After(s.cfg.StopTimeout):
		slog.Warn("capture: loops did not join before timeout", "timeout", s.cfg.StopTimeout)
	}

	s.closeHandle()

	slog.Info("capture: stopped")
	return nil
}

// closeHandle closes and clears the decoder session if one is
// installed. Safe to call with no session.
func (s *StreamCapture) closeHandle() {
	s.handleMu.Lock()
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			slog.Warn("capture: closing stream handle", "error", err)
		}
		s.handle = nil
	}
	s.handleMu.Unlock()
}

// Restart performs a budgeted stop-then-start cycle on behalf of the
// watchdog. Exceeding the restart budget halts the subsystem without
// touching the running loops, and further Restart calls keep returning
// ErrHalted.
func (s *StreamCapture) Restart() error {
	s.stateMu.Lock()
	if s.halted.Load() {
		s.stateMu.Unlock()
		return ErrHalted
	}
	now := s.clk.Now()
	if s.restartWindow.value(now) >= s.cfg.MaxWatchdogRestarts {
		s.halted.Store(true)
		s.stateMu.Unlock()
		slog.Error("capture: restart budget exhausted, halting",
			"budget", s.cfg.MaxWatchdogRestarts,
			"window", s.cfg.BudgetWindow,
		)
		return ErrHalted
	}
	attempt := s.restartWindow.increment(now)
	s.stateMu.Unlock()

	slog.Warn("capture: watchdog restart",
		"attempt", attempt,
		"budget", s.cfg.MaxWatchdogRestarts,
	)

	if err := s.Stop(); err != nil {
		return err
	}
	s.clk.Sleep(s.cfg.RestartDelay)
	return s.Start()
}

// acquisitionLoop grabs from the decoder at a fixed cadence to keep its
// buffer drained, counts consecutive failures, and escalates to a
// reconnect when the threshold is crossed. A successful grab resets the
// counter and signals the materialization loop.
func (s *StreamCapture) acquisitionLoop(ctx context.Context) {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clk.After(s.cfg.PollInterval):
		}

		s.handleMu.Lock()
		err := errNoHandle
		if s.handle != nil {
			err = s.handle.Grab()
		}
		s.handleMu.Unlock()

		if err == nil {
			failures = 0
			// Edge-triggered signal; a pending signal already covers
			// this frame, so a full channel is not an error.
			select {
			case s.frameReady <- struct{}{}:
			default:
			}
			continue
		}

		failures++
		if failures > s.cfg.GrabFailureThreshold {
			slog.Warn("capture: consecutive grab failures crossed threshold",
				"failures", failures,
				"threshold", s.cfg.GrabFailureThreshold,
				"error", err,
				"category", classifyStreamError(err.Error(), "").String(),
			)
			failures = 0
			if !s.attemptReconnect(ctx) {
				return
			}
		}
	}
}

// materializationLoop waits for the frame-ready signal (bounded by the
// signal timeout), decodes the pending frame, and publishes it to the
// slot. Every wake also checks materialization staleness and escalates
// to a reconnect when the stream has been silent too long.
func (s *StreamCapture) materializationLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.frameReady:
			s.handleMu.Lock()
			var f Frame
			err := errNoHandle
			if s.handle != nil {
				f, err = s.handle.Retrieve()
			}
			s.handleMu.Unlock()

			if err != nil {
				slog.Debug("capture: retrieve failed", "error", err)
				break
			}
			now := s.clk.Now()
			s.slot.publish(f, now)
			s.markMaterialized(now)
		case <-s.clk.After(s.cfg.SignalTimeout):
		}

		if s.reconnecting.Load() {
			continue
		}
		stale := s.clk.Now().Sub(s.lastMaterializedAt())
		if stale > s.cfg.ReadIntervalThreshold {
			slog.Warn("capture: no frame materialized recently",
				"stale", stale,
				"threshold", s.cfg.ReadIntervalThreshold,
			)
			if !s.attemptReconnect(ctx) {
				return
			}
		}
	}
}

// attemptReconnect replaces the decoder session under the budgeted
// exponential backoff policy. Each attempt, including a failed redial,
// consumes one budget slot; exhausting the budget halts the subsystem
// and releases whatever session is still installed. Returns false when
// the caller's loop should exit (halted or cancelled). If another
// reconnect is already in flight the call is a no-op and reports
// success.
func (s *StreamCapture) attemptReconnect(ctx context.Context) bool {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return true
	}
	defer s.reconnecting.Store(false)

	for {
		s.stateMu.Lock()
		now := s.clk.Now()
		if s.reconnectWindow.value(now) >= s.cfg.MaxReconnects {
			s.halted.Store(true)
			s.running = false
			cancel := s.cancel
			s.stateMu.Unlock()
			slog.Error("capture: reconnect budget exhausted, halting",
				"budget", s.cfg.MaxReconnects,
				"window", s.cfg.BudgetWindow,
			)
			cancel()
			// The session installed by the last successful reconnect
			// must not keep pulling the stream for a halted subsystem.
			s.closeHandle()
			return false
		}
		attempt := s.reconnectWindow.increment(now)
		s.stateMu.Unlock()

		// Release the dead session before the wait so its socket and
		// decoder are gone during the backoff.
		s.closeHandle()

		delay := backoffDelay(attempt, s.cfg.BackoffBase, s.cfg.BackoffCap)
		slog.Warn("capture: reconnecting",
			"attempt", attempt,
			"budget", s.cfg.MaxReconnects,
			"delay", delay,
		)
		select {
		case <-ctx.Done():
			return false
		case <-s.clk.After(delay):
		}

		s.handleMu.Lock()
		// Stop may have won the race during the backoff wait; do not
		// install a handle it will never close.
		if ctx.Err() != nil {
			s.handleMu.Unlock()
			return false
		}
		h, err := s.cfg.Dialer(s.cfg.URL)
		if err == nil {
			s.handle = h
		}
		s.handleMu.Unlock()

		if err != nil {
			slog.Error("capture: redial failed",
				"attempt", attempt,
				"error", err,
				"category", classifyStreamError(err.Error(), "").String(),
			)
			continue
		}

		s.markMaterialized(s.clk.Now())
		slog.Info("capture: reconnected", "attempt", attempt)
		return true
	}
}

func (s *StreamCapture) markMaterialized(t time.Time) {
	s.lastMu.Lock()
	s.lastMaterialized = t
	s.lastMu.Unlock()
}

func (s *StreamCapture) lastMaterializedAt() time.Time {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastMaterialized
}
