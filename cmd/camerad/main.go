// Command camerad runs the restaurant camera daemon: resilient RTSP
// capture, occupancy detection, SQLite history, the HTTP API, and
// optional MQTT status publishing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/KazuyukiGui/restaurant-camera-system/internal/api"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/capture"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/config"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/detect"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/emitter"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/history"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/monitor"
)

func main() {
	if err := run(); err != nil {
		slog.Error("camerad: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "path to YAML configuration file")
		debug      = pflag.Bool("debug", false, "enable debug logging")
	)
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	slog.Info("camerad: starting",
		"capture_enabled", cfg.CaptureEnabled(),
		"listen", cfg.HTTP.Listen,
		"database", cfg.Recording.DatabasePath,
	)

	store, err := history.Open(cfg.Recording.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var pub monitor.Publisher
	if cfg.MQTT.Broker != "" {
		em := emitter.New(cfg.MQTT)
		if err := em.Connect(); err != nil {
			// The client keeps retrying in the background; publishes
			// fail until it succeeds.
			slog.Warn("camerad: mqtt broker not reachable yet", "error", err)
		}
		defer em.Disconnect()
		pub = em
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	apiCfg := api.Config{HTTP: cfg.HTTP, History: store}

	if cfg.CaptureEnabled() {
		dialer := capture.NewGstDialer(capture.GstConfig{
			Width:     cfg.Camera.Width,
			Height:    cfg.Camera.Height,
			TargetFPS: cfg.Camera.ProcessFPS,
			LatencyMS: cfg.Camera.LatencyMS,
		})
		cap, err := capture.New(capture.DefaultConfig(cfg.Camera.RTSPURL, dialer))
		if err != nil {
			return err
		}
		if err := cap.Start(); err != nil {
			return fmt.Errorf("camerad: starting capture: %w", err)
		}
		defer cap.Stop()

		mon, err := monitor.New(monitor.Config{
			Capture:        cap,
			Detector:       detect.Null(),
			Recorder:       store,
			Publisher:      pub,
			ProcessFPS:     cfg.Camera.ProcessFPS,
			RecordInterval: time.Duration(cfg.Recording.IntervalS * float64(time.Second)),
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return mon.Run(ctx) })

		apiCfg.Capture = cap
		apiCfg.Latest = mon
	} else {
		slog.Warn("camerad: no rtsp url configured, running without capture")
		apiCfg.Latest = noObservations{}
	}

	srv, err := api.New(apiCfg)
	if err != nil {
		return err
	}
	g.Go(func() error { return srv.Serve(ctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("camerad: shutdown complete")
	return nil
}

// noObservations stands in for the monitor when capture is disabled.
type noObservations struct{}

func (noObservations) Latest() (monitor.Observation, bool) {
	return monitor.Observation{}, false
}
