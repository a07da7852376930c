package capture

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GstConfig configures the GStreamer-backed decoder sessions produced
// by NewGstDialer.
type GstConfig struct {
	// Width and Height of the decoded frames (default: 640x480).
	Width  int
	Height int
	// TargetFPS throttles the stream via videorate (default: 5.0).
	TargetFPS float64
	// LatencyMS is the rtspsrc jitter buffer in milliseconds (default: 200).
	LatencyMS int
	// GrabTimeout bounds how long Grab waits for the next sample
	// (default: 1s).
	GrabTimeout time.Duration
}

func (c GstConfig) withDefaults() GstConfig {
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.TargetFPS <= 0 {
		c.TargetFPS = 5.0
	}
	if c.LatencyMS <= 0 {
		c.LatencyMS = 200
	}
	if c.GrabTimeout <= 0 {
		c.GrabTimeout = 1 * time.Second
	}
	return c
}

// gstHandle adapts a GStreamer pipeline to the Handle interface. The
// appsink new-sample callback pushes decoded frames into a capacity-1
// channel; Grab performs a bounded wait on that channel (surfacing bus
// errors instead when the pipeline has failed) and Retrieve hands over
// the sample Grab staged.
type gstHandle struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	bus      *gst.Bus

	frames  chan Frame
	pending *Frame

	seq     uint64
	dropped uint64

	cfg GstConfig
}

// NewGstDialer returns a Dialer that opens GStreamer decoder sessions
// for RTSP streams.
//
// Pipeline structure:
//
//	rtspsrc → rtph264depay → avdec_h264 → videoconvert → videoscale →
//	videorate → capsfilter → appsink
//
// The appsink keeps only the newest buffer (max-buffers=1, drop=true)
// so a slow consumer never builds a backlog inside the pipeline.
func NewGstDialer(cfg GstConfig) Dialer {
	cfg = cfg.withDefaults()
	return func(url string) (Handle, error) {
		return openGstHandle(url, cfg)
	}
}

func openGstHandle(url string, cfg GstConfig) (*gstHandle, error) {
	// Safe to call multiple times.
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("capture: create pipeline: %w", err)
	}

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("capture: create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", url)
	rtspsrc.SetProperty("protocols", 4) // TCP only
	rtspsrc.SetProperty("latency", cfg.LatencyMS)
	rtspsrc.SetProperty("tcp-timeout", uint64(10000000)) // 10s

	depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return nil, fmt.Errorf("capture: create rtph264depay: %w", err)
	}
	depay.SetProperty("request-keyframe", true)

	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return nil, fmt.Errorf("capture: create avdec_h264: %w", err)
	}
	decoder.SetProperty("max-threads", 0)
	decoder.SetProperty("output-corrupt", false)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("capture: create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("capture: create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("capture: create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("capture: create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		buildFramerateCaps(cfg.Width, cfg.Height, cfg.TargetFPS)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("capture: create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(rtspsrc, depay, decoder, converter, scaler, videorate, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(depay, decoder, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("capture: link pipeline elements: %w", err)
	}

	// rtspsrc pads are dynamic; link to the depayloader once they appear.
	rtspsrc.Connect("pad-added", func(src *gst.Element, pad *gst.Pad) {
		sinkPad := depay.GetStaticPad("sink")
		if sinkPad == nil {
			slog.Error("capture: no sink pad on rtph264depay")
			return
		}
		if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Error("capture: linking rtspsrc pad failed",
				"pad", pad.GetName(),
				"ret", ret,
			)
			return
		}
		slog.Debug("capture: rtspsrc pad linked", "pad", pad.GetName())
	})

	h := &gstHandle{
		pipeline: pipeline,
		sink:     appsink,
		bus:      pipeline.GetPipelineBus(),
		frames:   make(chan Frame, 1),
		cfg:      cfg,
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: h.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("capture: start pipeline: %w", err)
	}

	slog.Info("capture: pipeline playing",
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"target_fps", cfg.TargetFPS,
	)
	return h, nil
}

// onNewSample copies the decoded buffer out of GStreamer and offers it
// to the frame channel. A full channel means the consumer has not
// grabbed the previous frame yet; the sample is dropped, matching the
// appsink's own newest-frame-wins behavior.
func (h *gstHandle) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("capture: pull sample failed, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("capture: sample had no buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("capture: empty buffer received")
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	frame := Frame{
		Seq:       atomic.AddUint64(&h.seq, 1),
		Timestamp: time.Now(),
		Width:     h.cfg.Width,
		Height:    h.cfg.Height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	select {
	case h.frames <- frame:
	default:
		atomic.AddUint64(&h.dropped, 1)
		slog.Debug("capture: dropping frame, consumer behind", "seq", frame.Seq)
	}
	return gst.FlowOK
}

// Grab waits for the next decoded frame, bounded by the grab timeout.
// Pipeline bus errors are surfaced here, classified, so the caller's
// failure counting sees them as grab failures.
func (h *gstHandle) Grab() error {
	deadline := time.After(h.cfg.GrabTimeout)
	for {
		select {
		case f := <-h.frames:
			h.pending = &f
			return nil
		case <-deadline:
			return fmt.Errorf("capture: no sample within %s", h.cfg.GrabTimeout)
		default:
		}

		// Interleave short bus polls so pipeline failures surface as
		// grab errors instead of silent timeouts.
		msg := h.bus.TimedPop(10 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return fmt.Errorf("capture: end of stream")
		case gst.MessageError:
			gerr := msg.ParseError()
			category := classifyStreamError(gerr.Error(), gerr.DebugString())
			slog.Error("capture: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
			)
			return fmt.Errorf("capture: pipeline error [%s]: %s", category, gerr.Error())
		}
	}
}

// Retrieve hands over the frame staged by the last successful Grab.
func (h *gstHandle) Retrieve() (Frame, error) {
	if h.pending == nil {
		return Frame{}, fmt.Errorf("capture: no grabbed frame to retrieve")
	}
	f := *h.pending
	h.pending = nil
	return f, nil
}

// Close tears the pipeline down. Safe to call on an already-failed
// pipeline.
func (h *gstHandle) Close() error {
	if h.pipeline == nil {
		return nil
	}
	if err := h.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("capture: stop pipeline: %w", err)
	}
	return nil
}

// buildFramerateCaps builds the appsink caps string. Fractional rates
// below 1.0 are expressed as 1/N (0.5 → 1/2).
func buildFramerateCaps(width, height int, fps float64) string {
	numerator, denominator := 1, 1
	if fps < 1.0 {
		denominator = int(1.0 / fps)
	} else {
		numerator = int(fps)
	}
	return fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d",
		width, height, numerator, denominator,
	)
}
