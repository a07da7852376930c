package capture

import "time"

// Frame is a single decoded video frame with metadata.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the decoder session.
	Seq uint64
	// Timestamp is when the frame was decoded.
	Timestamp time.Time
	// Width in pixels.
	Width int
	// Height in pixels.
	Height int
	// Data contains the raw frame bytes (RGB, row-major).
	Data []byte
	// TraceID is a unique identifier for correlating a frame across
	// the detector, history, and API layers.
	TraceID string
}

// Handle is a replaceable decoder session. The subsystem owns exactly
// one Handle at a time, guarded by its handle lock, and replaces it
// wholesale on reconnect rather than mutating it in place.
//
// Implementations must tolerate Grab and Retrieve being called from
// different goroutines, but never concurrently (the caller serializes
// access under the handle lock). Grab and Retrieve may block on native
// I/O; a hung call is recovered by the external watchdog restart, not
// by cancellation.
type Handle interface {
	// Grab advances the decoder's internal buffer to the next available
	// unit without decoding it. Called in a tight loop to keep the
	// buffer drained so Retrieve always yields the freshest unit.
	Grab() error

	// Retrieve decodes the most recently grabbed unit into a Frame.
	Retrieve() (Frame, error)

	// Close releases the decoder session. Safe to call once; the
	// subsystem never reuses a closed Handle.
	Close() error
}

// Dialer opens a new Handle for the given stream address. Production
// injects the GStreamer-backed dialer; tests inject fakes.
type Dialer func(url string) (Handle, error)
