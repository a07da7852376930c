// Package api serves the HTTP surface of the camera system: health,
// crowding queries against the history store, and an authenticated
// frame snapshot.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/KazuyukiGui/restaurant-camera-system/internal/capture"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/config"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/history"
	"github.com/KazuyukiGui/restaurant-camera-system/internal/monitor"
)

// CaptureStatus is the capture subsystem surface the API reads. Nil
// when capture is disabled (no stream configured).
type CaptureStatus interface {
	Health() capture.HealthStats
	Frame() (*capture.Frame, time.Duration, bool)
}

// LatestProvider serves the monitor's newest observation.
type LatestProvider interface {
	Latest() (monitor.Observation, bool)
}

// History is the record store surface the API queries.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
	Stats(ctx context.Context, since time.Time) (history.Stats, error)
	Timeline(ctx context.Context, since time.Time) ([]history.Bucket, error)
	ExportCSV(ctx context.Context, since time.Time, w io.Writer) error
}

// Config holds the API collaborators.
type Config struct {
	HTTP config.HTTPConfig
	// Capture may be nil when no stream is configured.
	Capture CaptureStatus
	Latest  LatestProvider
	History History
}

// Server exposes the REST endpoints. Create with New, mount with
// Handler, run with Serve.
type Server struct {
	cfg Config
}

// New validates the collaborators and returns a server.
func New(cfg Config) (*Server, error) {
	if cfg.Latest == nil {
		return nil, fmt.Errorf("api: latest provider is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("api: history is required")
	}
	return &Server{cfg: cfg}, nil
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/crowding", s.handleCrowding).Methods("GET")
	r.HandleFunc("/api/crowding/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/api/crowding/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/api/crowding/timeline", s.handleTimeline).Methods("GET")
	r.HandleFunc("/api/crowding/export", s.handleExport).Methods("GET")
	r.HandleFunc("/api/frame", s.requireAuth(s.handleFrame)).Methods("GET")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return corsHandler.Handler(r)
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.HTTP.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("api: listening", "addr", s.cfg.HTTP.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("api: server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	slog.Info("api: stopped")
	return nil
}

type healthResponse struct {
	CaptureEnabled bool                 `json:"capture_enabled"`
	Capture        *capture.HealthStats `json:"capture,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{CaptureEnabled: s.cfg.Capture != nil}
	status := http.StatusOK
	if s.cfg.Capture != nil {
		stats := s.cfg.Capture.Health()
		resp.Capture = &stats
		if stats.SystemHalted {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCrowding(w http.ResponseWriter, r *http.Request) {
	obs, ok := s.cfg.Latest.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no observation available yet")
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	records, err := s.cfg.History.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("api: history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "days", 1)
	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	stats, err := s.cfg.History.Stats(r.Context(), since)
	if err != nil {
		slog.Error("api: stats query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	hours := intQuery(r, "hours", 3)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	buckets, err := s.cfg.History.Timeline(r.Context(), since)
	if err != nil {
		slog.Error("api: timeline query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "timeline query failed")
		return
	}
	if buckets == nil {
		buckets = []history.Bucket{}
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "days", 1)
	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	filename := fmt.Sprintf("crowding-%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := s.cfg.History.ExportCSV(r.Context(), since, w); err != nil {
		// Headers are already out; all we can do is log.
		slog.Error("api: csv export failed", "error", err)
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Capture == nil {
		writeError(w, http.StatusServiceUnavailable, "capture is not enabled")
		return
	}
	frame, age, halted := s.cfg.Capture.Frame()
	w.Header().Set("X-Delay-Seconds", strconv.FormatFloat(age.Seconds(), 'f', 2, 64))
	w.Header().Set("X-System-Halted", strconv.FormatBool(halted))
	if frame == nil {
		writeError(w, http.StatusNotFound, "no frame available")
		return
	}

	img, err := rgbToImage(frame)
	if err != nil {
		slog.Error("api: frame conversion failed", "error", err, "trace_id", frame.TraceID)
		writeError(w, http.StatusInternalServerError, "frame conversion failed")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 85}); err != nil {
		slog.Warn("api: jpeg encode failed", "error", err)
	}
}

// requireAuth wraps a handler with HTTP basic auth using constant-time
// comparison. An empty configured password disables the endpoint
// entirely rather than leaving it open.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.HTTP.AdminPassword == "" {
			writeError(w, http.StatusServiceUnavailable, "endpoint disabled: no admin password configured")
			return
		}
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.HTTP.AdminUser)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.HTTP.AdminPassword)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="camera-system"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// rgbToImage converts a raw RGB frame into an image for JPEG encoding.
func rgbToImage(frame *capture.Frame) (image.Image, error) {
	want := frame.Width * frame.Height * 3
	if len(frame.Data) != want {
		return nil, fmt.Errorf("api: frame data is %d bytes, want %d for %dx%d RGB",
			len(frame.Data), want, frame.Width, frame.Height)
	}
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			src := (y*frame.Width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst] = frame.Data[src]
			img.Pix[dst+1] = frame.Data[src+1]
			img.Pix[dst+2] = frame.Data[src+2]
			img.Pix[dst+3] = 0xff
		}
	}
	return img, nil
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
