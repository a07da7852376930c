package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
camera:
  rtsp_url: rtsp://camera.local:8554/stream
  process_fps: 5
recording:
  interval_s: 30
  database_path: /var/lib/camera/history.db
http:
  listen: ":9000"
  admin_user: ops
  admin_password: secret
mqtt:
  broker: tcp://broker.local:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Camera.RTSPURL != "rtsp://camera.local:8554/stream" {
		t.Errorf("RTSPURL = %q", cfg.Camera.RTSPURL)
	}
	if !cfg.CaptureEnabled() {
		t.Error("CaptureEnabled() = false, want true")
	}
	if cfg.Camera.ProcessFPS != 5 {
		t.Errorf("ProcessFPS = %v, want 5", cfg.Camera.ProcessFPS)
	}
	if cfg.Recording.IntervalS != 30 {
		t.Errorf("IntervalS = %v, want 30", cfg.Recording.IntervalS)
	}
	if cfg.HTTP.Listen != ":9000" {
		t.Errorf("Listen = %q, want :9000", cfg.HTTP.Listen)
	}
	// MQTT defaults filled because a broker is set.
	if cfg.MQTT.Topics.Health != "camera-system/health" {
		t.Errorf("health topic = %q", cfg.MQTT.Topics.Health)
	}
	if cfg.MQTT.Topics.Crowding != "camera-system/crowding" {
		t.Errorf("crowding topic = %q", cfg.MQTT.Topics.Crowding)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CaptureEnabled() {
		t.Error("CaptureEnabled() = true with no rtsp url, want false")
	}
	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Errorf("resolution = %dx%d, want 640x480", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Camera.ProcessFPS != 3.0 {
		t.Errorf("ProcessFPS = %v, want 3.0", cfg.Camera.ProcessFPS)
	}
	if cfg.Recording.IntervalS != 10.0 {
		t.Errorf("IntervalS = %v, want 10.0", cfg.Recording.IntervalS)
	}
	if cfg.Recording.DatabasePath != "crowding.db" {
		t.Errorf("DatabasePath = %q", cfg.Recording.DatabasePath)
	}
	if cfg.HTTP.Listen != ":8000" {
		t.Errorf("Listen = %q, want :8000", cfg.HTTP.Listen)
	}
	if cfg.HTTP.AdminUser != "admin" {
		t.Errorf("AdminUser = %q, want admin", cfg.HTTP.AdminUser)
	}
	if cfg.ShutdownTimeoutS != 5 {
		t.Errorf("ShutdownTimeoutS = %d, want 5", cfg.ShutdownTimeoutS)
	}
	// No broker configured: MQTT stays off and topics stay empty.
	if cfg.MQTT.Topics.Health != "" {
		t.Errorf("health topic = %q, want empty", cfg.MQTT.Topics.Health)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
camera:
  rtsp_url: rtsp://from-file/stream
  process_fps: 2
recording:
  interval_s: 60
`)

	t.Setenv("RTSP_URL", "rtsp://from-env/stream")
	t.Setenv("PROCESS_FPS", "7.5")
	t.Setenv("RECORD_INTERVAL", "15")
	t.Setenv("DATABASE_PATH", "/tmp/override.db")
	t.Setenv("ADMIN_USER", "operator")
	t.Setenv("ADMIN_PASSWORD", "hunter2")
	t.Setenv("MQTT_BROKER", "tcp://env-broker:1883")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Camera.RTSPURL != "rtsp://from-env/stream" {
		t.Errorf("RTSPURL = %q, want env value", cfg.Camera.RTSPURL)
	}
	if cfg.Camera.ProcessFPS != 7.5 {
		t.Errorf("ProcessFPS = %v, want 7.5", cfg.Camera.ProcessFPS)
	}
	if cfg.Recording.IntervalS != 15 {
		t.Errorf("IntervalS = %v, want 15", cfg.Recording.IntervalS)
	}
	if cfg.Recording.DatabasePath != "/tmp/override.db" {
		t.Errorf("DatabasePath = %q", cfg.Recording.DatabasePath)
	}
	if cfg.HTTP.AdminUser != "operator" || cfg.HTTP.AdminPassword != "hunter2" {
		t.Errorf("admin = %q/%q, want env values", cfg.HTTP.AdminUser, cfg.HTTP.AdminPassword)
	}
	if cfg.MQTT.Broker != "tcp://env-broker:1883" {
		t.Errorf("Broker = %q, want env value", cfg.MQTT.Broker)
	}
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("PROCESS_FPS", "not-a-number")
	t.Setenv("RECORD_INTERVAL", "-3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Camera.ProcessFPS != 3.0 {
		t.Errorf("ProcessFPS = %v, want default 3.0", cfg.Camera.ProcessFPS)
	}
	if cfg.Recording.IntervalS != 10.0 {
		t.Errorf("IntervalS = %v, want default 10.0", cfg.Recording.IntervalS)
	}
}

func TestValidateRejectsExcessiveFPS(t *testing.T) {
	cfg := &Config{Camera: CameraConfig{ProcessFPS: 60}}
	if err := Validate(cfg); err == nil {
		t.Error("Validate() with fps 60: want error, got nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() with missing file: want error, got nil")
	}
}
