// Package config loads the daemon configuration from a YAML file and
// applies environment overrides for deployment-specific settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the complete camera system configuration.
type Config struct {
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig    `yaml:"camera"`
	Recording        RecordingConfig `yaml:"recording"`
	HTTP             HTTPConfig      `yaml:"http"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
}

// CameraConfig contains stream acquisition settings.
type CameraConfig struct {
	RTSPURL    string  `yaml:"rtsp_url"`
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	ProcessFPS float64 `yaml:"process_fps"` // monitor loop cadence and stream target fps
	LatencyMS  int     `yaml:"latency_ms"`  // rtspsrc jitter buffer
}

// RecordingConfig contains occupancy history settings.
type RecordingConfig struct {
	IntervalS    float64 `yaml:"interval_s"` // seconds between persisted records
	DatabasePath string  `yaml:"database_path"`
}

// HTTPConfig contains the API server settings.
type HTTPConfig struct {
	Listen        string `yaml:"listen"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
}

// MQTTConfig contains the optional status broker settings. An empty
// broker disables publishing.
type MQTTConfig struct {
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Topics   MQTTTopics `yaml:"topics"`
}

// MQTTTopics contains the publish topic names.
type MQTTTopics struct {
	Health   string `yaml:"health"`
	Crowding string `yaml:"crowding"`
}

// CaptureEnabled reports whether a stream address is configured. The
// daemon runs without capture (API and history only) when it is not.
func (c *Config) CaptureEnabled() bool {
	return c.Camera.RTSPURL != ""
}

// Load reads and parses a YAML configuration file, applies environment
// overrides, and validates the result. An empty path skips the file and
// builds the configuration from environment and defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays the deployment environment onto the file
// configuration. Environment values win over file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RTSP_URL"); v != "" {
		cfg.Camera.RTSPURL = v
	}
	if v := os.Getenv("PROCESS_FPS"); v != "" {
		if fps, err := strconv.ParseFloat(v, 64); err == nil && fps > 0 {
			cfg.Camera.ProcessFPS = fps
		}
	}
	if v := os.Getenv("RECORD_INTERVAL"); v != "" {
		if interval, err := strconv.ParseFloat(v, 64); err == nil && interval > 0 {
			cfg.Recording.IntervalS = interval
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Recording.DatabasePath = v
	}
	if v := os.Getenv("ADMIN_USER"); v != "" {
		cfg.HTTP.AdminUser = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.HTTP.AdminPassword = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
}

// Validate checks the configuration and fills defaults.
func Validate(cfg *Config) error {
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Camera.Width <= 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.Height <= 0 {
		cfg.Camera.Height = 480
	}
	if cfg.Camera.ProcessFPS <= 0 {
		cfg.Camera.ProcessFPS = 3.0
	}
	if cfg.Camera.ProcessFPS > 30 {
		return fmt.Errorf("camera.process_fps must be <= 30, got %v", cfg.Camera.ProcessFPS)
	}

	if cfg.Recording.IntervalS <= 0 {
		cfg.Recording.IntervalS = 10.0
	}
	if cfg.Recording.DatabasePath == "" {
		cfg.Recording.DatabasePath = "crowding.db"
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8000"
	}
	if cfg.HTTP.AdminUser == "" {
		cfg.HTTP.AdminUser = "admin"
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "camera-system"
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = "camera-system/health"
		}
		if cfg.MQTT.Topics.Crowding == "" {
			cfg.MQTT.Topics.Crowding = "camera-system/crowding"
		}
	}

	return nil
}
