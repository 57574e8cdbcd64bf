// Package config loads camera-shm settings from a YAML file overlaid by
// CAMSHM_* environment variables.
//
// Precedence (lowest to highest): Default, YAML file, environment, CLI flags.
// CLI flags are applied by cmd/camera-shm after Load.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	camerashm "github.com/e7canasta/orion-care-sensor/camera-shm"
	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
)

// Config is the complete camera-shm configuration.
type Config struct {
	Stream    StreamConfig    `yaml:"stream"`
	Capture   CaptureConfig   `yaml:"capture"`
	Transport TransportConfig `yaml:"transport"`
	Registry  RegistryConfig  `yaml:"registry"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Display   DisplayConfig   `yaml:"display"`
	Log       LogConfig       `yaml:"log"`
}

// StreamConfig identifies the stream and the session role.
type StreamConfig struct {
	Key   string `yaml:"key" env:"CAMSHM_STREAM_KEY"`
	Shape string `yaml:"shape" env:"CAMSHM_STREAM_SHAPE"` // "HxW"
	Role  string `yaml:"role" env:"CAMSHM_ROLE"`          // producer|write, consumer|read
	Task  string `yaml:"task" env:"CAMSHM_TASK_ID"`
}

// CaptureConfig contains producer camera settings.
type CaptureConfig struct {
	Source        string        `yaml:"source" env:"CAMSHM_CAPTURE_SOURCE"` // v4l2, pattern
	Device        int           `yaml:"device" env:"CAMSHM_CAPTURE_DEVICE"`
	DevicePattern string        `yaml:"device_pattern" env:"CAMSHM_CAPTURE_DEVICE_PATTERN"`
	Width         int           `yaml:"width" env:"CAMSHM_CAPTURE_WIDTH"`
	Height        int           `yaml:"height" env:"CAMSHM_CAPTURE_HEIGHT"`
	FPS           float64       `yaml:"fps" env:"CAMSHM_CAPTURE_FPS"` // 0 = camera native rate
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"CAMSHM_CAPTURE_READ_TIMEOUT"`
}

// TransportConfig selects the frame transport.
type TransportConfig struct {
	Kind  string `yaml:"kind" env:"CAMSHM_TRANSPORT"` // shm, memory
	Dir   string `yaml:"dir" env:"CAMSHM_SHM_DIR"`
	Slots int    `yaml:"slots" env:"CAMSHM_SHM_SLOTS"`
}

// RegistryConfig selects the task registry.
type RegistryConfig struct {
	Kind        string `yaml:"kind" env:"CAMSHM_REGISTRY"` // mqtt, memory
	Broker      string `yaml:"broker" env:"CAMSHM_MQTT_BROKER"`
	ClientID    string `yaml:"client_id" env:"CAMSHM_MQTT_CLIENT_ID"`
	TopicPrefix string `yaml:"topic_prefix" env:"CAMSHM_MQTT_TOPIC_PREFIX"`
	QoS         int    `yaml:"qos" env:"CAMSHM_MQTT_QOS"`
}

// WatcherConfig contains cancellation polling settings.
type WatcherConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval" env:"CAMSHM_POLL_INTERVAL"`
	RegisterInterval time.Duration `yaml:"register_interval" env:"CAMSHM_REGISTER_INTERVAL"`
	QueryTimeout     time.Duration `yaml:"query_timeout" env:"CAMSHM_QUERY_TIMEOUT"`
}

// DisplayConfig contains consumer sink settings.
type DisplayConfig struct {
	Headless  bool   `yaml:"headless" env:"CAMSHM_HEADLESS"`
	MaxFrames int    `yaml:"max_frames" env:"CAMSHM_MAX_FRAMES"` // headless only, 0 = unlimited
	VideoSink string `yaml:"video_sink" env:"CAMSHM_VIDEO_SINK"`

	// SaveDir enables saving consumed frames as images (empty = disabled)
	SaveDir     string `yaml:"save_dir" env:"CAMSHM_SAVE_DIR"`
	SaveFormat  string `yaml:"save_format" env:"CAMSHM_SAVE_FORMAT"` // png, jpeg
	SaveEvery   int    `yaml:"save_every" env:"CAMSHM_SAVE_EVERY"`
	JPEGQuality int    `yaml:"jpeg_quality" env:"CAMSHM_JPEG_QUALITY"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level" env:"CAMSHM_LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"CAMSHM_LOG_FORMAT"` // text, json
}

// Default returns the built-in configuration: producer of camera 0 streaming
// 480x640 frames under "camera:0" through /dev/shm.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			Key:   camerashm.DefaultStreamKey,
			Shape: camerashm.DefaultShape.String(),
			Role:  camerashm.RoleProducer.String(),
		},
		Capture: CaptureConfig{
			Source:      "v4l2",
			ReadTimeout: 2 * time.Second,
		},
		Transport: TransportConfig{
			Kind: "shm",
			Dir:  "/dev/shm",
		},
		Registry: RegistryConfig{
			Kind:        "mqtt",
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "camera-shm/tasks",
			QoS:         1,
		},
		Watcher: WatcherConfig{
			PollInterval:     time.Second,
			RegisterInterval: 100 * time.Millisecond,
			QueryTimeout:     2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := c.StreamParameters(); err != nil {
		return err
	}
	switch c.Capture.Source {
	case "v4l2", "pattern":
	default:
		return fmt.Errorf("capture.source must be v4l2 or pattern, got %q", c.Capture.Source)
	}
	if c.Capture.Device < 0 {
		return fmt.Errorf("capture.device must be >= 0")
	}
	if c.Capture.FPS < 0 {
		return fmt.Errorf("capture.fps must be >= 0")
	}
	if c.Capture.ReadTimeout <= 0 {
		return fmt.Errorf("capture.read_timeout must be > 0")
	}

	switch c.Transport.Kind {
	case "shm", "memory":
	default:
		return fmt.Errorf("transport.kind must be shm or memory, got %q", c.Transport.Kind)
	}
	if c.Transport.Slots != 0 && c.Transport.Slots < 2 {
		return fmt.Errorf("transport.slots must be >= 2")
	}

	switch c.Registry.Kind {
	case "memory":
	case "mqtt":
		if c.Registry.Broker == "" {
			return fmt.Errorf("registry.broker is required for the mqtt registry")
		}
	default:
		return fmt.Errorf("registry.kind must be mqtt or memory, got %q", c.Registry.Kind)
	}
	if c.Registry.QoS < 0 || c.Registry.QoS > 2 {
		return fmt.Errorf("registry.qos must be 0-2")
	}

	if c.Watcher.PollInterval <= 0 || c.Watcher.RegisterInterval <= 0 || c.Watcher.QueryTimeout <= 0 {
		return fmt.Errorf("watcher intervals must be > 0")
	}

	if c.Display.MaxFrames < 0 {
		return fmt.Errorf("display.max_frames must be >= 0")
	}
	if c.Display.SaveDir != "" {
		switch c.Display.SaveFormat {
		case "", "png", "jpeg":
		default:
			return fmt.Errorf("display.save_format must be png or jpeg, got %q", c.Display.SaveFormat)
		}
		if c.Display.SaveEvery < 0 {
			return fmt.Errorf("display.save_every must be >= 0")
		}
		if c.Display.JPEGQuality < 0 || c.Display.JPEGQuality > 100 {
			return fmt.Errorf("display.jpeg_quality must be 1-100")
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// StreamParameters converts the stream section.
func (c *Config) StreamParameters() (camerashm.StreamParameters, error) {
	shape, err := framering.ParseShape(c.Stream.Shape)
	if err != nil {
		return camerashm.StreamParameters{}, fmt.Errorf("stream.shape: %w", err)
	}
	role, err := camerashm.ParseRole(c.Stream.Role)
	if err != nil {
		return camerashm.StreamParameters{}, fmt.Errorf("stream.role: %w", err)
	}
	p := camerashm.StreamParameters{StreamKey: c.Stream.Key, Shape: shape, Role: role}
	if err := p.Validate(); err != nil {
		return camerashm.StreamParameters{}, fmt.Errorf("stream: %w", err)
	}
	return p, nil
}
