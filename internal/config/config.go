package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Sim       SimConfig       `yaml:"sim"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DeviceConfig holds the session policy for the attached device.
type DeviceConfig struct {
	JobID    int `yaml:"job_id"`
	PinIndex int `yaml:"pin_index"`

	// LiveViewSettle is waited before every live view toggle. The device
	// reports ready before its video path is, and enabling live view
	// immediately after connect is silently ignored by the firmware.
	LiveViewSettle time.Duration `yaml:"live_view_settle"`

	// AutoStream starts live view and decode reporting right after a
	// successful connect.
	AutoStream bool `yaml:"auto_stream"`

	// AutoSearch issues a device search once the SDK is initialised.
	AutoSearch bool `yaml:"auto_search"`
}

type BroadcastConfig struct {
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MaxClients       int           `yaml:"max_clients"`
	LogTail          int           `yaml:"log_tail"`
}

// SimConfig drives the simulated SDK used when no vendor runtime is present.
type SimConfig struct {
	Devices        []string      `yaml:"devices"`
	DiscoveryDelay time.Duration `yaml:"discovery_delay"`
	FrameInterval  time.Duration `yaml:"frame_interval"`
	DecodeInterval time.Duration `yaml:"decode_interval"`
	FrameWidth     int           `yaml:"frame_width"`
	FrameHeight    int           `yaml:"frame_height"`
	FrameFormat    string        `yaml:"frame_format"`
	FailConnect    []string      `yaml:"fail_connect"`
	FailInit       bool          `yaml:"fail_init"`
	Seed           int64         `yaml:"seed"`

	// Every Nth frame is delivered empty or corrupt; 0 disables.
	EmptyFrameEvery   int `yaml:"empty_frame_every"`
	CorruptFrameEvery int `yaml:"corrupt_frame_every"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Device: DeviceConfig{
			JobID:          0,
			PinIndex:       1,
			LiveViewSettle: time.Second,
			AutoStream:     true,
			AutoSearch:     true,
		},
		Broadcast: BroadcastConfig{
			Throttle:         100 * time.Millisecond,
			SnapshotInterval: 5 * time.Second,
			MaxClients:       16,
			LogTail:          200,
		},
		Sim: SimConfig{
			Devices:        []string{"SN1", "SN2"},
			DiscoveryDelay: 300 * time.Millisecond,
			FrameInterval:  200 * time.Millisecond,
			DecodeInterval: 1500 * time.Millisecond,
			FrameWidth:     160,
			FrameHeight:    120,
			FrameFormat:    "png",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
// The returned bool reports whether the file was found.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

var ErrInvalid = errors.New("invalid config")

// Validate rejects values the console cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Device.JobID < 0 {
		errs = append(errs, fmt.Errorf("device.job_id must be >= 0, got %d", c.Device.JobID))
	}
	if c.Device.PinIndex < 0 {
		errs = append(errs, fmt.Errorf("device.pin_index must be >= 0, got %d", c.Device.PinIndex))
	}
	if c.Device.LiveViewSettle < 0 || c.Device.LiveViewSettle > 10*time.Second {
		errs = append(errs, fmt.Errorf("device.live_view_settle %v outside [0s,10s]", c.Device.LiveViewSettle))
	}
	if c.Broadcast.Throttle <= 0 {
		errs = append(errs, fmt.Errorf("broadcast.throttle must be positive"))
	}
	if c.Broadcast.SnapshotInterval <= 0 {
		errs = append(errs, fmt.Errorf("broadcast.snapshot_interval must be positive"))
	}
	if c.Broadcast.LogTail < 0 {
		errs = append(errs, fmt.Errorf("broadcast.log_tail must be >= 0"))
	}
	switch c.Sim.FrameFormat {
	case "png", "bmp", "jpeg":
	default:
		errs = append(errs, fmt.Errorf("sim.frame_format %q not one of png, bmp, jpeg", c.Sim.FrameFormat))
	}
	if c.Sim.FrameWidth <= 0 || c.Sim.FrameHeight <= 0 {
		errs = append(errs, fmt.Errorf("sim frame size %dx%d must be positive", c.Sim.FrameWidth, c.Sim.FrameHeight))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
