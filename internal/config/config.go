package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CaptureConfig controls how frames are read.
type CaptureConfig struct {
	SnapLen int  `yaml:"snap_len"`
	Columns bool `yaml:"columns"`
}

// DissectConfig holds the read filter: frames must contain at least one of
// these fields to be indexed.
type DissectConfig struct {
	ReadFilter []string `yaml:"read_filter"`
}

// OutputConfig selects what the dump command prints.
type OutputConfig struct {
	ShowPackets bool `yaml:"show_packets"`
	YAML        bool `yaml:"yaml"`
	Hex         bool `yaml:"hex"`
	Traffic     bool `yaml:"traffic"`
	Benchmarks  bool `yaml:"benchmarks"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
	MaxFrames   int    `yaml:"max_frames"`
}

// PublishConfig enables publishing of rendered frames to NATS. An empty
// URL disables it.
type PublishConfig struct {
	NatsURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// LoggingConfig selects the logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the top-level configuration.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Dissect DissectConfig `yaml:"dissect"`
	Output  OutputConfig  `yaml:"output"`
	Server  ServerConfig  `yaml:"server"`
	Publish PublishConfig `yaml:"publish"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{SnapLen: 65535, Columns: true},
		Server:  ServerConfig{Addr: ":8080", MaxUploadMB: 100, MaxFrames: 10000},
		Publish: PublishConfig{Subject: "capdissector.frames"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML file on top of Default. Keys missing from the
// file keep their default values.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config YAML")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.Capture.SnapLen < 0 {
		return errors.Errorf("capture.snap_len must not be negative, got %d", c.Capture.SnapLen)
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Server.MaxFrames < 0 {
		return errors.Errorf("server.max_frames must not be negative, got %d", c.Server.MaxFrames)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
