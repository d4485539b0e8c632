package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/cbcentral/pkg/central"
	"gopkg.in/yaml.v3"
)

// Bridge backends.
const (
	BridgeBLE = "ble"
	BridgeSim = "sim"
)

// Config holds application configuration
type Config struct {
	LogLevel       logrus.Level  `yaml:"log_level"`
	QueueSize      uint32        `yaml:"queue_size" default:"1024"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	OutputFormat   string        `yaml:"output_format" default:"table"`
	Bridge         string        `yaml:"bridge" default:"ble"`
	// SimProfile is a YAML peripheral profile for the sim bridge. Empty
	// selects the built-in profile.
	SimProfile string `yaml:"sim_profile"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	switch c.OutputFormat {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown output format %q", c.OutputFormat))
	}
	switch c.Bridge {
	case BridgeBLE, BridgeSim:
	default:
		errs = append(errs, fmt.Errorf("unknown bridge %q", c.Bridge))
	}
	if c.QueueSize == 0 {
		errs = append(errs, errors.New("queue_size must be positive"))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, errors.New("scan_timeout must be positive"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// CentralOptions returns the manager options implied by the config.
func (c *Config) CentralOptions(logger *logrus.Logger) []central.Option {
	return []central.Option{
		central.WithLogger(logger),
		central.WithQueueSize(c.QueueSize),
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
