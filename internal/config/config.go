// Package config loads the srnet YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openfluke/srnet/models"
)

// Backends accepted by RuntimeConfig.Backend.
const (
	BackendCPU = "cpu"
	BackendGPU = "gpu"
)

// Environment variables that override file values.
const (
	EnvBackend  = "SRNET_BACKEND"
	EnvWorkers  = "SRNET_WORKERS"
	EnvLogLevel = "SRNET_LOG_LEVEL"
)

// Config holds all srnet configuration.
type Config struct {
	Model   models.Config `yaml:"model"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Logging LoggingConfig `yaml:"logging"`
}

// RuntimeConfig controls how forward passes execute.
type RuntimeConfig struct {
	Backend string `yaml:"backend"` // cpu, gpu
	Workers int    `yaml:"workers"` // 0 = one per logical core
	Seed    int64  `yaml:"seed"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the x4 EDSR demo configuration on the CPU.
func DefaultConfig() *Config {
	return &Config{
		Model: models.DefaultConfig(),
		Runtime: RuntimeConfig{
			Backend: BackendCPU,
			Seed:    0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if b := os.Getenv(EnvBackend); b != "" {
		c.Runtime.Backend = b
	}
	if w := os.Getenv(EnvWorkers); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Runtime.Workers = n
	}
	if l := os.Getenv(EnvLogLevel); l != "" {
		c.Logging.Level = l
	}
	return nil
}

// Validate checks the model section and runtime options.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	switch c.Runtime.Backend {
	case BackendCPU, BackendGPU:
	default:
		return fmt.Errorf("runtime.backend must be %q or %q, got %q", BackendCPU, BackendGPU, c.Runtime.Backend)
	}
	if c.Runtime.Workers < 0 {
		return fmt.Errorf("runtime.workers must not be negative, got %d", c.Runtime.Workers)
	}
	return nil
}
