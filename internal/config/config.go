// Package config loads the simulator configuration from YAML, applies
// environment overrides and validates the result against a CUE schema.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"slicesim/internal/history"
	"slicesim/internal/logging"
	"slicesim/internal/slice"
	"slicesim/internal/telemetry"
)

// Server configures the HTTP API.
type Server struct {
	Addr             string `yaml:"addr"`
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"`
}

// Simulation bounds and defaults for created runs.
type Simulation struct {
	DefaultInterval  float64 `yaml:"default_interval"`
	MaxTrafficVolume int64   `yaml:"max_traffic_volume"`
	MaxDuration      int64   `yaml:"max_duration"`
}

// Greptime configures the optional GreptimeDB sink. An empty endpoint
// disables it.
type Greptime struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// Config is the root configuration.
type Config struct {
	Server     Server          `yaml:"server"`
	Logging    logging.Options `yaml:"logging"`
	Simulation Simulation      `yaml:"simulation"`
	Allocation slice.Ratios    `yaml:"allocation"`
	Slices     slice.Params    `yaml:"slices"`
	History    history.Options `yaml:"history"`
	Greptime   Greptime        `yaml:"greptime"`
	Seed       int64           `yaml:"seed,omitempty"`
}

// Default returns a configuration that runs without a file.
func Default() *Config {
	return &Config{
		Server:     Server{Addr: ":8080", SubscriberBuffer: 64, ShutdownTimeoutS: 10},
		Logging:    logging.Options{Level: "info", Format: "text"},
		Simulation: Simulation{DefaultInterval: 1, MaxTrafficVolume: 1_000_000, MaxDuration: 3600},
		Allocation: slice.DefaultRatios(),
		Slices:     slice.DefaultParams(),
		History:    history.Options{Driver: "memory"},
		Greptime:   Greptime{Database: "public"},
	}
}

// Limits returns the bounds applied to created runs.
func (c *Config) Limits() telemetry.Limits {
	return telemetry.Limits{MaxTrafficVolume: c.Simulation.MaxTrafficVolume, MaxDuration: c.Simulation.MaxDuration}
}

// ShutdownTimeout is the grace period for stopping runs on exit.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutS) * time.Second
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path loads only defaults and environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GREPTIMEDB_ENDPOINT, SLICESIM_ADDR and
// SLICESIM_INTERVAL.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("GREPTIMEDB_ENDPOINT"); ok && v != "" {
		c.Greptime.Endpoint = v
	}
	if v, ok := lookup("SLICESIM_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup("SLICESIM_INTERVAL"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SLICESIM_INTERVAL: %w", err)
		}
		c.Simulation.DefaultInterval = f
	}
	return nil
}

// Validate checks the configuration against the schema and the rules the
// schema cannot express.
func (c *Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}
	if err := c.Allocation.Validate(); err != nil {
		return fmt.Errorf("allocation: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}
