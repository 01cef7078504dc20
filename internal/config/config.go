// Package config loads the cbfront process configuration.
package config

import (
	"time"

	"github.com/dreamware/cbfront/internal/cluster"
)

// Config is the full configuration of a cbfront process. The cluster and
// bucket settings sit at the top level of the file; the remaining sections
// configure the gateway binary.
type Config struct {
	Cluster cluster.Config `mapstructure:",squash"`
	Gateway GatewayConfig  `mapstructure:"gateway"`
	Log     LogConfig      `mapstructure:"log"`
	Health  HealthConfig   `mapstructure:"health"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Listen          string        `mapstructure:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	RequestTimeout  time.Duration `mapstructure:"requestTimeout"`
}

// LogConfig selects the process logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// HealthConfig tunes the bucket health monitor. Interval zero disables it.
type HealthConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxFailures int           `mapstructure:"maxFailures"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := c.Cluster.Validate(); err != nil {
		return err
	}
	if c.Gateway.Listen == "" {
		return &cluster.ConfigError{Field: "gateway.listen", Reason: "listen address not supplied"}
	}
	if c.Health.Interval < 0 {
		return &cluster.ConfigError{Field: "health.interval", Reason: "must not be negative"}
	}
	if c.Health.MaxFailures < 0 {
		return &cluster.ConfigError{Field: "health.maxFailures", Reason: "must not be negative"}
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return &cluster.ConfigError{Field: "metrics.path", Reason: "path not supplied"}
	}
	return nil
}
