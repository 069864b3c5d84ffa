// Package config loads server configuration from the environment.
// Priority: ENV vars > .env file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
type Config struct {
	// Server basics
	Addr string `env:"HUB_ADDR" envDefault:":8080"`

	// Capacity
	MaxConnections int `env:"HUB_MAX_CONNECTIONS" envDefault:"1000"`

	// Per-session outbound buffer, in frames. A subscriber whose buffer is
	// full at fan-out time is treated as failed and purged.
	SendBufferSize int `env:"HUB_SEND_BUFFER" envDefault:"256"`

	// Inbound frame rate limiting per session (token bucket)
	FrameRateBurst  int     `env:"HUB_FRAME_BURST" envDefault:"100"`
	FrameRatePerSec float64 `env:"HUB_FRAME_RATE" envDefault:"50"`

	// Lifecycle
	ShutdownGrace time.Duration `env:"HUB_SHUTDOWN_GRACE" envDefault:"10s"`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from the .env file (if present) and environment
// variables, applies defaults and validates the result.
func Load() (*Config, error) {
	// .env is a development convenience; in production the environment is
	// set directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("HUB_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("HUB_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.SendBufferSize < 1 {
		return fmt.Errorf("HUB_SEND_BUFFER must be > 0, got %d", c.SendBufferSize)
	}
	if c.FrameRateBurst < 1 {
		return fmt.Errorf("HUB_FRAME_BURST must be > 0, got %d", c.FrameRateBurst)
	}
	if c.FrameRatePerSec <= 0 {
		return fmt.Errorf("HUB_FRAME_RATE must be > 0, got %.1f", c.FrameRatePerSec)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("HUB_SHUTDOWN_GRACE must be >= 0, got %s", c.ShutdownGrace)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the loaded configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Int("max_connections", c.MaxConnections).
		Int("send_buffer", c.SendBufferSize).
		Int("frame_burst", c.FrameRateBurst).
		Float64("frame_rate", c.FrameRatePerSec).
		Dur("shutdown_grace", c.ShutdownGrace).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
