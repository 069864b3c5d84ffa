package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, 1000, cfg.MaxConnections)
	require.Equal(t, 256, cfg.SendBufferSize)
	require.Equal(t, 100, cfg.FrameRateBurst)
	require.Equal(t, 50.0, cfg.FrameRatePerSec)
	require.Equal(t, 10*time.Second, cfg.ShutdownGrace)
	require.Equal(t, 15*time.Second, cfg.MetricsInterval)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HUB_ADDR", ":9999")
	t.Setenv("HUB_MAX_CONNECTIONS", "25")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "pretty")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Addr)
	require.Equal(t, 25, cfg.MaxConnections)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "pretty", cfg.LogFormat)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Addr:            ":8080",
		MaxConnections:  10,
		SendBufferSize:  16,
		FrameRateBurst:  10,
		FrameRatePerSec: 5,
		ShutdownGrace:   time.Second,
		MetricsInterval: time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero buffer", func(c *Config) { c.SendBufferSize = 0 }},
		{"zero burst", func(c *Config) { c.FrameRateBurst = 0 }},
		{"zero rate", func(c *Config) { c.FrameRatePerSec = 0 }},
		{"negative grace", func(c *Config) { c.ShutdownGrace = -time.Second }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
