package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestDefaultConfig_StreamDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Stream.ReconnectAttempts != 5 {
		t.Errorf("expected 5 reconnect attempts, got %d", cfg.Stream.ReconnectAttempts)
	}
	if cfg.Stream.ReconnectBaseDelay != 5*time.Second {
		t.Errorf("expected 5s reconnect base delay, got %v", cfg.Stream.ReconnectBaseDelay)
	}
	if cfg.Stream.MetricsInterval != time.Second {
		t.Errorf("expected 1s metrics interval, got %v", cfg.Stream.MetricsInterval)
	}
	if cfg.Network.ProbeInterval != 5*time.Second {
		t.Errorf("expected 5s probe interval, got %v", cfg.Network.ProbeInterval)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "empty server address",
			mutate: func(c *Config) { c.Server.Address = "" },
		},
		{
			name:   "zero read timeout",
			mutate: func(c *Config) { c.Server.ReadTimeout = 0 },
		},
		{
			name:   "negative reconnect attempts",
			mutate: func(c *Config) { c.Stream.ReconnectAttempts = -1 },
		},
		{
			name:   "zero reconnect base delay",
			mutate: func(c *Config) { c.Stream.ReconnectBaseDelay = 0 },
		},
		{
			name:   "zero metrics interval",
			mutate: func(c *Config) { c.Stream.MetricsInterval = 0 },
		},
		{
			name:   "zero probe interval",
			mutate: func(c *Config) { c.Network.ProbeInterval = 0 },
		},
		{
			name:   "empty bandwidth endpoint",
			mutate: func(c *Config) { c.Network.BandwidthEndpoint = "" },
		},
		{
			name:   "empty latency host",
			mutate: func(c *Config) { c.Network.LatencyHost = "" },
		},
		{
			name:   "zero probe payload",
			mutate: func(c *Config) { c.Network.ProbePayloadBytes = 0 },
		},
		{
			name: "tracing enabled without jaeger url",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.JaegerURL = ""
			},
		},
		{
			name: "tracing sample rate out of range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
		{
			name:   "empty api secret",
			mutate: func(c *Config) { c.Auth.APISecret = "" },
		},
		{
			name: "redis enabled without address",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name: "rate limiting enabled with zero rps",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.RequestsPerSecond = 0
			},
		},
		{
			name: "rate limiting enabled with zero burst",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.Burst = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 0
	cfg.RateLimiting.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected defaults for missing file, got error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default server address, got %s", cfg.Server.Address)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  address: ":9999"
stream:
  reconnect_attempts: 2
network:
  latency_host: "example.com:443"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Address != ":9999" {
		t.Errorf("expected server address :9999, got %s", cfg.Server.Address)
	}
	if cfg.Stream.ReconnectAttempts != 2 {
		t.Errorf("expected 2 reconnect attempts, got %d", cfg.Stream.ReconnectAttempts)
	}
	// Unset keys keep their defaults
	if cfg.Stream.MetricsInterval != time.Second {
		t.Errorf("expected default metrics interval, got %v", cfg.Stream.MetricsInterval)
	}
	if cfg.Network.LatencyHost != "example.com:443" {
		t.Errorf("expected overridden latency host, got %s", cfg.Network.LatencyHost)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KWIKCAST_SERVER_ADDRESS", ":7777")
	t.Setenv("KWIKCAST_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Address != ":7777" {
		t.Errorf("expected env-overridden address, got %s", cfg.Server.Address)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env-overridden log level, got %s", cfg.Logging.Level)
	}
}
