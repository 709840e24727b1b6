package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Stream struct {
		ReconnectAttempts  int           `yaml:"reconnect_attempts"`
		ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
		MetricsInterval    time.Duration `yaml:"metrics_interval"`
	} `yaml:"stream"`

	Network struct {
		ProbeInterval     time.Duration `yaml:"probe_interval"`
		BandwidthEndpoint string        `yaml:"bandwidth_endpoint"`
		LatencyHost       string        `yaml:"latency_host"`
		ProbePayloadBytes int           `yaml:"probe_payload_bytes"`
	} `yaml:"network"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Auth struct {
		APISecret string `yaml:"api_secret"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Stream.ReconnectAttempts < 0 {
		return fmt.Errorf("stream.reconnect_attempts must be >= 0")
	}
	if c.Stream.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("stream.reconnect_base_delay must be > 0")
	}
	if c.Stream.MetricsInterval <= 0 {
		return fmt.Errorf("stream.metrics_interval must be > 0")
	}

	if c.Network.ProbeInterval <= 0 {
		return fmt.Errorf("network.probe_interval must be > 0")
	}
	if c.Network.BandwidthEndpoint == "" {
		return fmt.Errorf("network.bandwidth_endpoint must not be empty")
	}
	if c.Network.LatencyHost == "" {
		return fmt.Errorf("network.latency_host must not be empty")
	}
	if c.Network.ProbePayloadBytes <= 0 {
		return fmt.Errorf("network.probe_payload_bytes must be > 0")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
	}

	if c.Auth.APISecret == "" {
		return fmt.Errorf("auth.api_secret must not be empty")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If the file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Stream.ReconnectAttempts = 5
	cfg.Stream.ReconnectBaseDelay = 5 * time.Second
	cfg.Stream.MetricsInterval = 1 * time.Second

	cfg.Network.ProbeInterval = 5 * time.Second
	cfg.Network.BandwidthEndpoint = "https://speed.cloudflare.com/__down"
	cfg.Network.LatencyHost = "1.1.1.1:443"
	cfg.Network.ProbePayloadBytes = 256 * 1024

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0

	cfg.Auth.APISecret = "change-me-in-production"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("KWIKCAST_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("KWIKCAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("KWIKCAST_API_SECRET"); secret != "" {
		c.Auth.APISecret = secret
	}
	if addr := os.Getenv("KWIKCAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
