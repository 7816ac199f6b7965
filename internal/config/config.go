package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/logdebug/internal/logging"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/render"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/security"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Session   SessionConfig   `yaml:"session"`
	Render    RenderConfig    `yaml:"render"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

// ServerConfig defines the HTTP listener
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodySize  int64         `yaml:"max_body_size"`
	// RateLimit is requests per second per client (0 disables)
	RateLimit int       `yaml:"rate_limit"`
	Compress  bool      `yaml:"compress"`
	TLS       TLSConfig `yaml:"tls"`
}

// TLSConfig enables HTTPS on the listener
type TLSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file"`
	MinVersion   string `yaml:"min_version"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// SessionConfig bounds the in-memory session table
type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	MaxSessions   int           `yaml:"max_sessions"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RenderConfig selects the encoding used when a request names none
type RenderConfig struct {
	DefaultEncoding string `yaml:"default_encoding"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Interval between runtime metric samples
	Interval time.Duration `yaml:"interval"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// ShutdownConfig bounds graceful shutdown
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ProfilingConfig exposes pprof on the service listener
type ProfilingConfig struct {
	Enabled      bool `yaml:"enabled"`
	BlockProfile bool `yaml:"block_profile"`
	MutexProfile bool `yaml:"mutex_profile"`
}

// Default values
const (
	DefaultAddress         = ":8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultMaxBodySize     = 10 * 1024 * 1024
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultIdleTTL         = 30 * time.Minute
	DefaultMaxSessions     = 10000
	DefaultSweepInterval   = time.Minute
	DefaultMetricsPath     = "/metrics"
	DefaultMetricsInterval = 15 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from YAML, expanding ${VAR} references first
func Parse(data []byte) (*Config, error) {
	expandedData := []byte(os.ExpandEnv(string(data)))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(expandedData, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills zero values left by an explicit empty setting
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = DefaultMaxBodySize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = DefaultSweepInterval
	}
	if c.Render.DefaultEncoding == "" {
		c.Render.DefaultEncoding = string(render.DefaultEncoding)
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = DefaultMetricsInterval
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = DefaultHealthTimeout
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultShutdownTimeout
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.MaxBodySize < 0 {
		return fmt.Errorf("server.max_body_size must not be negative")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls requires cert_file and key_file")
		}
		if _, err := security.ParseTLSVersion(c.Server.TLS.MinVersion); err != nil {
			return fmt.Errorf("server.tls: %w", err)
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Session.IdleTTL < 0 {
		return fmt.Errorf("session.idle_ttl must not be negative")
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("session.max_sessions must not be negative")
	}
	if c.Session.SweepInterval < 0 {
		return fmt.Errorf("session.sweep_interval must not be negative")
	}

	if _, err := render.ParseEncoding(c.Render.DefaultEncoding); err != nil {
		return fmt.Errorf("render.default_encoding: %w", err)
	}

	if c.Metrics.Path[0] != '/' {
		return fmt.Errorf("metrics.path must start with /: %s", c.Metrics.Path)
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1: %v", c.Tracing.SampleRate)
	}

	return nil
}

// LoadOrDefault loads configuration from file, returning the default
// configuration when the file does not exist. Other errors are returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      DefaultAddress,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			MaxBodySize:  DefaultMaxBodySize,
			Compress:     true,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Session: SessionConfig{
			IdleTTL:       DefaultIdleTTL,
			MaxSessions:   DefaultMaxSessions,
			SweepInterval: DefaultSweepInterval,
		},
		Render: RenderConfig{
			DefaultEncoding: string(render.DefaultEncoding),
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Path:     DefaultMetricsPath,
			Interval: DefaultMetricsInterval,
		},
		Health: HealthConfig{
			Timeout: DefaultHealthTimeout,
		},
		Tracing: TracingConfig{
			SampleRate: 1,
		},
		Shutdown: ShutdownConfig{
			Timeout: DefaultShutdownTimeout,
		},
	}
}
