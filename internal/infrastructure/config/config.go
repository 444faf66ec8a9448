package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// FileEnv names the environment variable pointing at an optional YAML file.
const FileEnv = "REMOTEUI_CONFIG"

// Sandbox execution modes.
const (
	ModeInProcess = "inprocess"
	ModeProcess   = "process"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port"`
	Host string `envconfig:"HOST" yaml:"host"`
	// AllowOrigins limits browser origins for the API and live view.
	AllowOrigins []string `envconfig:"CORS_ORIGINS" yaml:"allow_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// SandboxConfig controls how isolated contexts are created and supervised.
type SandboxConfig struct {
	Mode           string        `envconfig:"SANDBOX_MODE" yaml:"mode"`
	Binary         string        `envconfig:"SANDBOX_BINARY" yaml:"binary"`
	ReadyTimeout   time.Duration `envconfig:"SANDBOX_READY_TIMEOUT" yaml:"ready_timeout"`
	LoadTimeout    time.Duration `envconfig:"SANDBOX_LOAD_TIMEOUT" yaml:"load_timeout"`
	ExecTimeout    time.Duration `envconfig:"SANDBOX_EXEC_TIMEOUT" yaml:"exec_timeout"`
	MaxScriptBytes int64         `envconfig:"SANDBOX_MAX_SCRIPT_BYTES" yaml:"max_script_bytes"`
	FetchRetries   int           `envconfig:"SANDBOX_FETCH_RETRIES" yaml:"fetch_retries"`
	AllowFile      bool          `envconfig:"SANDBOX_ALLOW_FILE" yaml:"allow_file"`
	EventsPerSec   int           `envconfig:"SANDBOX_EVENTS_PER_SEC" yaml:"events_per_sec"`

	// RetainTerminated caps how many terminated sessions stay listed.
	RetainTerminated int `envconfig:"SANDBOX_RETAIN_TERMINATED" yaml:"retain_terminated"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled"`
}

// Load builds configuration from defaults, then the YAML file named by
// REMOTEUI_CONFIG (if set), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or falls back to defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile reads a YAML file over the defaults without consulting the
// environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Sandbox.Mode {
	case ModeInProcess, ModeProcess:
	default:
		return fmt.Errorf("invalid sandbox mode %q", c.Sandbox.Mode)
	}
	if c.Sandbox.ReadyTimeout <= 0 || c.Sandbox.LoadTimeout <= 0 || c.Sandbox.ExecTimeout <= 0 {
		return fmt.Errorf("sandbox timeouts must be positive")
	}
	if c.Sandbox.MaxScriptBytes <= 0 {
		return fmt.Errorf("sandbox max script bytes must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8000",
			Host:         "0.0.0.0",
			AllowOrigins: []string{"*"},
		},
		Sandbox: SandboxConfig{
			Mode:           ModeInProcess,
			ReadyTimeout:   5 * time.Second,
			LoadTimeout:    15 * time.Second,
			ExecTimeout:    2 * time.Second,
			MaxScriptBytes: 2 * 1024 * 1024,
			FetchRetries:   2,
			AllowFile:      false,
			EventsPerSec:   20,

			RetainTerminated: 64,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
