package sandbox

import "time"

// Config defines sandbox worker limits.
type Config struct {
	// ExecTimeout bounds each entry into the VM.
	ExecTimeout time.Duration
	// MaxScriptBytes bounds fetched script size.
	MaxScriptBytes int64
	// FetchRetries is the number of retries for HTTP script fetches.
	FetchRetries int
	// FetchTimeout bounds a single HTTP request.
	FetchTimeout time.Duration
	// AllowFile permits file:// script URLs.
	AllowFile bool
	// MaxCallStackSize bounds JS recursion.
	MaxCallStackSize int
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		ExecTimeout:      2 * time.Second,
		MaxScriptBytes:   2 << 20,
		FetchRetries:     2,
		FetchTimeout:     10 * time.Second,
		AllowFile:        false,
		MaxCallStackSize: 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = d.ExecTimeout
	}
	if c.MaxScriptBytes <= 0 {
		c.MaxScriptBytes = d.MaxScriptBytes
	}
	if c.FetchRetries < 0 {
		c.FetchRetries = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.MaxCallStackSize <= 0 {
		c.MaxCallStackSize = d.MaxCallStackSize
	}
	return c
}
