package config

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapdash/internal/cache"
	"github.com/leapstack-labs/leapdash/pkg/adapter"
)

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	if c.Source.Type == "" {
		return fmt.Errorf("source.type is required")
	}
	if !adapter.IsRegistered(c.Source.Type) {
		return &adapter.UnknownAdapterError{Type: c.Source.Type, Available: adapter.ListAdapters()}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error: got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json: got %q", c.Log.Format)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.SessionIdleTimeout < 0 {
		return fmt.Errorf("server.session_idle_timeout must not be negative")
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive")
	}
	if c.Sandbox.MaxConcurrency < 1 {
		return fmt.Errorf("sandbox.max_concurrency must be at least 1")
	}
	if c.Cache.MaxEntriesPerSession < 0 {
		return fmt.Errorf("cache.max_entries_per_session must not be negative")
	}
	if _, err := c.CacheKey(); err != nil {
		return err
	}
	return nil
}

// CacheKey decodes the configured hashing key. It returns nil when no key
// is configured.
func (c *Config) CacheKey() ([]byte, error) {
	if c.Cache.Key == "" {
		return nil, nil
	}
	return cache.ParseKey(c.Cache.Key)
}
