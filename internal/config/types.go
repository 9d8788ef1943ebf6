// Package config provides configuration management for leapdash.
//
// Configuration is layered with koanf. Precedence, highest first:
// command-line flags, LEAPDASH_ environment variables, leapdash.yaml,
// built-in defaults.
package config

import (
	"time"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Config holds all leapdash configuration.
type Config struct {
	DashboardsDir string        `koanf:"dashboards_dir"`
	StatePath     string        `koanf:"state_path"`
	Source        SourceConfig  `koanf:"source"`
	Server        ServerConfig  `koanf:"server"`
	Sandbox       SandboxConfig `koanf:"sandbox"`
	Cache         CacheConfig   `koanf:"cache"`
	Log           LogConfig     `koanf:"log"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
}

// SourceConfig describes the data source queries run against.
type SourceConfig struct {
	Type     string            `koanf:"type"`
	Path     string            `koanf:"path"`
	Database string            `koanf:"database"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Schema   string            `koanf:"schema"`
	Options  map[string]string `koanf:"options"`
	Params   map[string]any    `koanf:"params"`
}

// Adapter converts the source config into an adapter config. File-based
// sources fall back to Database when Path is unset.
func (s SourceConfig) Adapter() core.AdapterConfig {
	path := s.Path
	if path == "" {
		path = s.Database
	}
	return core.AdapterConfig{
		Type:     s.Type,
		Path:     path,
		Host:     s.Host,
		Port:     s.Port,
		Database: s.Database,
		Username: s.User,
		Password: s.Password,
		Schema:   s.Schema,
		Options:  s.Options,
		Params:   s.Params,
	}
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	SessionSecret      string        `koanf:"session_secret"`
	AllowedOrigins     []string      `koanf:"allowed_origins"`
	SessionIdleTimeout time.Duration `koanf:"session_idle_timeout"`
	Watch              bool          `koanf:"watch"`
}

// SandboxConfig bounds snippet execution.
type SandboxConfig struct {
	MaxSteps       uint64        `koanf:"max_steps"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxConcurrency int           `koanf:"max_concurrency"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	MaxEntriesPerSession int `koanf:"max_entries_per_session"`
	// Key is a hex-encoded hashing key; empty means a random key per process.
	Key string `koanf:"key"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
