package config

import "github.com/leapstack-labs/leapdash/pkg/adapter"

// Default configuration values.
const (
	DefaultDashboardsDir      = "dashboards"
	DefaultStateFile          = ".leapdash/state.db"
	DefaultSourceType         = "duckdb"
	DefaultHost               = "127.0.0.1"
	DefaultPort               = 8787
	DefaultSessionIdleTimeout = "30m"
	DefaultMaxSteps           = 10_000_000
	DefaultSandboxTimeout     = "30s"
	DefaultMaxConcurrency     = 4
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "leapdash.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "leapdash.yml"

// EnvPrefix prefixes every environment variable leapdash reads. Nested
// keys use a double underscore: LEAPDASH_SERVER__PORT is server.port.
const EnvPrefix = "LEAPDASH_"

func defaults() map[string]any {
	return map[string]any{
		"dashboards_dir":                DefaultDashboardsDir,
		"state_path":                    DefaultStateFile,
		"source.type":                   DefaultSourceType,
		"server.host":                   DefaultHost,
		"server.port":                   DefaultPort,
		"server.session_idle_timeout":   DefaultSessionIdleTimeout,
		"server.watch":                  true,
		"sandbox.max_steps":             DefaultMaxSteps,
		"sandbox.timeout":               DefaultSandboxTimeout,
		"sandbox.max_concurrency":       DefaultMaxConcurrency,
		"cache.max_entries_per_session": 0,
		"log.level":                     DefaultLogLevel,
		"log.format":                    DefaultLogFormat,
	}
}

// ApplySourceDefaults resolves type aliases and fills type-specific
// source defaults.
func ApplySourceDefaults(s *SourceConfig) {
	s.Type = adapter.Canonical(s.Type)
	switch s.Type {
	case "postgres":
		if s.Port == 0 {
			s.Port = 5432
		}
		if s.Schema == "" {
			s.Schema = "public"
		}
	case "clickhouse":
		if s.Port == 0 {
			s.Port = 9000
		}
	case "duckdb":
		if s.Schema == "" {
			s.Schema = "main"
		}
	}
}
