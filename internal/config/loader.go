package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store the logger in a command context.
type loggerKey struct{}

// configKey is used to store the loaded config in a command context.
type configKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps flag names whose config key is not the snake_case name.
var flagKeys = map[string]string{
	"state":      "state_path",
	"source":     "source.type",
	"database":   "source.database",
	"host":       "server.host",
	"port":       "server.port",
	"watch":      "server.watch",
	"log_level":  "log.level",
	"log_format": "log.format",
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// Loaded is a loaded configuration plus where it came from.
type Loaded struct {
	*Config
	// File is the config file used, empty when none was found.
	File string
}

// configExistsIn returns the config file in dir, or "".
func configExistsIn(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a leapdash config file.
func findConfigUpward(startDir string) string {
	dir := startDir
	for range maxUpwardSearchLevels {
		if f := configExistsIn(dir); f != "" {
			return f
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// URLs, :memory: and empty paths are returned unchanged.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) || strings.Contains(path, "://") {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Load loads configuration from defaults, the config file, environment
// variables and flags. Precedence (highest to lowest): flags > env vars >
// config file > defaults. An explicit cfgFile must exist; otherwise the
// file is searched upward from the working directory.
func Load(cfgFile string, flags *pflag.FlagSet) (*Loaded, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	if cfgFile == "" {
		cfgFile = findConfigUpward(cwd)
	}
	projectRoot := cwd
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		if abs, err := filepath.Abs(cfgFile); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	}

	// 3. Environment: LEAPDASH_SERVER__PORT -> server.port
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set. Paths given as flags are
	// relative to the working directory, not the project root.
	flagPaths := map[string]bool{}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if mapped, ok := flagKeys[key]; ok {
				key = mapped
			}
			if key == "dashboards_dir" || key == "state_path" {
				flagPaths[key] = true
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Paths, secrets and per-type defaults
	cfg.ProjectRoot = projectRoot
	if !flagPaths["dashboards_dir"] {
		cfg.DashboardsDir = resolvePathRelativeTo(cfg.DashboardsDir, projectRoot)
	}
	if !flagPaths["state_path"] {
		cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectRoot)
	}
	ApplySourceDefaults(&cfg.Source)
	if cfg.Source.Type == "duckdb" || cfg.Source.Type == "sqlite" {
		cfg.Source.Path = resolvePathRelativeTo(cfg.Source.Path, projectRoot)
	}
	expandSourceEnvVars(&cfg.Source)
	cfg.Server.SessionSecret = expandEnvVars(cfg.Server.SessionSecret)
	cfg.Cache.Key = expandEnvVars(cfg.Cache.Key)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loaded{Config: &cfg, File: cfgFile}, nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandSourceEnvVars expands environment variables in sensitive source fields.
func expandSourceEnvVars(s *SourceConfig) {
	s.Password = expandEnvVars(s.Password)
	s.User = expandEnvVars(s.User)
	s.Host = expandEnvVars(s.Host)
	s.Database = expandEnvVars(s.Database)
	s.Path = expandEnvVars(s.Path)
}

// NewLogger builds the process logger described by c.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// WithLogger stores the logger in ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// WithConfig stores the loaded config in ctx.
func WithConfig(ctx context.Context, c *Loaded) context.Context {
	return context.WithValue(ctx, configKey{}, c)
}

// FromContext retrieves the loaded config from the command context.
func FromContext(ctx context.Context) (*Loaded, bool) {
	c, ok := ctx.Value(configKey{}).(*Loaded)
	return c, ok
}
