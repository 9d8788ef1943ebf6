// Package commands implements the leapdash subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/leapdash/internal/config"
	"github.com/leapstack-labs/leapdash/internal/definitions"
	"github.com/leapstack-labs/leapdash/internal/engine"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Loaded
	Logger *slog.Logger
	Engine *engine.Engine
}

// NewCommandContext creates a CommandContext with an engine.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return nil, nil, err
	}

	eng, err := createEngine(cmd, cc.Cfg, cc.Logger)
	if err != nil {
		return nil, nil, err
	}
	cc.Engine = eng

	cleanup := func() {
		_ = eng.Close()
	}
	return cc, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
// Useful for commands that don't touch the data source or snapshots.
func NewCommandContextWithoutEngine(cmd *cobra.Command) (*CommandContext, error) {
	cfg, ok := config.FromContext(cmd.Context())
	if !ok {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return &CommandContext{
		Cfg:    cfg,
		Logger: config.GetLogger(cmd.Context()),
	}, nil
}

// DefinitionStore opens the configured dashboards directory.
func (c *CommandContext) DefinitionStore() (*definitions.Store, error) {
	return definitions.NewStore(c.Cfg.DashboardsDir, definitions.WithLogger(c.Logger))
}

func createEngine(cmd *cobra.Command, cfg *config.Loaded, logger *slog.Logger) (*engine.Engine, error) {
	// Ensure state directory exists
	if cfg.StatePath != "" && cfg.StatePath != ":memory:" {
		stateDir := filepath.Dir(cfg.StatePath)
		if stateDir != "." && stateDir != "" {
			if err := os.MkdirAll(stateDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	defs, err := definitions.NewStore(cfg.DashboardsDir, definitions.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	key, err := cfg.CacheKey()
	if err != nil {
		return nil, err
	}

	return engine.New(cmd.Context(), engine.Config{
		Source:               cfg.Source.Adapter(),
		StatePath:            cfg.StatePath,
		Definitions:          defs,
		MaxSteps:             cfg.Sandbox.MaxSteps,
		SandboxTimeout:       cfg.Sandbox.Timeout,
		MaxConcurrency:       cfg.Sandbox.MaxConcurrency,
		MaxEntriesPerSession: cfg.Cache.MaxEntriesPerSession,
		CacheKey:             key,
		Logger:               logger,
	})
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// splitAssignment splits "key=value".
func splitAssignment(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", s)
	}
	return key, value, nil
}
