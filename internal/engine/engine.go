// Package engine wires the dashboard collaborators together and exposes
// the core operations: template resolution, query execution, option
// inference, transformation runs and shares.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/leapdash/internal/cache"
	"github.com/leapstack-labs/leapdash/internal/runner"
	"github.com/leapstack-labs/leapdash/internal/share"
	"github.com/leapstack-labs/leapdash/internal/starlark"
	"github.com/leapstack-labs/leapdash/internal/state"
	"github.com/leapstack-labs/leapdash/internal/template"
	"github.com/leapstack-labs/leapdash/pkg/adapter"
	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Engine orchestrates dashboard operations.
type Engine struct {
	// Data source adapter (lazy initialized)
	db          adapter.Adapter
	dbConfig    adapter.Config
	dbConnected bool
	dbMu        sync.Mutex

	// source overrides the adapter, mostly for tests.
	source core.DataSource

	logger      *slog.Logger
	now         func() time.Time
	cache       *cache.Cache
	runner      *runner.Runner
	shares      *share.Service
	snapshots   core.SnapshotStore
	ownsStore   bool
	definitions core.DefinitionStore
}

// Config holds engine configuration.
type Config struct {
	// Source is the data-source adapter configuration.
	Source adapter.Config
	// DataSource replaces the adapter built from Source when set.
	DataSource core.DataSource

	// StatePath is the path to the SQLite snapshot database.
	StatePath string
	// Snapshots replaces the SQLite store when set.
	Snapshots core.SnapshotStore

	// Definitions stores dashboard definitions (optional).
	Definitions core.DefinitionStore

	// Sandbox replaces the Starlark sandbox when set.
	Sandbox core.Sandbox
	// MaxSteps and SandboxTimeout bound one snippet run.
	MaxSteps       uint64
	SandboxTimeout time.Duration
	// MaxConcurrency bounds concurrent visualization runs.
	MaxConcurrency int

	// MaxEntriesPerSession bounds cached results per session (0 = unbounded).
	MaxEntriesPerSession int
	// CacheKey fixes the hashing key (optional, random otherwise).
	CacheKey []byte

	// Now overrides the clock for relative dates and timestamps.
	Now func() time.Time
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// New creates an engine. The data source is connected on first use.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger.Debug("initializing engine", "source_type", cfg.Source.Type, "state_path", cfg.StatePath)

	e := &Engine{
		dbConfig:    cfg.Source,
		source:      cfg.DataSource,
		logger:      logger,
		now:         now,
		snapshots:   cfg.Snapshots,
		definitions: cfg.Definitions,
	}

	if e.snapshots == nil {
		store := state.NewSQLiteStore(logger)
		statePath := cfg.StatePath
		if statePath == "" {
			statePath = ":memory:"
		}
		if err := store.Open(ctx, statePath); err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		e.snapshots = store
		e.ownsStore = true
	}

	cacheOpts := []cache.Option{
		cache.WithLogger(logger),
		cache.WithMaxEntries(cfg.MaxEntriesPerSession),
		cache.WithClock(now),
	}
	if cfg.CacheKey != nil {
		cacheOpts = append(cacheOpts, cache.WithKey(cfg.CacheKey))
	}
	c, err := cache.New(e, cacheOpts...)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.cache = c

	sandbox := cfg.Sandbox
	if sandbox == nil {
		sbOpts := []starlark.Option{starlark.WithLogger(logger)}
		if cfg.MaxSteps > 0 {
			sbOpts = append(sbOpts, starlark.WithMaxSteps(cfg.MaxSteps))
		}
		if cfg.SandboxTimeout > 0 {
			sbOpts = append(sbOpts, starlark.WithTimeout(cfg.SandboxTimeout))
		}
		sandbox = starlark.New(sbOpts...)
	}
	e.runner = runner.New(sandbox, runner.WithLogger(logger), runner.WithConcurrency(cfg.MaxConcurrency))
	e.shares = share.New(e.snapshots, c, e.runner, share.WithLogger(logger), share.WithClock(now))

	return e, nil
}

// Fetch runs query on the configured data source, connecting it first if
// needed. The engine is the cache's data source.
func (e *Engine) Fetch(ctx context.Context, query string) (*core.Table, error) {
	if e.source != nil {
		return e.source.Fetch(ctx, query)
	}
	if err := e.ensureDBConnected(ctx); err != nil {
		return nil, err
	}
	return e.db.Fetch(ctx, query)
}

// ensureDBConnected lazily connects to the data source.
func (e *Engine) ensureDBConnected(ctx context.Context) error {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()

	if e.dbConnected {
		return nil
	}

	e.logger.Debug("connecting to data source", "adapter_type", e.dbConfig.Type)

	db, err := adapter.Open(ctx, e.dbConfig, e.logger)
	if err != nil {
		return err
	}

	e.db = db
	e.dbConnected = true
	e.logger.Debug("data source connected", "adapter_type", e.dbConfig.Type)
	return nil
}

// Close releases all resources.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")

	var errs []error
	e.dbMu.Lock()
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
		e.db = nil
		e.dbConnected = false
	}
	e.dbMu.Unlock()
	if e.ownsStore && e.snapshots != nil {
		if err := e.snapshots.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing engine: %w", errors.Join(errs...))
	}
	return nil
}

// --- Sessions ---

// OpenSession starts a new cache session.
func (e *Engine) OpenSession() string { return e.cache.Open() }

// EnsureSession creates the session if needed.
func (e *Engine) EnsureSession(id string) { e.cache.Ensure(id) }

// EndSession discards a session and its cached results.
func (e *Engine) EndSession(id string) { e.cache.End(id) }

// EvictIdle ends sessions idle for longer than maxIdle.
func (e *Engine) EvictIdle(maxIdle time.Duration) int { return e.cache.EvictIdle(maxIdle) }

// Stats reports cache usage.
func (e *Engine) Stats() cache.Stats { return e.cache.Stats() }

// resolver returns a template resolver on the engine clock.
func (e *Engine) resolver() *template.Resolver {
	return template.New(template.WithNow(e.now))
}
