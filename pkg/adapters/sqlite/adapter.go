// Package sqlite provides a SQLite data source adapter for leapdash,
// backed by the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapdash/pkg/adapter"

	_ "modernc.org/sqlite" // sqlite driver
)

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect opens the database file. Set Options["read_only"] to "true" to
// open it read-only, which is the recommended mode for dashboards.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := buildDSN(cfg)

	a.Logger.Debug("connecting to sqlite", slog.String("dsn", dsn))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	if cfg.Path == "" || cfg.Path == ":memory:" {
		// Every pooled connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

func buildDSN(cfg adapter.Config) string {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if path == ":memory:" {
		return path
	}
	dsn := "file:" + path
	if cfg.Options["read_only"] == "true" {
		dsn += "?mode=ro"
	}
	return dsn
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
