// Package duckdb provides a DuckDB data source adapter for leapdash.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapdash/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" as the path for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	params, err := parseParams(cfg.Params)
	if err != nil {
		return fmt.Errorf("invalid duckdb params: %w", err)
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", path), slog.Int("views", len(params.Views)))

	db, err := sql.Open("duckdb", dsn(path, cfg.Options))
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg

	if err := a.applyParams(ctx, params); err != nil {
		_ = db.Close()
		a.DB = nil
		return err
	}
	return nil
}

// dsn opens file databases with access_mode=READ_ONLY when the source
// sets options.read_only. An in-memory database cannot be opened read-only.
func dsn(path string, opts map[string]string) string {
	if path == ":memory:" || opts["read_only"] != "true" {
		return path
	}
	return path + "?access_mode=READ_ONLY"
}

// applyParams installs extensions, applies settings, creates secrets,
// attaches databases and finally creates the file views.
func (a *Adapter) applyParams(ctx context.Context, p *Params) error {
	for _, ext := range p.Extensions {
		if err := a.Exec(ctx, fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}

	// Sorted for a deterministic statement order.
	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stmt := fmt.Sprintf("SET %s = '%s'", k, escapeString(p.Settings[k]))
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}

	for _, s := range p.Secrets {
		if err := a.Exec(ctx, buildCreateSecretSQL(s)); err != nil {
			return fmt.Errorf("failed to create %s secret: %w", s.Type, err)
		}
	}

	for _, at := range p.Attach {
		if err := a.Exec(ctx, buildAttachSQL(at)); err != nil {
			return fmt.Errorf("failed to attach %s: %w", at.Name, err)
		}
	}

	for _, name := range p.viewNames() {
		stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM '%s'", name, escapeString(p.Views[name]))
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create view %s: %w", name, err)
		}
	}
	return nil
}

func buildAttachSQL(at AttachConfig) string {
	opts := "READ_ONLY"
	if at.Type != "" {
		opts = "TYPE " + at.Type + ", READ_ONLY"
	}
	return fmt.Sprintf("ATTACH '%s' AS %s (%s)", escapeString(at.Path), at.Name, opts)
}

// buildCreateSecretSQL renders a CREATE SECRET statement for cfg.
func buildCreateSecretSQL(cfg SecretConfig) string {
	parts := []string{"TYPE " + cfg.Type}
	if cfg.Provider != "" {
		parts = append(parts, "PROVIDER "+cfg.Provider)
	}
	if cfg.Region != "" {
		parts = append(parts, fmt.Sprintf("REGION '%s'", escapeString(cfg.Region)))
	}
	if cfg.KeyID != "" {
		parts = append(parts, fmt.Sprintf("KEY_ID '%s'", escapeString(cfg.KeyID)))
	}
	if cfg.Secret != "" {
		parts = append(parts, fmt.Sprintf("SECRET '%s'", escapeString(cfg.Secret)))
	}
	if cfg.Endpoint != "" {
		parts = append(parts, fmt.Sprintf("ENDPOINT '%s'", escapeString(cfg.Endpoint)))
	}
	if cfg.URLStyle != "" {
		parts = append(parts, fmt.Sprintf("URL_STYLE '%s'", escapeString(cfg.URLStyle)))
	}
	if cfg.UseSSL != nil {
		parts = append(parts, fmt.Sprintf("USE_SSL %t", *cfg.UseSSL))
	}
	if scope := formatScope(cfg.Scope); scope != "" {
		parts = append(parts, "SCOPE "+scope)
	}
	return "CREATE SECRET (\n    " + strings.Join(parts, ",\n    ") + "\n)"
}

func formatScope(scope any) string {
	var items []string
	switch s := scope.(type) {
	case nil:
		return ""
	case string:
		return fmt.Sprintf("'%s'", escapeString(s))
	case []string:
		items = s
	case []any:
		for _, v := range s {
			items = append(items, fmt.Sprint(v))
		}
	default:
		return fmt.Sprintf("'%s'", escapeString(fmt.Sprint(s)))
	}
	if len(items) == 0 {
		return ""
	}
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("'%s'", escapeString(it))
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

func escapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
