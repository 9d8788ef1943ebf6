// Package clickhouse provides a ClickHouse data source adapter for leapdash.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/leapstack-labs/leapdash/pkg/adapter"
)

// Adapter implements the adapter.Adapter interface for ClickHouse.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new ClickHouse adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect opens a native-protocol connection pool to ClickHouse.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}

	a.Logger.Debug("connecting to clickhouse", slog.Any("addr", opts.Addr), slog.String("database", opts.Auth.Database))

	db := clickhouse.OpenDB(opts)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildOptions maps adapter config onto clickhouse.Options.
// Options["dial_timeout"] and Options["max_execution_time"] are optional.
func buildOptions(cfg adapter.Config) (*clickhouse.Options, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 9000
	}
	database := cfg.Database
	if database == "" {
		database = "default"
	}

	opts := &clickhouse.Options{
		Addr: []string{net.JoinHostPort(host, strconv.Itoa(port))},
		Auth: clickhouse.Auth{
			Database: database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "leapdash", Version: "dev"}},
		},
		DialTimeout: 10 * time.Second,
	}

	if v, ok := cfg.Options["dial_timeout"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid clickhouse dial_timeout %q: %w", v, err)
		}
		opts.DialTimeout = d
	}
	if v, ok := cfg.Options["max_execution_time"]; ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid clickhouse max_execution_time %q: %w", v, err)
		}
		opts.Settings = clickhouse.Settings{"max_execution_time": secs}
	}
	return opts, nil
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
