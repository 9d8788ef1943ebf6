// Package state persists share snapshots in SQLite.
//
// Snapshots are write-once: a second save under an existing id fails with
// ErrSnapshotExists and leaves the stored record untouched.
package state

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// ErrSnapshotExists is returned when saving under an id already in use.
var ErrSnapshotExists = errors.New("snapshot already exists")

// SQLiteStore implements core.SnapshotStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite snapshot store instance.
// If logger is nil, a discard logger is used.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens a connection to the SQLite database and migrates it.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = ":memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path

	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	s.logger.Debug("snapshot store opened", slog.String("path", path))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveSnapshot stores snap and its table in one transaction.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *core.Snapshot) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	dashboard, err := json.Marshal(snap.Dashboard)
	if err != nil {
		return fmt.Errorf("encode dashboard: %w", err)
	}
	params, err := json.Marshal(snap.ParamValues)
	if err != nil {
		return fmt.Errorf("encode parameter values: %w", err)
	}
	options, err := json.Marshal(snap.OptionValues)
	if err != nil {
		return fmt.Errorf("encode option values: %w", err)
	}

	table := snap.Table
	if table == nil {
		table = &core.Table{}
	}
	columns, err := json.Marshal(table.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}
	rows, err := json.Marshal(encodeRows(table.Rows))
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, created_at, hash, processed_query, dashboard, param_values, option_values)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, snap.ID, snap.CreatedAt.UTC(), snap.Hash, snap.ProcessedQuery, string(dashboard), string(params), string(options))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotExists, snap.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_tables (snapshot_id, column_names, row_data, row_count) VALUES (?, ?, ?, ?)`,
		snap.ID, string(columns), string(rows), len(table.Rows),
	); err != nil {
		return fmt.Errorf("insert snapshot table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("snapshot saved", slog.String("id", snap.ID), slog.Int("rows", len(table.Rows)))
	return nil
}

// GetSnapshot loads a snapshot by id. A missing id is a KindNotFound error.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*core.Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.created_at, s.hash, s.processed_query, s.dashboard, s.param_values, s.option_values,
		       t.column_names, t.row_data
		FROM snapshots s
		JOIN snapshot_tables t ON t.snapshot_id = s.id
		WHERE s.id = ?
	`, id)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Errorf(core.KindNotFound, "share", "share %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns the most recent snapshots first, without their
// tables. A limit of zero or less lists everything.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, limit int) ([]*core.Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, hash, processed_query, dashboard, param_values, option_values, '[]', 'null'
		FROM snapshots
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Table = nil
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(sc scanner) (*core.Snapshot, error) {
	var (
		snap                       core.Snapshot
		createdAt                  time.Time
		dashboard, params, options string
		columns, rows              string
	)
	if err := sc.Scan(&snap.ID, &createdAt, &snap.Hash, &snap.ProcessedQuery,
		&dashboard, &params, &options, &columns, &rows); err != nil {
		return nil, err
	}
	snap.CreatedAt = createdAt.UTC()

	if err := decode(dashboard, &snap.Dashboard); err != nil {
		return nil, fmt.Errorf("decode dashboard: %w", err)
	}
	if err := decode(params, &snap.ParamValues); err != nil {
		return nil, fmt.Errorf("decode parameter values: %w", err)
	}
	if err := decode(options, &snap.OptionValues); err != nil {
		return nil, fmt.Errorf("decode option values: %w", err)
	}

	table := &core.Table{}
	if err := decode(columns, &table.Columns); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	if err := decode(rows, &table.Rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	decodeRows(table.Rows)
	if table.Columns == nil {
		table.Columns = []string{}
	}
	if table.Rows == nil {
		table.Rows = []core.Record{}
	}
	snap.Table = table
	return &snap, nil
}

// decode keeps numbers as json.Number so integers keep their exact value.
func decode(s string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	return dec.Decode(v)
}

var _ core.SnapshotStore = (*SQLiteStore)(nil)
