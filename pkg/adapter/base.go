package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close, Exec, and Fetch implementations.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    core.AdapterConfig
	Logger *slog.Logger

	// MaxRows caps how many rows Fetch reads; 0 means unlimited.
	MaxRows int
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	_, err := b.DB.ExecContext(ctx, sqlStr)
	if err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Fetch runs a query and reads the whole result into a table.
func (b *BaseSQLAdapter) Fetch(ctx context.Context, query string) (*core.Table, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	start := time.Now()
	rows, err := b.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	table, err := ScanTable(rows, b.MaxRows)
	if err != nil {
		return nil, err
	}
	if b.Logger != nil {
		b.Logger.Debug("query fetched",
			slog.Int("rows", table.Len()),
			slog.Int("columns", len(table.Columns)),
			slog.Duration("elapsed", time.Since(start)))
	}
	return table, nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// ScanTable reads rows into a table, keeping column order. Driver values
// are reduced to plain Go kinds (see normalizeValue) so results serialize
// and bind to snippets the same way for every source. A positive limit
// stops reading after that many rows.
func ScanTable(rows *sql.Rows, limit int) (*core.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}
	dbTypes := make([]string, len(cols))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			if i < len(dbTypes) {
				dbTypes[i] = strings.ToUpper(ct.DatabaseTypeName())
			}
		}
	}

	table := &core.Table{Columns: cols, Rows: []core.Record{}}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if limit > 0 && len(table.Rows) >= limit {
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec := make(core.Record, len(cols))
		for i, c := range cols {
			rec[c] = normalizeColumn(vals[i], dbTypes[i])
		}
		table.Rows = append(table.Rows, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return table, nil
}

// normalizeColumn is normalizeValue plus the cases only the column's
// database type can settle, such as UUIDs scanned as raw bytes.
func normalizeColumn(v any, dbType string) any {
	if dbType == "UUID" {
		if b, ok := v.([]byte); ok && len(b) == 16 {
			if id, err := uuid.FromBytes(b); err == nil {
				return id.String()
			}
		}
	}
	return normalizeValue(v)
}

type float64er interface{ Float64() float64 }

type exactFloat64er interface {
	Float64() (float64, big.Accuracy)
}

// normalizeValue maps driver types onto strings, int64 and float64.
// Wide integers (e.g. DuckDB HUGEINT sums) stay integers when they fit
// in int64 and become decimal strings when they do not. Decimals become
// float64. Other driver types with a String method become that string.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, float64, time.Time:
		return x
	case []byte:
		return string(x)
	case sql.RawBytes:
		return string(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case big.Int:
		return normalizeValue(&x)
	case [16]byte:
		return uuid.UUID(x).String()
	case uuid.UUID:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Map, reflect.Slice:
		return v
	case reflect.Array:
		if rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8 {
			var id uuid.UUID
			for i := range id {
				id[i] = byte(rv.Index(i).Uint())
			}
			return id.String()
		}
	}

	// Driver value types often declare their methods on the pointer, so
	// look at an addressable copy.
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)
	for _, m := range []any{v, ptr.Interface()} {
		switch d := m.(type) {
		case float64er:
			return d.Float64()
		case exactFloat64er:
			f, _ := d.Float64()
			return f
		}
	}
	for _, m := range []any{v, ptr.Interface()} {
		if s, ok := m.(fmt.Stringer); ok {
			return s.String()
		}
	}
	return v
}
