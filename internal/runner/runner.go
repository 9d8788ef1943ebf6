// Package runner turns a cached query result into visualization output by
// running each visualization's snippet and classifying what it returns.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// DefaultConcurrency bounds RunAll when no limit is configured.
const DefaultConcurrency = 4

// Runner executes transformations. It keeps no state between calls.
type Runner struct {
	sandbox     core.Sandbox
	logger      *slog.Logger
	concurrency int
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithConcurrency bounds how many visualizations RunAll runs at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a runner backed by sandbox.
func New(sandbox core.Sandbox, opts ...Option) *Runner {
	r := &Runner{
		sandbox:     sandbox,
		logger:      slog.New(slog.DiscardHandler),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes code against a copy of the entry's table. Empty code
// returns the table itself. On failure the error is a *core.Error of
// KindTransform whose diagnostics hold the print output.
func (r *Runner) Run(ctx context.Context, entry *core.CacheEntry, code string, values core.OptionValues) (*core.Result, error) {
	if entry == nil {
		return nil, core.Errorf(core.KindNotFound, "transform", "no cached result")
	}

	if code == "" {
		return tableResult(entry.Table.Clone(), ""), nil
	}

	start := time.Now()
	out, err := r.sandbox.Run(ctx, code, core.Bindings{
		Table:   entry.Table.Clone(),
		Options: values.Clone(),
	})
	printed := ""
	if out != nil {
		printed = out.PrintOutput
	}
	if err != nil {
		r.logger.Debug("transform failed", slog.String("hash", entry.Hash), slog.String("error", err.Error()))
		if _, ok := core.AsError(err); ok {
			return nil, err
		}
		return nil, core.Wrap(err, core.KindTransform, "transform", "snippet failed").WithDiagnostics(printed)
	}

	res, err := Classify(out.Value, printed)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("transform finished",
		slog.String("hash", entry.Hash),
		slog.String("kind", string(res.Kind)),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// RunAll runs every visualization against the same entry. A failing
// visualization does not affect the others; its error is reported in its
// own outcome. values is keyed by visualization index.
func (r *Runner) RunAll(ctx context.Context, entry *core.CacheEntry, vizs []core.Visualization, values core.AllOptionValues) []core.VizOutcome {
	outcomes := make([]core.VizOutcome, len(vizs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, viz := range vizs {
		g.Go(func() error {
			res, err := r.Run(gctx, entry, viz.Code, values[i])
			outcomes[i] = core.VizOutcome{Index: i, Title: viz.Title, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Classify maps a snippet's value to a table or chart result.
// Accepted shapes: *core.Table, *core.Figure, a dict with a "data" key
// (chart), and a list of dicts (table).
func Classify(v any, printed string) (*core.Result, error) {
	switch x := v.(type) {
	case *core.Table:
		return tableResult(x, printed), nil
	case *core.Figure:
		return &core.Result{Kind: core.ResultChart, Chart: x, PrintOutput: printed}, nil
	case map[string]any:
		if data, ok := x["data"]; ok {
			fig := &core.Figure{Data: data, Layout: x["layout"], Config: x["config"]}
			return &core.Result{Kind: core.ResultChart, Chart: fig, PrintOutput: printed}, nil
		}
	case []any:
		if t, ok := recordsTable(x); ok {
			return tableResult(t, printed), nil
		}
	}
	return nil, core.Errorf(core.KindTransform, "transform", "result must be a table or a chart, got %s", describe(v)).
		WithDiagnostics(printed)
}

func tableResult(t *core.Table, printed string) *core.Result {
	res := &core.Result{
		Kind:        core.ResultTable,
		Columns:     []string{},
		Records:     []core.Record{},
		PrintOutput: printed,
	}
	if t == nil {
		return res
	}
	res.Columns = append(res.Columns, t.Columns...)
	for _, row := range t.Rows {
		rec := make(core.Record, len(t.Columns))
		for _, c := range t.Columns {
			rec[c] = NormalizeCell(row[c])
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

// NormalizeCell makes a cell value safe for the JSON records form:
// nested values become JSON text, times become RFC 3339, bytes become
// strings and narrow numbers widen to int64 or float64. nil stays nil.
func NormalizeCell(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float32:
		return float64(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case map[string]any, []any, core.Record:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return x
	}
}

func recordsTable(list []any) (*core.Table, bool) {
	t := &core.Table{Columns: []string{}, Rows: make([]core.Record, 0, len(list))}
	seen := make(map[string]bool)
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		for _, k := range slices.Sorted(maps.Keys(m)) {
			if !seen[k] {
				seen[k] = true
				t.Columns = append(t.Columns, k)
			}
		}
		t.Rows = append(t.Rows, core.Record(m))
	}
	return t, true
}

func describe(v any) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprintf("%T", v)
}
