package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapdash/internal/options"
	"github.com/leapstack-labs/leapdash/internal/share"
	"github.com/leapstack-labs/leapdash/pkg/core"
)

// QueryResult describes a query execution.
type QueryResult struct {
	Hash           string                              `json:"hash"`
	ProcessedQuery string                              `json:"processed_query"`
	Columns        []string                            `json:"columns"`
	RowCount       int                                 `json:"row_count"`
	Inferred       map[int]map[string]options.Inferred `json:"options"`
}

// Prepare evaluates relative dates in the dashboard's defaults and
// choice lists and folds option defaults into static choices.
func (e *Engine) Prepare(dash core.Dashboard) core.Dashboard {
	return share.Prepare(dash, e.now())
}

// ResolveTemplate renders the dashboard query with values.
func (e *Engine) ResolveTemplate(dash core.Dashboard, values core.ParamValues) (string, error) {
	r := e.resolver()
	prepared := r.ExpandDashboard(dash)
	processed, err := r.Resolve(prepared.Query.Code, prepared.Parameters, values)
	if err != nil {
		return "", err
	}
	e.logger.Debug("template resolved", slog.Int("parameters", len(values)), slog.Int("length", len(processed)))
	return processed, nil
}

// ExecuteQuery resolves the query, executes it at most once per session
// and infers every visualization's option choices from the result.
// prior carries the current selections, keyed by visualization index.
func (e *Engine) ExecuteQuery(ctx context.Context, sessionID string, dash core.Dashboard, values core.ParamValues, prior core.AllOptionValues) (*QueryResult, error) {
	processed, err := e.ResolveTemplate(dash, values)
	if err != nil {
		return nil, err
	}

	e.cache.Ensure(sessionID)
	start := e.now()
	hash, err := e.cache.Execute(ctx, sessionID, processed)
	if err != nil {
		return nil, err
	}

	entry, err := e.cache.Entry(sessionID, hash)
	if err != nil {
		return nil, err
	}
	inferred := e.infer(entry, dash, prior)

	e.logger.Debug("query executed",
		slog.String("session", sessionID),
		slog.String("hash", hash),
		slog.Int("rows", entry.Table.Len()),
		slog.Duration("elapsed", time.Since(start)))

	return &QueryResult{
		Hash:           hash,
		ProcessedQuery: processed,
		Columns:        append([]string{}, entry.Table.Columns...),
		RowCount:       entry.Table.Len(),
		Inferred:       inferred,
	}, nil
}

// InferOptions computes the option choices and defaults of every
// visualization from the cached result.
func (e *Engine) InferOptions(sessionID, hash string, dash core.Dashboard, prior core.AllOptionValues) (map[int]map[string]options.Inferred, error) {
	entry, err := e.cache.Entry(sessionID, hash)
	if err != nil {
		return nil, err
	}
	return e.infer(entry, dash, prior), nil
}

// Table returns the cached result for hash.
func (e *Engine) Table(sessionID, hash string) (*core.Table, error) {
	entry, err := e.cache.Entry(sessionID, hash)
	if err != nil {
		return nil, err
	}
	return entry.Table, nil
}

func (e *Engine) infer(entry *core.CacheEntry, dash core.Dashboard, prior core.AllOptionValues) map[int]map[string]options.Inferred {
	prepared := e.Prepare(dash)
	out := make(map[int]map[string]options.Inferred, len(prepared.Visualizations))
	for i, viz := range prepared.Visualizations {
		out[i] = options.Infer(entry.Table, viz.Options, prior[i])
	}
	return out
}

// RunTransformation runs visualization vizIndex against the cached result
// for hash, with its option values coerced to their declared types.
func (e *Engine) RunTransformation(ctx context.Context, sessionID, hash string, dash core.Dashboard, vizIndex int, values core.OptionValues) (*core.Result, error) {
	entry, err := e.cache.Entry(sessionID, hash)
	if err != nil {
		return nil, err
	}
	prepared := e.Prepare(dash)
	viz, err := prepared.Visualization(vizIndex)
	if err != nil {
		return nil, err
	}
	coerced, err := options.Coerce(viz.Options, values)
	if err != nil {
		return nil, err
	}
	return e.runner.Run(ctx, entry, viz.Code, coerced)
}

// RunAll runs every visualization of dash. Missing selections are
// inferred; a failure stays within its own outcome.
func (e *Engine) RunAll(ctx context.Context, sessionID, hash string, dash core.Dashboard, values core.AllOptionValues) ([]core.VizOutcome, error) {
	entry, err := e.cache.Entry(sessionID, hash)
	if err != nil {
		return nil, err
	}
	prepared := e.Prepare(dash)

	coerced := make(core.AllOptionValues, len(prepared.Visualizations))
	coerceErrs := make(map[int]error)
	for i, viz := range prepared.Visualizations {
		selected := options.Selections(options.Infer(entry.Table, viz.Options, values[i]))
		v, err := options.Coerce(viz.Options, selected)
		if err != nil {
			coerceErrs[i] = err
			continue
		}
		coerced[i] = v
	}

	outcomes := e.runner.RunAll(ctx, entry, prepared.Visualizations, coerced)
	for i, err := range coerceErrs {
		outcomes[i].Result = nil
		outcomes[i].Err = err
	}
	return outcomes, nil
}

// CreateShare snapshots the cached result and inputs of a session.
func (e *Engine) CreateShare(ctx context.Context, req share.CreateRequest) (string, error) {
	return e.shares.Create(ctx, req)
}

// ResolveShare returns a stored snapshot.
func (e *Engine) ResolveShare(ctx context.Context, id string) (*core.Snapshot, error) {
	return e.shares.Resolve(ctx, id)
}

// ReplayShare re-runs a stored snapshot without its originating session.
func (e *Engine) ReplayShare(ctx context.Context, id string) (*share.Replay, error) {
	return e.shares.Replay(ctx, id)
}

// ListShares returns the most recent snapshots, without their tables.
func (e *Engine) ListShares(ctx context.Context, limit int) ([]*core.Snapshot, error) {
	snaps, err := e.snapshots.ListSnapshots(ctx, limit)
	if err != nil {
		return nil, core.Wrap(err, core.KindInternal, "share", "list snapshots")
	}
	return snaps, nil
}

// --- Definitions ---

func (e *Engine) definitionStore() (core.DefinitionStore, error) {
	if e.definitions == nil {
		return nil, core.Errorf(core.KindInvalidArgument, "definitions", "no dashboards directory configured")
	}
	return e.definitions, nil
}

// LoadDashboard loads a definition by path.
func (e *Engine) LoadDashboard(ctx context.Context, path string) (*core.Dashboard, error) {
	store, err := e.definitionStore()
	if err != nil {
		return nil, err
	}
	return store.Load(ctx, path)
}

// SaveDashboard stores a definition at path.
func (e *Engine) SaveDashboard(ctx context.Context, path string, dash *core.Dashboard) error {
	store, err := e.definitionStore()
	if err != nil {
		return err
	}
	return store.Save(ctx, path, dash)
}

// ListDashboards lists the paths of stored definitions.
func (e *Engine) ListDashboards(ctx context.Context) ([]string, error) {
	store, err := e.definitionStore()
	if err != nil {
		return nil, err
	}
	return store.List(ctx)
}
