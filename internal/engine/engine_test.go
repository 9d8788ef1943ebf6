package engine

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/definitions"
	"github.com/leapstack-labs/leapdash/internal/share"
	"github.com/leapstack-labs/leapdash/internal/testutil"
	"github.com/leapstack-labs/leapdash/pkg/adapter"
	"github.com/leapstack-labs/leapdash/pkg/core"

	_ "github.com/leapstack-labs/leapdash/pkg/adapters/sqlite"
)

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)

// recordingSource remembers every query it was asked to run.
type recordingSource struct {
	mu      sync.Mutex
	queries []string
	table   *core.Table
	err     error
}

func (s *recordingSource) Fetch(_ context.Context, query string) (*core.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.table.Clone(), nil
}

func salesTable() *core.Table {
	return &core.Table{
		Columns: []string{"region", "amount"},
		Rows: []core.Record{
			{"region": "East", "amount": int64(10)},
			{"region": "West", "amount": int64(5)},
			{"region": "East", "amount": int64(7)},
		},
	}
}

func salesDashboard() core.Dashboard {
	return core.Dashboard{
		Title: "Sales",
		Query: core.Query{Code: "SELECT region, amount FROM sales WHERE region IN (${region}) AND day >= '${since}'"},
		Parameters: []core.Parameter{
			{
				Name:    "region",
				Type:    core.ParamMultiSelect,
				Choices: []string{"East", "West"},
				Default: core.ListValue("East"),
				Format:  core.ParamFormat{Wrapper: "'"},
			},
			{Name: "since", Type: core.ParamSingleInput, Default: core.StringValue("${yyyy-MM-dd-7d}")},
		},
		Visualizations: []core.Visualization{
			{Title: "raw"},
			{
				Title: "top",
				Code: `
rows = [r for r in df.rows if r["region"] in options["region"]]
rows = sorted(rows, key=lambda r: -r["amount"])[:options["limit"]]
print("kept", len(rows))
result = table(rows, columns=["region", "amount"])
`,
				Options: []core.VisualizationOption{
					{Name: "region", Type: core.OptionString, Multiple: true, Source: core.ColumnSource{Column: "region"}},
					{Name: "limit", Type: core.OptionInteger, Source: core.ListSource{Choices: []any{"1", "2"}}, Default: "2"},
				},
			},
			{
				Title: "chart",
				Code:  `result = chart([{"type": "bar", "x": df.column("region"), "y": df.column("amount")}], layout={"title": "Sales"})`,
			},
		},
	}
}

func newTestEngine(t *testing.T, src core.DataSource) *Engine {
	t.Helper()
	defs, err := definitions.NewStore("mem://localhost/engine_" + filepath.Base(t.Name()))
	require.NoError(t, err)

	e, err := New(context.Background(), Config{
		DataSource:  src,
		Definitions: defs,
		Now:         func() time.Time { return fixedNow },
		Logger:      testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_ResolveTemplate(t *testing.T) {
	e := newTestEngine(t, &recordingSource{table: salesTable()})

	processed, err := e.ResolveTemplate(salesDashboard(), core.ParamValues{
		"region": core.ListValue("East", "West"),
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT region, amount FROM sales WHERE region IN ('East','West') AND day >= '2024-03-08'", processed)

	_, err = e.ResolveTemplate(core.Dashboard{Query: core.Query{Code: "SELECT ${nope}"}}, nil)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindTemplating))
}

func TestEngine_ExecuteQuery(t *testing.T) {
	src := &recordingSource{table: salesTable()}
	e := newTestEngine(t, src)
	sid := e.OpenSession()
	ctx := context.Background()

	res, err := e.ExecuteQuery(ctx, sid, salesDashboard(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT region, amount FROM sales WHERE region IN ('East') AND day >= '2024-03-08'", res.ProcessedQuery)
	assert.Equal(t, []string{"region", "amount"}, res.Columns)
	assert.Equal(t, 3, res.RowCount)
	assert.NotEmpty(t, res.Hash)

	top := res.Inferred[1]
	assert.Equal(t, []any{"East", "West"}, top["region"].Choices)
	assert.Equal(t, []any{}, top["region"].Default)
	assert.Equal(t, []any{"1", "2"}, top["limit"].Choices)
	assert.Equal(t, "2", top["limit"].Default)

	again, err := e.ExecuteQuery(ctx, sid, salesDashboard(), nil, core.AllOptionValues{1: {"region": []any{"West"}}})
	require.NoError(t, err)
	assert.Equal(t, res.Hash, again.Hash)
	assert.Equal(t, []any{"West"}, again.Inferred[1]["region"].Default)
	assert.Len(t, src.queries, 1, "second execution is served from the cache")

	tbl, err := e.Table(sid, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())

	_, err = e.Table(sid, "0000")
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

func TestEngine_ExecuteQuery_DriverError(t *testing.T) {
	e := newTestEngine(t, &recordingSource{err: errors.New(`no such table: sales`)})
	sid := e.OpenSession()

	_, err := e.ExecuteQuery(context.Background(), sid, salesDashboard(), nil, nil)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindExecution))
	assert.ErrorContains(t, err, "no such table")
	assert.Equal(t, 0, e.Stats().Entries)
}

func TestEngine_RunTransformation(t *testing.T) {
	e := newTestEngine(t, &recordingSource{table: salesTable()})
	sid := e.OpenSession()
	ctx := context.Background()
	dash := salesDashboard()

	res, err := e.ExecuteQuery(ctx, sid, dash, nil, nil)
	require.NoError(t, err)

	raw, err := e.RunTransformation(ctx, sid, res.Hash, dash, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, core.ResultTable, raw.Kind)
	assert.Len(t, raw.Records, 3)

	top, err := e.RunTransformation(ctx, sid, res.Hash, dash, 1, core.OptionValues{"region": []any{"East"}, "limit": "1"})
	require.NoError(t, err)
	assert.Equal(t, core.ResultTable, top.Kind)
	assert.Equal(t, []core.Record{{"region": "East", "amount": int64(10)}}, top.Records)
	assert.Equal(t, "kept 1\n", top.PrintOutput)

	chart, err := e.RunTransformation(ctx, sid, res.Hash, dash, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, core.ResultChart, chart.Kind)
	assert.Equal(t, map[string]any{"title": "Sales"}, chart.Chart.Layout)

	_, err = e.RunTransformation(ctx, sid, res.Hash, dash, 9, nil)
	assert.True(t, core.IsKind(err, core.KindNotFound))

	_, err = e.RunTransformation(ctx, sid, "unknown", dash, 0, nil)
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

func TestEngine_RunAll_IsolatesFailures(t *testing.T) {
	e := newTestEngine(t, &recordingSource{table: salesTable()})
	sid := e.OpenSession()
	ctx := context.Background()

	dash := salesDashboard()
	dash.Visualizations = append(dash.Visualizations, core.Visualization{
		Title: "broken",
		Code:  "print('about to fail')\nresult = df.rows[99]",
	})

	res, err := e.ExecuteQuery(ctx, sid, dash, nil, nil)
	require.NoError(t, err)

	outcomes, err := e.RunAll(ctx, sid, res.Hash, dash, core.AllOptionValues{1: {"region": []any{"East", "West"}}})
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	for _, o := range outcomes[:3] {
		assert.NoError(t, o.Err, o.Title)
	}
	assert.Len(t, outcomes[1].Result.Records, 2)

	broken := outcomes[3].Err
	require.Error(t, broken)
	assert.True(t, core.IsKind(broken, core.KindTransform))
	assert.Equal(t, "about to fail\n", core.DiagnosticsOf(broken))
}

func TestEngine_Share(t *testing.T) {
	src := &recordingSource{table: salesTable()}
	e := newTestEngine(t, src)
	sid := e.OpenSession()
	ctx := context.Background()
	dash := salesDashboard()

	res, err := e.ExecuteQuery(ctx, sid, dash, nil, nil)
	require.NoError(t, err)

	id, err := e.CreateShare(ctx, share.CreateRequest{
		SessionID:      sid,
		Hash:           res.Hash,
		Dashboard:      dash,
		ProcessedQuery: res.ProcessedQuery,
		OptionValues:   core.AllOptionValues{1: {"region": []any{"West"}, "limit": "1"}},
	})
	require.NoError(t, err)

	e.EndSession(sid)

	snap, err := e.ResolveShare(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.ProcessedQuery, snap.ProcessedQuery)
	assert.True(t, fixedNow.Equal(snap.CreatedAt))

	replay, err := e.ReplayShare(ctx, id)
	require.NoError(t, err)
	require.NoError(t, replay.Outcomes[1].Err)
	assert.Len(t, replay.Outcomes[1].Result.Records, 1)
	assert.Equal(t, "West", replay.Outcomes[1].Result.Records[0]["region"])
	assert.Len(t, src.queries, 1, "replay never touches the data source")

	listed, err := e.ListShares(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)
}

// TestEngine_ReplayMatchesLive shares a run and replays it after the
// session is gone and the clock has moved on. Every outcome must match
// what the live session produced.
func TestEngine_ReplayMatchesLive(t *testing.T) {
	table := &core.Table{
		Columns: []string{"region", "ratio", "amount", "at"},
		Rows: []core.Record{
			{"region": "East", "ratio": float64(2), "amount": 2.5, "at": time.Date(2024, 3, 14, 8, 30, 15, 123456789, time.UTC)},
			{"region": "West", "ratio": float64(-1e21), "amount": float32(0.5), "at": time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		},
	}

	tests := []struct {
		name  string
		viz   core.Visualization
		prior core.OptionValues
		want  []core.Record
	}{
		{
			name: "list default outside the choices",
			viz: core.Visualization{
				Code: `result = table([{"n": options["n"], "kind": type(options["n"])}])`,
				Options: []core.VisualizationOption{{
					Name: "n", Type: core.OptionInteger,
					Source: core.ListSource{Choices: []any{5, 10}}, Default: 20,
				}},
			},
			want: []core.Record{{"n": int64(20), "kind": "int"}},
		},
		{
			name: "relative date choices",
			viz: core.Visualization{
				Code: `result = table([{"day": options["day"]}])`,
				Options: []core.VisualizationOption{{
					Name: "day", Type: core.OptionString,
					Source: core.ListSource{Choices: []any{"${yyyy-MM-dd}", "${yyyy-MM-dd-1d}"}},
				}},
			},
			prior: core.OptionValues{"day": "2024-03-14"},
			want:  []core.Record{{"day": "2024-03-14"}},
		},
		{
			name: "float cells stay floats",
			viz: core.Visualization{
				Code: `result = table([{"ratio": str(r["ratio"]), "amount": str(r["amount"]), "kind": type(r["ratio"])} for r in df.rows])`,
			},
			want: []core.Record{
				{"ratio": "2.0", "amount": "2.5", "kind": "float"},
				{"ratio": "-1e+21", "amount": "0.5", "kind": "float"},
			},
		},
		{
			name: "time cells keep their text",
			viz: core.Visualization{
				Code: `result = table([{"at": r["at"]} for r in df.rows])`,
			},
			want: []core.Record{{"at": "2024-03-14T08:30:15Z"}, {"at": "2024-03-15T00:00:00Z"}},
		},
		{
			name: "raw table",
			viz:  core.Visualization{},
			want: []core.Record{
				{"region": "East", "ratio": float64(2), "amount": 2.5, "at": "2024-03-14T08:30:15Z"},
				{"region": "West", "ratio": float64(-1e21), "amount": float64(0.5), "at": "2024-03-15T00:00:00Z"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
			e, err := New(ctx, Config{
				DataSource: &recordingSource{table: table},
				Now:        func() time.Time { return clock },
				Logger:     testutil.NewTestLogger(t),
			})
			require.NoError(t, err)
			defer func() { _ = e.Close() }()

			dash := core.Dashboard{
				Title:          "Replay",
				Query:          core.Query{Code: "SELECT * FROM sales"},
				Visualizations: []core.Visualization{tt.viz},
			}
			dash.Visualizations[0].Title = tt.name
			prior := core.AllOptionValues{0: tt.prior}

			sid := e.OpenSession()
			res, err := e.ExecuteQuery(ctx, sid, dash, nil, prior)
			require.NoError(t, err)
			live, err := e.RunAll(ctx, sid, res.Hash, dash, prior)
			require.NoError(t, err)
			require.NoError(t, live[0].Err)
			assert.Equal(t, tt.want, live[0].Result.Records)

			id, err := e.CreateShare(ctx, share.CreateRequest{
				SessionID:      sid,
				Hash:           res.Hash,
				Dashboard:      dash,
				ProcessedQuery: res.ProcessedQuery,
				OptionValues:   prior,
			})
			require.NoError(t, err)
			e.EndSession(sid)
			clock = clock.Add(36 * time.Hour)

			replay, err := e.ReplayShare(ctx, id)
			require.NoError(t, err)
			require.Len(t, replay.Outcomes, 1)
			require.NoError(t, replay.Outcomes[0].Err)
			assert.Equal(t, live[0].Result, replay.Outcomes[0].Result)
		})
	}
}

func TestEngine_Definitions(t *testing.T) {
	e := newTestEngine(t, &recordingSource{table: salesTable()})
	ctx := context.Background()
	dash := salesDashboard()

	require.NoError(t, e.SaveDashboard(ctx, "sales.yaml", &dash))

	paths, err := e.ListDashboards(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales.yaml"}, paths)

	loaded, err := e.LoadDashboard(ctx, "sales.yaml")
	require.NoError(t, err)
	assert.Equal(t, dash.Query, loaded.Query)

	bare, err := New(ctx, Config{DataSource: &recordingSource{}})
	require.NoError(t, err)
	defer func() { _ = bare.Close() }()
	_, err = bare.ListDashboards(ctx)
	assert.True(t, core.IsKind(err, core.KindInvalidArgument))
}

// TestEngine_SQLiteScenario runs the region filter end to end against a
// real SQLite file through the adapter registry.
func TestEngine_SQLiteScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE sales (region TEXT, amount INTEGER, day TEXT);
		INSERT INTO sales VALUES ('East', 10, '2024-03-10'), ('West', 5, '2024-03-11'),
		                         ('North', 8, '2024-03-12'), ('East', 7, '2024-01-01');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()
	e, err := New(ctx, Config{
		Source: adapter.Config{Type: "sqlite", Path: path},
		Now:    func() time.Time { return fixedNow },
		Logger: testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	sid := e.OpenSession()
	res, err := e.ExecuteQuery(ctx, sid, salesDashboard(), core.ParamValues{
		"region": core.ListValue("East", "West"),
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, res.ProcessedQuery, "region IN ('East','West')")
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, []any{"East", "West"}, res.Inferred[1]["region"].Choices)

	out, err := e.RunTransformation(ctx, sid, res.Hash, salesDashboard(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []core.Record{
		{"region": "East", "amount": int64(10)},
		{"region": "West", "amount": int64(5)},
	}, out.Records)
}

func TestEngine_SourceConnectFailure(t *testing.T) {
	logger, logs := testutil.NewCaptureLogger()
	ctx := context.Background()
	e, err := New(ctx, Config{
		Source: adapter.Config{Type: "sqlite3", Path: filepath.Join(t.TempDir(), "missing", "nested", "x.db")},
		Logger: logger,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.ExecuteQuery(ctx, e.OpenSession(), core.Dashboard{Query: core.Query{Code: "SELECT 1"}}, nil, nil)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindExecution))
	assert.True(t, logs.Contains("connecting to data source"))
	assert.False(t, logs.Contains("data source connected"))
}
