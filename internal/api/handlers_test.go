package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/definitions"
	"github.com/leapstack-labs/leapdash/internal/engine"
	"github.com/leapstack-labs/leapdash/internal/testutil"
	"github.com/leapstack-labs/leapdash/pkg/core"
)

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)

type countingSource struct {
	mu      sync.Mutex
	queries []string
}

func (s *countingSource) Fetch(_ context.Context, query string) (*core.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	return &core.Table{
		Columns: []string{"region", "amount"},
		Rows: []core.Record{
			{"region": "East", "amount": int64(10)},
			{"region": "West", "amount": int64(5)},
			{"region": "East", "amount": int64(7)},
		},
	}, nil
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

const salesDashboardJSON = `{
  "title": "Sales",
  "query": {"code": "SELECT region, amount FROM sales WHERE region IN (${region}) AND day >= '${since}'"},
  "parameters": [
    {"name": "region", "type": "multi_select", "choices": ["East", "West"], "default": ["East"], "format": {"wrapper": "'"}},
    {"name": "since", "type": "single_input", "default": "${yyyy-MM-dd-7d}"}
  ],
  "visualizations": [
    {"title": "raw", "code": ""},
    {
      "title": "top",
      "code": "rows = [r for r in df.rows if r[\"region\"] in options[\"region\"]]\nprint(\"kept\", len(rows))\nresult = table(rows, columns=[\"region\", \"amount\"])",
      "options": [{"name": "region", "type": "string", "multiple": true, "source": "column", "column": "region"}]
    },
    {"title": "broken", "code": "print('about to fail')\nresult = df.rows[99]"}
  ]
}`

func salesDashboard(t *testing.T) core.Dashboard {
	t.Helper()
	var d core.Dashboard
	require.NoError(t, json.Unmarshal([]byte(salesDashboardJSON), &d))
	return d
}

type testServer struct {
	*httptest.Server
	client *http.Client
	src    *countingSource
	srv    *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	defs, err := definitions.NewStore("mem://localhost/api_" + filepath.Base(t.Name()))
	require.NoError(t, err)

	src := &countingSource{}
	eng, err := engine.New(context.Background(), engine.Config{
		DataSource:  src,
		Definitions: defs,
		Now:         func() time.Time { return fixedNow },
		Logger:      testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	srv := NewServer(Config{Engine: eng, SessionSecret: "test-secret", Logger: testutil.NewTestLogger(t)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testServer{Server: ts, client: &http.Client{Jar: jar}, src: src, srv: srv}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestParseSQL(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantSQL    string
		wantKind   string
	}{
		{
			name:       "defaults and relative date",
			body:       map[string]any{"dashboard_config": salesDashboard(t)},
			wantStatus: http.StatusOK,
			wantSQL:    "SELECT region, amount FROM sales WHERE region IN ('East') AND day >= '2024-03-08'",
		},
		{
			name: "multi-value selection",
			body: map[string]any{
				"dashboard_config": salesDashboard(t),
				"param_values":     map[string]any{"region": []string{"East", "West"}},
			},
			wantStatus: http.StatusOK,
			wantSQL:    "SELECT region, amount FROM sales WHERE region IN ('East','West') AND day >= '2024-03-08'",
		},
		{
			name:       "bare query with relative date",
			body:       map[string]any{"sql_query": "SELECT * FROM t WHERE d = '${yyyy-MM-dd+1d}'"},
			wantStatus: http.StatusOK,
			wantSQL:    "SELECT * FROM t WHERE d = '2024-03-16'",
		},
		{
			name:       "undeclared placeholder",
			body:       map[string]any{"sql_query": "SELECT ${nope}"},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "templating",
		},
		{
			name:       "nothing to parse",
			body:       map[string]any{},
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_argument",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(t, http.MethodPost, "/api/parse_sql", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantKind != "" {
				assert.Equal(t, "error", body["status"])
				assert.Equal(t, tt.wantKind, body["kind"])
				return
			}
			assert.Equal(t, "success", body["status"])
			assert.Equal(t, tt.wantSQL, body["processed_sql"])
		})
	}
}

func TestQueryAndVisualize(t *testing.T) {
	ts := newTestServer(t)
	dash := salesDashboard(t)

	status, body := ts.do(t, http.MethodPost, "/api/query", map[string]any{
		"dashboard_config": dash,
		"param_values":     map[string]any{"region": []string{"East", "West"}},
	})
	require.Equal(t, http.StatusOK, status, body)
	hash, _ := body["query_hash"].(string)
	require.NotEmpty(t, hash)
	assert.NotEmpty(t, body["session_id"])
	assert.EqualValues(t, 3, body["row_count"])

	inferred := body["inferred_options"].(map[string]any)["1"].(map[string]any)
	assert.Equal(t, []any{"East", "West"}, inferred["region"].(map[string]any)["choices"])

	// Same inputs in the same cookie session hit the cache.
	status, again := ts.do(t, http.MethodPost, "/api/query", map[string]any{
		"dashboard_config": dash,
		"param_values":     map[string]any{"region": []string{"East", "West"}},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, hash, again["query_hash"])
	assert.Equal(t, body["session_id"], again["session_id"])
	assert.Equal(t, 1, ts.src.count())

	t.Run("single visualization", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/api/visualize", map[string]any{
			"dashboard_config": dash,
			"query_hash":       hash,
			"visualization":    1,
			"option_values":    map[string]any{"region": []string{"West"}},
		})
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, "table", body["result_type"])
		assert.Len(t, body["data"], 1)
		assert.Equal(t, "kept 1\n", body["print_output"])
	})

	t.Run("transform error keeps print output", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/api/visualize", map[string]any{
			"dashboard_config": dash,
			"query_hash":       hash,
			"visualization":    2,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "transform", body["kind"])
		assert.Equal(t, "about to fail\n", body["print_output"])
	})

	t.Run("all visualizations isolate failures", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/api/visualize", map[string]any{
			"dashboard_config": dash,
			"query_hash":       hash,
		})
		require.Equal(t, http.StatusOK, status, body)
		results := body["results"].([]any)
		require.Len(t, results, 3)
		assert.Equal(t, "success", results[0].(map[string]any)["status"])
		assert.Equal(t, "success", results[1].(map[string]any)["status"])
		broken := results[2].(map[string]any)
		assert.Equal(t, "error", broken["status"])
		assert.Equal(t, "broken", broken["title"])
	})

	t.Run("unknown hash", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/api/visualize", map[string]any{
			"dashboard_config": dash,
			"query_hash":       "deadbeef",
			"visualization":    0,
		})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "not_found", body["kind"])
	})

	t.Run("other session has no entry", func(t *testing.T) {
		status, _ := ts.do(t, http.MethodPost, "/api/visualize", map[string]any{
			"session_id":       "someone-else",
			"dashboard_config": dash,
			"query_hash":       hash,
			"visualization":    0,
		})
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestVisualize_RequiresHash(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodPost, "/api/visualize", map[string]any{"sql_query": "SELECT 1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", body["kind"])
}

func TestShare(t *testing.T) {
	ts := newTestServer(t)
	dash := salesDashboard(t)

	_, body := ts.do(t, http.MethodPost, "/api/query", map[string]any{"dashboard_config": dash})
	hash := body["query_hash"].(string)
	sid := body["session_id"].(string)

	status, created := ts.do(t, http.MethodPost, "/api/share", map[string]any{
		"session_id":        sid,
		"query_hash":        hash,
		"dashboard_config":  dash,
		"all_option_values": map[string]any{"1": map[string]any{"region": []string{"West"}}},
	})
	require.Equal(t, http.StatusOK, status, created)
	id := created["share_id"].(string)
	require.Len(t, id, 10)

	status, shared := ts.do(t, http.MethodGet, "/api/share/"+id, nil)
	require.Equal(t, http.StatusOK, status, shared)
	assert.Equal(t, hash, shared["query_hash"])
	assert.Equal(t, "share:"+id, shared["session_id"])
	assert.Equal(t, "SELECT region, amount FROM sales WHERE region IN ('East') AND day >= '2024-03-08'", shared["processed_sql"])

	results := shared["results"].([]any)
	require.Len(t, results, 3)
	top := results[1].(map[string]any)
	assert.Equal(t, "kept 1\n", top["print_output"])
	assert.Equal(t, 1, ts.src.count(), "replay never queries the source")

	t.Run("unknown hash", func(t *testing.T) {
		status, body := ts.do(t, http.MethodPost, "/api/share", map[string]any{
			"session_id":       sid,
			"query_hash":       "nope",
			"dashboard_config": dash,
		})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "not_found", body["kind"])
	})

	t.Run("unknown share", func(t *testing.T) {
		status, _ := ts.do(t, http.MethodGet, "/api/share/0000000000", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestDashboards(t *testing.T) {
	ts := newTestServer(t)
	updates := ts.srv.Notifier().Subscribe()
	defer ts.srv.Notifier().Unsubscribe(updates)

	status, body := ts.do(t, http.MethodPut, "/api/dashboards/team/sales.yaml", salesDashboard(t))
	require.Equal(t, http.StatusOK, status, body)

	select {
	case got := <-updates:
		assert.Equal(t, "team/sales.yaml", got)
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}

	status, body = ts.do(t, http.MethodGet, "/api/dashboards", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"team/sales.yaml"}, body["dashboards"])

	status, body = ts.do(t, http.MethodGet, "/api/dashboards/team/sales.yaml", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Sales", body["dashboard_config"].(map[string]any)["title"])

	status, body = ts.do(t, http.MethodPost, "/api/query", map[string]any{"dashboard_path": "team/sales.yaml"})
	require.Equal(t, http.StatusOK, status, body)
	assert.NotEmpty(t, body["query_hash"])

	status, body = ts.do(t, http.MethodGet, "/api/dashboards/missing.yaml", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["kind"])

	status, body = ts.do(t, http.MethodPut, "/api/dashboards/bad.yaml", map[string]any{"title": "no query"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", body["kind"])
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.client.Post(ts.URL+"/api/query", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestJanitorPeriod(t *testing.T) {
	tests := []struct {
		idle time.Duration
		want time.Duration
	}{
		{time.Millisecond, time.Second},
		{20 * time.Second, 5 * time.Second},
		{30 * time.Minute, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, janitorPeriod(tt.idle), tt.idle.String())
	}
}

func TestServeListener_Shutdown(t *testing.T) {
	eng, err := engine.New(context.Background(), engine.Config{DataSource: &countingSource{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	srv := NewServer(Config{Engine: eng, SessionIdleTimeout: time.Minute, WatchDir: t.TempDir()})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestQuery_ConcurrentSameSession(t *testing.T) {
	ts := newTestServer(t)
	payload, err := json.Marshal(map[string]any{
		"session_id":       "shared",
		"dashboard_config": salesDashboard(t),
	})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	hashes := make([]string, n)
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(ts.URL+"/api/query", "application/json", bytes.NewReader(payload))
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				errs <- err
				return
			}
			hashes[i], _ = body["query_hash"].(string)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, h := range hashes {
		assert.NotEmpty(t, h)
		assert.Equal(t, hashes[0], h)
	}
	assert.Equal(t, 1, ts.src.count())
}
