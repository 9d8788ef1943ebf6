package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/leapdash/internal/engine"
	"github.com/leapstack-labs/leapdash/internal/share"
	"github.com/leapstack-labs/leapdash/pkg/core"
)

const (
	sessionName = "leapdash"
	sessionKey  = "sid"
)

// dashboardRef names the dashboard a request runs against: inline, a
// stored definition path, or a bare query. SQLQuery replaces the
// dashboard's query text when set.
type dashboardRef struct {
	Dashboard *core.Dashboard `json:"dashboard_config,omitempty"`
	Path      string          `json:"dashboard_path,omitempty"`
	SQLQuery  string          `json:"sql_query,omitempty"`
}

// ParseSQLRequest asks for the processed query without executing it.
type ParseSQLRequest struct {
	dashboardRef
	ParamValues core.ParamValues `json:"param_values"`
}

// QueryRequest executes the dashboard query.
type QueryRequest struct {
	dashboardRef
	SessionID       string               `json:"session_id"`
	ParamValues     core.ParamValues     `json:"param_values"`
	AllOptionValues core.AllOptionValues `json:"all_option_values"`
}

// VisualizeRequest runs one visualization, or all of them when
// Visualization is omitted.
type VisualizeRequest struct {
	dashboardRef
	SessionID       string               `json:"session_id"`
	QueryHash       string               `json:"query_hash"`
	Visualization   *int                 `json:"visualization"`
	OptionValues    core.OptionValues    `json:"option_values"`
	AllOptionValues core.AllOptionValues `json:"all_option_values"`
}

// ShareRequest snapshots an executed dashboard.
type ShareRequest struct {
	dashboardRef
	SessionID       string               `json:"session_id"`
	QueryHash       string               `json:"query_hash"`
	ParamValues     core.ParamValues     `json:"param_values"`
	AllOptionValues core.AllOptionValues `json:"all_option_values"`
}

// Handlers provides the HTTP handlers of the API.
type Handlers struct {
	engine       *engine.Engine
	sessionStore sessions.Store
	notifier     *Notifier
	logger       *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine, sessionStore sessions.Store, notify *Notifier, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{
		engine:       eng,
		sessionStore: sessionStore,
		notifier:     notify,
		logger:       logger,
	}
}

// SetupRoutes registers the API routes.
func SetupRoutes(router chi.Router, h *Handlers) {
	router.Get("/healthz", h.Health)

	router.Route("/api", func(r chi.Router) {
		r.Post("/parse_sql", h.ParseSQL)
		r.Post("/query", h.Query)
		r.Post("/visualize", h.Visualize)
		r.Post("/share", h.CreateShare)
		r.Get("/share/{id}", h.GetShare)
		r.Get("/dashboards", h.ListDashboards)
		r.Get("/dashboards/*", h.GetDashboard)
		r.Put("/dashboards/*", h.PutDashboard)
		r.Get("/events", h.Events)
	})
}

// sessionID returns the explicit id when given, otherwise the id carried
// by the session cookie, minting and storing one on first contact.
func (h *Handlers) sessionID(w http.ResponseWriter, r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	// Get returns a fresh session alongside a decode error, which is
	// what a stale cookie should become.
	sess, _ := h.sessionStore.Get(r, sessionName)
	if id, ok := sess.Values[sessionKey].(string); ok && id != "" {
		return id
	}
	id := h.engine.OpenSession()
	sess.Values[sessionKey] = id
	if err := sess.Save(r, w); err != nil {
		h.logger.Warn("failed to save session", slog.Any("error", err))
	}
	return id
}

// dashboard resolves the dashboard a request refers to.
func (h *Handlers) dashboard(ctx context.Context, ref dashboardRef) (core.Dashboard, error) {
	var dash core.Dashboard
	switch {
	case ref.Dashboard != nil:
		if err := ref.Dashboard.Check(); err != nil {
			return core.Dashboard{}, err
		}
		dash = *ref.Dashboard
	case ref.Path != "":
		d, err := h.engine.LoadDashboard(ctx, ref.Path)
		if err != nil {
			return core.Dashboard{}, err
		}
		dash = *d
	case ref.SQLQuery == "":
		return core.Dashboard{}, core.Errorf(core.KindInvalidArgument, "request", "one of dashboard_config, dashboard_path or sql_query is required")
	}
	if ref.SQLQuery != "" {
		dash.Query.Code = ref.SQLQuery
	}
	return dash, nil
}

// ParseSQL resolves the query template without executing it.
func (h *Handlers) ParseSQL(w http.ResponseWriter, r *http.Request) {
	var req ParseSQLRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	dash, err := h.dashboard(r.Context(), req.dashboardRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	processed, err := h.engine.ResolveTemplate(dash, req.ParamValues)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	success(w, "SQL parsed successfully", envelope{"processed_sql": processed})
}

// Query executes the dashboard query and caches the result for the session.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	dash, err := h.dashboard(r.Context(), req.dashboardRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sid := h.sessionID(w, r, req.SessionID)

	res, err := h.engine.ExecuteQuery(r.Context(), sid, dash, req.ParamValues, req.AllOptionValues)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	success(w, "Query executed successfully", envelope{
		"session_id":       sid,
		"query_hash":       res.Hash,
		"processed_sql":    res.ProcessedQuery,
		"columns":          res.Columns,
		"row_count":        res.RowCount,
		"inferred_options": res.Inferred,
	})
}

// Visualize runs visualizations against a cached query result.
func (h *Handlers) Visualize(w http.ResponseWriter, r *http.Request) {
	var req VisualizeRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.QueryHash == "" {
		h.fail(w, r, core.Errorf(core.KindInvalidArgument, "request", "query_hash is required"))
		return
	}
	dash, err := h.dashboard(r.Context(), req.dashboardRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sid := h.sessionID(w, r, req.SessionID)

	if req.Visualization == nil {
		outcomes, err := h.engine.RunAll(r.Context(), sid, req.QueryHash, dash, req.AllOptionValues)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		success(w, "Visualizations processed", envelope{"results": outcomeBodies(outcomes)})
		return
	}

	res, err := h.engine.RunTransformation(r.Context(), sid, req.QueryHash, dash, *req.Visualization, req.OptionValues)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	success(w, "Visualization processed", resultFields(res))
}

// CreateShare snapshots a cached query result with its inputs.
func (h *Handlers) CreateShare(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.QueryHash == "" {
		h.fail(w, r, core.Errorf(core.KindInvalidArgument, "request", "query_hash is required"))
		return
	}
	dash, err := h.dashboard(r.Context(), req.dashboardRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	processed, err := h.engine.ResolveTemplate(dash, req.ParamValues)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	id, err := h.engine.CreateShare(r.Context(), share.CreateRequest{
		SessionID:      h.sessionID(w, r, req.SessionID),
		Hash:           req.QueryHash,
		ParamValues:    req.ParamValues,
		OptionValues:   req.AllOptionValues,
		Dashboard:      dash,
		ProcessedQuery: processed,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	success(w, "Dashboard shared successfully", envelope{"share_id": id})
}

// GetShare replays a shared dashboard. The response names the session
// the snapshot was re-seeded into so follow-up visualize calls can run
// against it.
func (h *Handlers) GetShare(w http.ResponseWriter, r *http.Request) {
	replay, err := h.engine.ReplayShare(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snap := replay.Snapshot
	success(w, "Shared dashboard retrieved successfully", envelope{
		"share_id":          snap.ID,
		"created_at":        snap.CreatedAt,
		"session_id":        replay.SessionID,
		"query_hash":        snap.Hash,
		"processed_sql":     snap.ProcessedQuery,
		"param_values":      snap.ParamValues,
		"all_option_values": snap.OptionValues,
		"dashboard_config":  snap.Dashboard,
		"inferred_options":  replay.Inferred,
		"results":           outcomeBodies(replay.Outcomes),
	})
}

// ListDashboards lists stored dashboard definitions.
func (h *Handlers) ListDashboards(w http.ResponseWriter, r *http.Request) {
	paths, err := h.engine.ListDashboards(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	success(w, "Dashboards listed", envelope{"dashboards": paths})
}

// GetDashboard returns one stored definition.
func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.engine.LoadDashboard(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	success(w, "Dashboard loaded", envelope{"dashboard_config": dash})
}

// PutDashboard stores a definition and notifies event listeners.
func (h *Handlers) PutDashboard(w http.ResponseWriter, r *http.Request) {
	var dash core.Dashboard
	if err := decode(w, r, &dash); err != nil {
		h.fail(w, r, err)
		return
	}
	path := chi.URLParam(r, "*")
	if err := h.engine.SaveDashboard(r.Context(), path, &dash); err != nil {
		h.fail(w, r, err)
		return
	}
	h.notifier.Broadcast(path)
	success(w, "Dashboard saved", envelope{"dashboard_path": path})
}

// Events streams changed dashboard paths as datastar signal patches.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	updates := h.notifier.Subscribe()
	defer h.notifier.Unsubscribe(updates)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-updates:
			if err := sse.MarshalAndPatchSignals(map[string]any{"changed": path}); err != nil {
				h.logger.Debug("event stream closed", slog.Any("error", err))
				return
			}
		}
	}
}

// Health reports liveness and cache usage.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	st := h.engine.Stats()
	writeJSON(w, http.StatusOK, envelope{
		"status":   "ok",
		"sessions": st.Sessions,
		"entries":  st.Entries,
		"fetches":  st.Fetches,
	})
}

func resultFields(res *core.Result) envelope {
	return envelope{
		"result_type":  res.Kind,
		"columns":      res.Columns,
		"data":         res.Records,
		"plot_data":    res.Chart,
		"print_output": res.PrintOutput,
	}
}

func outcomeBodies(outcomes []core.VizOutcome) []envelope {
	out := make([]envelope, len(outcomes))
	for i, o := range outcomes {
		var body envelope
		if o.Err != nil {
			body = errorBody(o.Err)
		} else {
			body = resultFields(o.Result)
			body["status"] = statusSuccess
		}
		body["index"] = o.Index
		body["title"] = o.Title
		out[i] = body
	}
	return out
}
