// Package share freezes a dashboard's executed state into an immutable
// snapshot that can be resolved and replayed after its session is gone.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapdash/internal/cache"
	"github.com/leapstack-labs/leapdash/internal/options"
	"github.com/leapstack-labs/leapdash/internal/runner"
	"github.com/leapstack-labs/leapdash/internal/state"
	"github.com/leapstack-labs/leapdash/internal/template"
	"github.com/leapstack-labs/leapdash/pkg/core"
)

// IDLength is the number of hex characters in a share id.
const IDLength = 10

// maxIDAttempts bounds retries on share id collisions.
const maxIDAttempts = 5

// SessionPrefix names the cache session a replayed share runs in.
const SessionPrefix = "share:"

// CreateRequest is everything a snapshot captures.
type CreateRequest struct {
	SessionID      string
	Hash           string
	ParamValues    core.ParamValues
	OptionValues   core.AllOptionValues
	Dashboard      core.Dashboard
	ProcessedQuery string
}

// Replay is a snapshot re-executed from its persisted data.
type Replay struct {
	Snapshot  *core.Snapshot
	SessionID string
	Inferred  map[int]map[string]options.Inferred
	Outcomes  []core.VizOutcome
}

// Service creates, resolves and replays shares.
type Service struct {
	store  core.SnapshotStore
	cache  *cache.Cache
	runner *runner.Runner
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides share id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// New creates a share service.
func New(store core.SnapshotStore, c *cache.Cache, r *runner.Runner, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cache:  c,
		runner: r,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		newID:  NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID returns a random share id of IDLength hex characters.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IDLength]
}

// Create snapshots the cached result for req.Hash together with copies of
// every input. The hash must exist in the session.
func (s *Service) Create(ctx context.Context, req CreateRequest) (string, error) {
	entry, err := s.cache.Entry(req.SessionID, req.Hash)
	if err != nil {
		return "", err
	}

	dashboard, err := copyDashboard(req.Dashboard)
	if err != nil {
		return "", core.Wrap(err, core.KindInternal, "share", "copy dashboard")
	}

	snap := &core.Snapshot{
		CreatedAt:      s.now().UTC(),
		ParamValues:    req.ParamValues.Clone(),
		OptionValues:   req.OptionValues.Clone(),
		Dashboard:      dashboard,
		ProcessedQuery: req.ProcessedQuery,
		Hash:           req.Hash,
		Table:          entry.Table.Clone(),
	}
	if snap.ProcessedQuery == "" {
		snap.ProcessedQuery = entry.Query
	}

	for range maxIDAttempts {
		snap.ID = s.newID()
		err = s.store.SaveSnapshot(ctx, snap)
		if !errors.Is(err, state.ErrSnapshotExists) {
			break
		}
		s.logger.Debug("share id collision", slog.String("id", snap.ID))
	}
	if err != nil {
		return "", core.Wrap(err, core.KindInternal, "share", "save snapshot")
	}

	s.logger.Info("share created",
		slog.String("id", snap.ID),
		slog.String("hash", snap.Hash),
		slog.Int("rows", snap.Table.Len()))
	return snap.ID, nil
}

// Resolve returns the stored snapshot.
func (s *Service) Resolve(ctx context.Context, id string) (*core.Snapshot, error) {
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		if _, ok := core.AsError(err); ok {
			return nil, err
		}
		return nil, core.Wrap(err, core.KindInternal, "share", "load snapshot")
	}
	return snap, nil
}

// Replay re-executes a snapshot: the persisted table is seeded into a
// cache session named after the share, options are inferred with the
// persisted selections as prior, and every visualization runs again.
func (s *Service) Replay(ctx context.Context, id string) (*Replay, error) {
	snap, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	sessionID := SessionPrefix + id
	s.cache.Put(sessionID, &core.CacheEntry{
		Hash:      snap.Hash,
		Query:     snap.ProcessedQuery,
		Table:     snap.Table,
		CreatedAt: snap.CreatedAt,
	})
	entry, err := s.cache.Entry(sessionID, snap.Hash)
	if err != nil {
		return nil, err
	}

	// Run against the dashboard as a live session sees it: list defaults
	// folded into their choices and relative dates expanded, with "now"
	// pinned to the moment the share was taken.
	dash := Prepare(snap.Dashboard, snap.CreatedAt)

	out := &Replay{
		Snapshot:  snap,
		SessionID: sessionID,
		Inferred:  make(map[int]map[string]options.Inferred, len(dash.Visualizations)),
	}

	values := make(core.AllOptionValues, len(dash.Visualizations))
	coerceErrs := make(map[int]error)
	for i, viz := range dash.Visualizations {
		inf := options.Infer(entry.Table, viz.Options, snap.OptionValues[i])
		out.Inferred[i] = inf
		v, err := options.Coerce(viz.Options, options.Selections(inf))
		if err != nil {
			coerceErrs[i] = err
			continue
		}
		values[i] = v
	}

	out.Outcomes = s.runner.RunAll(ctx, entry, dash.Visualizations, values)
	for i, err := range coerceErrs {
		out.Outcomes[i].Result = nil
		out.Outcomes[i].Err = err
	}

	s.logger.Debug("share replayed", slog.String("id", id), slog.Int("visualizations", len(out.Outcomes)))
	return out, nil
}

// Prepare returns dash as it is executed: relative dates expanded as of
// now, then list option defaults folded into their choices.
func Prepare(dash core.Dashboard, now time.Time) core.Dashboard {
	r := template.New(template.WithNow(func() time.Time { return now }))
	return r.ExpandDashboard(dash).Normalize()
}

// copyDashboard deep-copies through the JSON form so the snapshot holds
// exactly what will be persisted.
func copyDashboard(d core.Dashboard) (core.Dashboard, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return core.Dashboard{}, fmt.Errorf("encode dashboard: %w", err)
	}
	var out core.Dashboard
	if err := json.Unmarshal(b, &out); err != nil {
		return core.Dashboard{}, fmt.Errorf("decode dashboard: %w", err)
	}
	return out, nil
}
