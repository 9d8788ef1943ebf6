// Package cache executes processed queries at most once per session and
// keeps their results keyed by a content hash of the query text.
package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/minio/highwayhash"
	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// KeySize is the length of the hashing key in bytes.
const KeySize = 32

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. Nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithKey fixes the hashing key so hashes are stable across restarts.
// The key must be KeySize bytes.
func WithKey(key []byte) Option {
	return func(c *Cache) { c.key = key }
}

// WithMaxEntries bounds entries per session; the oldest entry is dropped
// first. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache holds per-session query results. The session map is the only
// shared mutable state; inserts happen inside a single-flight call per
// (session, hash) so the data source runs at most once per key.
type Cache struct {
	source     core.DataSource
	logger     *slog.Logger
	key        []byte
	maxEntries int
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	group    singleflight.Group
	fetches  atomic.Int64
}

type session struct {
	entries  map[string]*core.CacheEntry
	order    []string
	lastUsed time.Time
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Sessions int
	Entries  int
	Fetches  int64
}

// New creates a cache in front of source.
func New(source core.DataSource, opts ...Option) (*Cache, error) {
	c := &Cache{
		source:   source,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.key == nil {
		c.key = make([]byte, KeySize)
		if _, err := rand.Read(c.key); err != nil {
			return nil, fmt.Errorf("generate cache key: %w", err)
		}
	}
	if len(c.key) != KeySize {
		return nil, fmt.Errorf("cache key must be %d bytes, got %d", KeySize, len(c.key))
	}
	return c, nil
}

// Hash returns the hex digest identifying query.
func (c *Cache) Hash(query string) string {
	h, err := highwayhash.New64(c.key)
	if err != nil {
		// The key length is checked in New.
		panic(err)
	}
	_, _ = h.Write([]byte(query))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Open creates a new session and returns its id.
func (c *Cache) Open() string {
	id := uuid.NewString()
	c.Ensure(id)
	return id
}

// Ensure creates the session if it does not exist yet.
func (c *Cache) Ensure(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[id]; ok {
		s.lastUsed = c.now()
		return
	}
	c.sessions[id] = &session{entries: make(map[string]*core.CacheEntry), lastUsed: c.now()}
	c.logger.Debug("session opened", slog.String("session", id))
}

// Has reports whether the session exists.
func (c *Cache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[id]
	return ok
}

// End destroys a session and its entries.
func (c *Cache) End(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[id]; ok {
		delete(c.sessions, id)
		c.logger.Debug("session ended", slog.String("session", id))
	}
}

// EvictIdle ends every session unused for longer than maxIdle and
// returns how many were ended.
func (c *Cache) EvictIdle(maxIdle time.Duration) int {
	cutoff := c.now().Add(-maxIdle)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, s := range c.sessions {
		if s.lastUsed.Before(cutoff) {
			delete(c.sessions, id)
			n++
		}
	}
	if n > 0 {
		c.logger.Info("evicted idle sessions", slog.Int("count", n))
	}
	return n
}

// Execute returns the hash of query, running it against the data source
// only when the session has no entry for that hash yet. Concurrent
// callers with the same key share one execution. A caller whose context
// ends stops waiting, but the execution runs to completion and its
// result serves later callers.
func (c *Cache) Execute(ctx context.Context, sessionID, query string) (string, error) {
	hash := c.Hash(query)

	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return "", core.Errorf(core.KindNotFound, "execute", "unknown session %q", sessionID)
	}
	s.lastUsed = c.now()
	_, hit := s.entries[hash]
	c.mu.Unlock()

	if hit {
		c.logger.Debug("cache hit", slog.String("session", sessionID), slog.String("hash", hash))
		return hash, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(sessionID+"\x00"+hash, func() (any, error) {
		if e := c.lookup(sessionID, hash); e != nil {
			return e, nil
		}
		return c.fetch(detached, sessionID, hash, query)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return hash, nil
	}
}

func (c *Cache) fetch(ctx context.Context, sessionID, hash, query string) (*core.CacheEntry, error) {
	start := c.now()
	c.fetches.Add(1)
	table, err := c.source.Fetch(ctx, query)
	if err != nil {
		c.logger.Debug("query failed", slog.String("hash", hash), slog.String("error", err.Error()))
		return nil, core.Wrap(err, core.KindExecution, "execute", "query failed").WithDiagnostics(err.Error())
	}
	if table == nil {
		table = &core.Table{Columns: []string{}, Rows: []core.Record{}}
	}

	entry := &core.CacheEntry{Hash: hash, Query: query, Table: table, CreatedAt: c.now()}
	c.store(sessionID, entry)

	c.logger.Debug("query cached",
		slog.String("session", sessionID),
		slog.String("hash", hash),
		slog.Int("rows", table.Len()),
		slog.Duration("elapsed", c.now().Sub(start)))
	return entry, nil
}

func (c *Cache) lookup(sessionID, hash string) *core.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		return s.entries[hash]
	}
	return nil
}

// store inserts entry unless the session ended meanwhile.
func (c *Cache) store(sessionID string, entry *core.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	if _, exists := s.entries[entry.Hash]; exists {
		return
	}
	s.entries[entry.Hash] = entry
	s.order = append(s.order, entry.Hash)
	for c.maxEntries > 0 && len(s.order) > c.maxEntries {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
}

// Entry returns the cached result for hash in the session.
func (c *Cache) Entry(sessionID, hash string) (*core.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "lookup", "unknown session %q", sessionID)
	}
	e, ok := s.entries[hash]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "lookup", "no cached result %q in session", hash)
	}
	s.lastUsed = c.now()
	return e, nil
}

// Put stores a prepared entry, creating the session if needed. Used to
// re-seed results that were persisted elsewhere.
func (c *Cache) Put(sessionID string, entry *core.CacheEntry) {
	c.Ensure(sessionID)
	c.store(sessionID, entry)
}

// Stats reports current usage.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{Sessions: len(c.sessions), Fetches: c.fetches.Load()}
	for _, s := range c.sessions {
		st.Entries += len(s.entries)
	}
	return st
}

// ParseKey decodes a hex-encoded hashing key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cache key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("cache key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
