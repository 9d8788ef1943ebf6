// Package api serves dashboard operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapdash/internal/definitions"
	"github.com/leapstack-labs/leapdash/internal/engine"
)

const (
	shutdownTimeout  = 5 * time.Second
	maxJanitorPeriod = time.Minute
	minJanitorPeriod = time.Second
)

// Server is the HTTP API server.
type Server struct {
	engine       *engine.Engine
	sessionStore sessions.Store
	notifier     *Notifier
	cfg          Config
	logger       *slog.Logger
}

// Config holds configuration for the API server.
type Config struct {
	Engine *engine.Engine
	Host   string
	Port   int
	// SessionSecret signs the session cookie; empty means a random key
	// per process.
	SessionSecret  string
	AllowedOrigins []string
	// SessionIdleTimeout evicts cached results of idle sessions; zero
	// disables eviction.
	SessionIdleTimeout time.Duration
	// WatchDir is a local dashboards directory to watch for changes;
	// empty disables watching.
	WatchDir string
	Logger   *slog.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg Config) *Server {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = securecookie.GenerateRandomKey(32)
	}
	sessionStore := sessions.NewCookieStore(secret)
	sessionStore.MaxAge(86400 * 30) // 30 days
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteLaxMode

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		engine:       cfg.Engine,
		sessionStore: sessionStore,
		notifier:     NewNotifier(),
		cfg:          cfg,
		logger:       logger,
	}
}

// Notifier returns the server's notifier for SSE updates.
func (s *Server) Notifier() *Notifier {
	return s.notifier
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.requestLogger,
		middleware.Compress(5, "application/json"),
	)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	SetupRoutes(r, NewHandlers(s.engine, s.sessionStore, s.notifier, s.logger))
	return r
}

// Serve starts the API server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until the context is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting API server", slog.String("addr", "http://"+ln.Addr().String()))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.WatchDir != "" {
		eg.Go(func() error {
			s.watch(egctx)
			return nil
		})
	}

	if s.cfg.SessionIdleTimeout > 0 {
		eg.Go(func() error {
			s.janitor(egctx)
			return nil
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down API server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// watch broadcasts definition changes under the watched directory. A
// directory that cannot be watched is logged, not fatal.
func (s *Server) watch(ctx context.Context) {
	dir := s.cfg.WatchDir
	err := definitions.Watch(ctx, dir, s.logger, func(name string) {
		rel, err := filepath.Rel(dir, name)
		if err != nil {
			rel = name
		}
		s.notifier.Broadcast(filepath.ToSlash(rel))
	})
	if err != nil {
		s.logger.Error("failed to watch dashboards directory", slog.String("dir", dir), slog.Any("error", err))
	}
}

// janitor evicts idle sessions until ctx is done.
func (s *Server) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorPeriod(s.cfg.SessionIdleTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.engine.EvictIdle(s.cfg.SessionIdleTimeout); n > 0 {
				s.logger.Debug("evicted idle sessions", slog.Int("count", n))
			}
		}
	}
}

func janitorPeriod(idle time.Duration) time.Duration {
	return min(max(idle/4, minJanitorPeriod), maxJanitorPeriod)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
