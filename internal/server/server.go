// Package server exposes the read API and the admin surface over HTTP.
// Everything under /api/v1 is JSON and sits behind the shared API key;
// /health stays open for load balancer probes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cryptopulse/internal/cache"
	"cryptopulse/internal/config"
	"cryptopulse/internal/core"
	"cryptopulse/internal/cost"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/signals"
	"cryptopulse/internal/store"
	"cryptopulse/internal/tasks"
)

// Store is the slice of the persistence layer the API serves. Reads only;
// every write in the system goes through the worker.
type Store interface {
	ActiveNarratives(ctx context.Context, limit int) ([]core.Narrative, error)
	ArchivedNarratives(ctx context.Context, limit int) ([]core.Narrative, error)
	Resurrections(ctx context.Context, limit int) ([]core.Narrative, error)
	GetNarrative(ctx context.Context, id string) (*core.Narrative, error)
	ArticlesByNarrative(ctx context.Context, narrativeID string, offset, limit int) ([]core.Article, error)
	ArticlesByIDs(ctx context.Context, ids []string) ([]core.Article, error)
	RecentArticles(ctx context.Context, limit int) ([]core.Article, error)
	LatestBriefing(ctx context.Context) (*core.Briefing, error)
	LatestBriefingByType(ctx context.Context, bt core.BriefingType) (*core.Briefing, error)
	BriefingByTypeAndWindow(ctx context.Context, bt core.BriefingType, from, to time.Time) (*core.Briefing, error)
	GetLLMCacheStats(ctx context.Context) (*store.LLMCacheStats, error)
	DeleteExpiredLLMCache(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (map[string]int64, error)
}

// SignalSource serves trending signal lists.
type SignalSource interface {
	DefaultQuery() signals.Query
	Trending(ctx context.Context, q signals.Query) ([]core.Signal, error)
}

// CostDashboard backs the /admin/api-costs endpoints.
type CostDashboard interface {
	GetSummary(ctx context.Context) (*cost.Summary, error)
	Daily(ctx context.Context, days int) ([]store.DailyCost, error)
	ByModel(ctx context.Context, days int) ([]store.ModelCost, error)
}

// TaskQueue enqueues briefing tasks and reports queue depth.
type TaskQueue interface {
	EnqueueBriefing(ctx context.Context, bt core.BriefingType, force, isSmoke bool) (string, error)
	Queues() (*tasks.QueueSnapshot, error)
}

// Server is the HTTP front of the pipeline.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      Store
	cache      *cache.Cache
	signals    SignalSource
	costs      CostDashboard
	queue      TaskQueue
	cfg        config.Server
	location   *time.Location
	version    string
	startedAt  time.Time
}

// Options wires the server to the rest of the system. Cache, Costs and Queue
// may be nil; the endpoints that need them degrade per handler.
type Options struct {
	Store    Store
	Cache    *cache.Cache
	Signals  SignalSource
	Costs    CostDashboard
	Queue    TaskQueue
	Config   config.Server
	Location *time.Location
	Version  string
}

// New builds the server and its route tree.
func New(opts Options) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     opts.Store,
		cache:     opts.Cache,
		signals:   opts.Signals,
		costs:     opts.Costs,
		queue:     opts.Queue,
		cfg:       opts.Config,
		location:  opts.Location,
		version:   opts.Version,
		startedAt: time.Now(),
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.version == "" {
		s.version = "dev"
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Config.Host, opts.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Get("/status", s.handleStatus)
		r.Get("/signals/trending", s.handleTrendingSignals)

		r.Route("/narratives", func(r chi.Router) {
			// Static segments and the deeper pattern first, the bare
			// wildcard last.
			r.Get("/active", s.handleActiveNarratives)
			r.Get("/archived", s.handleArchivedNarratives)
			r.Get("/resurrections", s.handleResurrections)
			r.Get("/{id}/articles", s.handleNarrativeArticles)
			r.Get("/{id}", s.handleGetNarrative)
		})

		r.Get("/briefing", s.handleLatestBriefing)
		r.Get("/briefing/{type}", s.handleBriefingByType)
		r.Get("/articles/recent", s.handleRecentArticles)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/trigger-briefing", s.handleTriggerBriefing)
			r.Get("/api-costs/summary", s.handleCostSummary)
			r.Get("/api-costs/daily", s.handleCostDaily)
			r.Get("/api-costs/by-model", s.handleCostByModel)
			r.Get("/cache/stats", s.handleCacheStats)
			r.Post("/cache/clear-expired", s.handleCacheClearExpired)
		})
	})
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	logger.Info("starting http server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down http server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router exposes the mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
