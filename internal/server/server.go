// Package server provides the HTTP ops surface: health, resolution
// stats, on-demand resolution and manual sync triggering.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/skeptomenos/prism/internal/config"
	"github.com/skeptomenos/prism/internal/database"
	"github.com/skeptomenos/prism/internal/localcache"
	"github.com/skeptomenos/prism/internal/resolver"
)

// HiveStatus is the subset of the community client the server reports on.
type HiveStatus interface {
	IsConfigured() bool
}

// Config wires the server's dependencies.
type Config struct {
	Log        zerolog.Logger
	Cfg        *config.Config
	CacheDB    *database.DB
	ClientDB   *database.DB
	Cache      *localcache.Cache
	Resolver   *resolver.Resolver
	Hive       HiveStatus
	SyncJob    func() error // triggers one mirror sync
	DevMode    bool
	Port       int
	StartedAt  time.Time
}

// Server is the HTTP ops server.
type Server struct {
	router chi.Router
	server *http.Server
	cfg    Config
	log    zerolog.Logger

	lastStats *resolver.RunStats
}

// New creates the server with routing and middleware configured.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/resolution/stats", s.handleStats)
		r.Post("/resolve", s.handleResolve)
		r.Post("/sync", s.handleSync)
	})
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}
