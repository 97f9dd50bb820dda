// Package server provides the HTTP control surface (§4.9, §6): operator
// endpoints to trigger sync families, inspect queue depth, and cascade
// cleanup, routed with chi sub-routers per module.
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

	"github.com/aristath/kalshi-sentinel/internal/bus"
	"github.com/aristath/kalshi-sentinel/internal/cleanup"
	"github.com/aristath/kalshi-sentinel/internal/dispatch"
)

// Config wires the dependencies the control surface needs.
type Config struct {
	Log        zerolog.Logger
	Port       int
	DevMode    bool
	Bus        *bus.Manager
	Dispatcher *dispatch.Dispatcher
	Cleanup    *cleanup.Service
	Retention  time.Duration
	StartedAt  time.Time
}

// Server hosts the HTTP control surface.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New builds a Server and wires its routes.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}
	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
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
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
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
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/resources", s.handleResources)

	s.router.Route("/sync", func(r chi.Router) {
		r.Post("/market-snapshots", s.handleSyncMarketSnapshots)
		r.Get("/market-snapshots/status", s.handleMarketSnapshotStatus)
		r.Post("/categories", s.handleSyncCategories)
		r.Post("/series", s.handleSyncSeries)
		r.Post("/events", s.handleSyncEvents)
		r.Post("/event/{eventTicker}", s.handleSyncEventDetail)
		r.Post("/orderbook", s.handleSyncOrderbook)
		r.Post("/candlesticks", s.handleSyncCandlesticks)
	})

	s.router.Route("/cleanup", func(r chi.Router) {
		r.Post("/", s.handleCleanupSweep)
		r.Post("/{tickerId}", s.handleCleanupOne)
	})

	s.router.Route("/queues", func(r chi.Router) {
		r.Post("/purge", s.handleQueuesPurge)
		r.Get("/status", s.handleQueuesStatus)
	})
}

// Start serves the control surface until the process is stopped.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
