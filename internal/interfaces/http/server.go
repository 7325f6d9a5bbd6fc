// Package http serves the trends API: query submission, the regions
// and audit listings, health, metrics, and the development-only cache
// and mock endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/keywordlab/trendpulse/internal/telemetry"
)

// Config holds server settings.
type Config struct {
	Addr    string
	Env     string
	Version string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Server is the API front: routing, middleware, and lifecycle.
type Server struct {
	cfg      Config
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	limiter  *ClientLimiter
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

// NewServer assembles the router and middleware around the handlers.
func NewServer(cfg Config, h *Handlers, metrics *telemetry.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		handlers: h,
		limiter:  NewClientLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		metrics:  metrics,
		logger:   logger.With().Str("component", "server").Logger(),
	}

	s.routes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		// The write timeout must outlive a worst-case cache miss: two
		// upstream calls, each under full retry backoff, plus the
		// inter-request delay.
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware, s.loggingMiddleware, s.corsMiddleware)

	// mux skips router middleware for the special handlers, so they
	// get the chain by hand.
	bare := func(h http.Handler) http.Handler {
		return s.requestIDMiddleware(s.loggingMiddleware(s.corsMiddleware(h)))
	}
	s.router.NotFoundHandler = bare(http.HandlerFunc(s.handlers.NotFound))
	s.router.MethodNotAllowedHandler = bare(http.HandlerFunc(s.handlers.MethodNotAllowed))

	s.router.HandleFunc("/", s.handlers.Index).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// Health and metrics stay outside the rate limit so monitoring
	// cannot starve itself out.
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.rateLimitMiddleware, s.jsonContentTypeMiddleware)
	v1.HandleFunc("/trends/query", s.handlers.Query).Methods(http.MethodPost)
	v1.HandleFunc("/regions", s.handlers.Regions).Methods(http.MethodGet)
	v1.HandleFunc("/queries", s.handlers.RecentQueries).Methods(http.MethodGet)
	v1.HandleFunc("/queries/{id}", s.handlers.GetQuery).Methods(http.MethodGet)

	if s.cfg.Env == "development" {
		dev := s.router.PathPrefix("/dev").Subrouter()
		dev.Use(s.jsonContentTypeMiddleware)
		dev.HandleFunc("/mock-trends", s.handlers.MockTrends).Methods(http.MethodPost)
		dev.HandleFunc("/clear-cache", s.handlers.ClearCache).Methods(http.MethodPost)
		dev.HandleFunc("/cache-info", s.handlers.CacheInfo).Methods(http.MethodGet)
	}
}

// Start listens and serves until Shutdown. A graceful shutdown returns
// nil.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Str("env", s.cfg.Env).
		Msg("http server listening")

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}
