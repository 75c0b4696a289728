// Package http wires the operational API: a chi router carrying the request
// id, access log and recovery middleware, with huma operations mounted on it.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/jmylchreest/reelcast/internal/http/middleware"
)

const (
	apiTitle               = "reelcast API"
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Server owns the router, the huma API and the listening http.Server.
type Server struct {
	router  *chi.Mux
	api     huma.API
	srv     *http.Server
	started atomic.Bool
	grace   time.Duration
	logger  *slog.Logger
}

// NewServer builds the router and API. version is published in the OpenAPI
// document; an empty version reads "dev".
func NewServer(cfg config.ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	grace := cfg.ShutdownTimeout
	if grace <= 0 {
		grace = defaultShutdownTimeout
	}

	router := chi.NewRouter()
	router.Use(
		chimiddleware.RealIP,
		middleware.RequestID,
		middleware.NewLoggingMiddleware(logger),
		middleware.Recovery(logger),
	)

	humaCfg := huma.DefaultConfig(apiTitle, version)
	humaCfg.Info.Description = "Enqueue video processing jobs and follow their progress."

	return &Server{
		router: router,
		api:    humachi.New(router, humaCfg),
		srv: &http.Server{
			Addr:         cfg.Address(),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		grace:  grace,
		logger: logger,
	}
}

// API is where handlers register their operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router exposes the chi mux, mostly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}
	s.started.Store(true)
	s.logger.Info("http server listening", slog.String("address", ln.Addr().String()))

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period.
// A server shut down before Start never serves.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.started.Load() {
		s.logger.Info("http server shutting down", slog.Duration("grace", s.grace))
	}

	ctx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// ListenAndServe runs Start until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	case err := <-errCh:
		return err
	}
}
