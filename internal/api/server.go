// Package api provides the HTTP REST surface for vigil: scan job
// submission and control, reports and comparisons, scheduled scan
// definitions, and endpoint inventory.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilsec/vigil/internal/api/handlers"
	"github.com/vigilsec/vigil/internal/api/middleware"
	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/logging"
	"github.com/vigilsec/vigil/internal/metrics"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	serverReadTimeout     = 10 * time.Second
	serverWriteTimeout    = 30 * time.Second
	serverIdleTimeout     = 60 * time.Second
)

// Dependencies carries everything the server needs to serve requests.
type Dependencies struct {
	Scans     handlers.ScanOrchestrator
	Schedules handlers.ScheduleStore
	Endpoints handlers.EndpointStore
	Groups    handlers.GroupStore
	Pinger    handlers.Pinger
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

// Server is the vigil API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	cfg        *config.Config
	deps       Dependencies
	logger     *logging.Logger
}

// New creates an API server. The metrics instance may be nil in tests.
func New(cfg *config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	server := &Server{
		router: mux.NewRouter(),
		cfg:    cfg,
		deps:   deps,
		logger: logger.WithComponent("api"),
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.API.ListenAddr, strconv.Itoa(cfg.API.Port)),
		Handler:      server.router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	return server
}

// Start runs the server until the context is canceled or serving fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the configured router, used by tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// setupMiddleware installs the middleware chain on the root router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())

	if s.cfg.Logging.RequestLogging {
		s.router.Use(middleware.Logging(s.logger))
	}
	if s.deps.Metrics != nil {
		s.router.Use(middleware.Metrics(s.deps.Metrics))
	}

	if s.cfg.API.CORS.Enabled {
		s.router.Use(ghandlers.CORS(
			ghandlers.AllowedOrigins(s.cfg.API.CORS.AllowedOrigins),
			ghandlers.AllowedMethods(s.cfg.API.CORS.AllowedMethods),
			ghandlers.AllowedHeaders(s.cfg.API.CORS.AllowedHeaders),
		))
	}

	if s.cfg.API.RateLimit.Enabled {
		limit := s.cfg.API.RateLimit.BurstSize
		if limit < s.cfg.API.RateLimit.RequestsPerSecond {
			limit = s.cfg.API.RateLimit.RequestsPerSecond
		}
		s.router.Use(middleware.RateLimit(limit, time.Second, s.logger))
	}

	if s.cfg.API.RequestTimeout > 0 {
		s.router.Use(middleware.RequestTimeout(s.cfg.API.RequestTimeout))
	}
	s.router.Use(middleware.ContentType())
}

// setupRoutes registers all routes. Everything under /api/v1 requires an
// account identity; health and metrics do not.
func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps.Pinger)
	s.router.HandleFunc("/healthz", healthHandler.Health).Methods(http.MethodGet)

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(
			s.deps.Metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Account(s.logger))

	scanHandler := handlers.NewScanHandler(s.deps.Scans, s.logger)
	api.HandleFunc("/scans", scanHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/scans", scanHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/scans/compare/{a}/{b}", scanHandler.Compare).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", scanHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", scanHandler.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/scans/{id}/stop", scanHandler.Stop).Methods(http.MethodPost)
	api.HandleFunc("/scans/{id}/report", scanHandler.Report).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}/summary", scanHandler.Summary).Methods(http.MethodGet)

	scheduleHandler := handlers.NewScheduleHandler(s.deps.Schedules, s.logger)
	api.HandleFunc("/schedules", scheduleHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/schedules", scheduleHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/schedules/{id}", scheduleHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/schedules/{id}", scheduleHandler.Update).Methods(http.MethodPut)
	api.HandleFunc("/schedules/{id}", scheduleHandler.Delete).Methods(http.MethodDelete)

	endpointHandler := handlers.NewEndpointHandler(s.deps.Endpoints, s.logger)
	api.HandleFunc("/endpoints", endpointHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/endpoints", endpointHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/endpoints/{id}", endpointHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/endpoints/{id}", endpointHandler.Update).Methods(http.MethodPut)
	api.HandleFunc("/endpoints/{id}", endpointHandler.Delete).Methods(http.MethodDelete)

	groupHandler := handlers.NewGroupHandler(s.deps.Groups, s.logger)
	api.HandleFunc("/groups", groupHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/groups", groupHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}", groupHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}", groupHandler.Update).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}", groupHandler.Delete).Methods(http.MethodDelete)
}
