// Package server exposes the agent's health probes and Prometheus metrics
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MDrooker/rna-stat-manager/internal/health"
)

// Config holds the HTTP listener settings
type Config struct {
	Listen         string
	MetricsEnabled bool
	MetricsPath    string
}

// Server represents the HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	health     *health.HealthChecker
	logger     *zap.Logger
	cfg        Config
}

// NewServer routes /healthz, /readyz and, if enabled, the metrics
// endpoint served from gatherer.
func NewServer(cfg Config, hc *health.HealthChecker, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	router := mux.NewRouter()
	router.Use(Recovery(logger), RequestID, Logging(logger, cfg.MetricsPath))

	router.HandleFunc("/healthz", hc.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/readyz", hc.ReadinessHandler).Methods(http.MethodGet)
	if cfg.MetricsEnabled && gatherer != nil {
		router.Handle(cfg.MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              cfg.Listen,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		health: hc,
		logger: logger,
		cfg:    cfg,
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown is called
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("Starting HTTP server", zap.String("address", l.Addr().String()))
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and serves
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(l)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
