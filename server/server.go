// Package server exposes the key market over HTTP: trade and quote
// endpoints for clients, access checks for the gating layer, and the
// usual health and Prometheus surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"keymarket/market"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	ShutdownGrace time.Duration
}

// Server hosts the public key-market API.
type Server struct {
	cfg    Config
	engine *market.Engine
	logger *slog.Logger
}

// New constructs the HTTP server around a settlement engine.
func New(cfg Config, engine *market.Engine, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("market engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return &Server{cfg: cfg, engine: engine, logger: logger}, nil
}

// Handler assembles the route table. Exposed so tests can drive the API
// through httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Method(http.MethodPost, "/v1/keys", otelhttp.NewHandler(http.HandlerFunc(s.handleCreateKeys), "keys.create"))
	r.Method(http.MethodGet, "/v1/status", otelhttp.NewHandler(http.HandlerFunc(s.handleStatus), "platform.status"))
	r.Route("/v1/keys/{subject}", func(kr chi.Router) {
		kr.Method(http.MethodGet, "/price", otelhttp.NewHandler(http.HandlerFunc(s.handlePrice), "keys.price"))
		kr.Method(http.MethodGet, "/metrics", otelhttp.NewHandler(http.HandlerFunc(s.handleMetrics), "keys.metrics"))
		kr.Method(http.MethodPost, "/quote", otelhttp.NewHandler(http.HandlerFunc(s.handleQuote), "keys.quote"))
		kr.Method(http.MethodPost, "/trade", otelhttp.NewHandler(http.HandlerFunc(s.handleTrade), "keys.trade"))
		kr.Method(http.MethodPost, "/max-size", otelhttp.NewHandler(http.HandlerFunc(s.handleMaxSize), "keys.max_size"))
		kr.Method(http.MethodGet, "/access/{account}", otelhttp.NewHandler(http.HandlerFunc(s.handleAccess), "keys.access"))
	})
	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("server: http listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}
