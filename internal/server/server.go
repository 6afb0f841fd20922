// Package server exposes the observability surface of the daemon: health
// and metrics endpoints plus a small read-only reporting API over the
// distribution ledger.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/realdoomsman/BTC500/internal/config"
	"github.com/realdoomsman/BTC500/internal/logging"
)

// NewRouter builds the HTTP routing table.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/status", h.BotStatus)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/conversions", h.ListConversions)
	mux.HandleFunc("GET /api/v1/distributions", h.ListDistributions)
	mux.HandleFunc("GET /api/v1/distributions/{id}", h.GetDistribution)
	mux.HandleFunc("GET /api/v1/holders/{address}/allocations", h.HolderAllocations)

	return mux
}

// Server wraps http.Server with config-driven timeouts.
type Server struct {
	srv *http.Server
	log *logging.Logger
}

// New creates the observability server.
func New(cfg config.ServerConfig, h *Handler, log *logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(h),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log.Component("server"),
	}
}

// Start serves until Shutdown is called. Blocks.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
