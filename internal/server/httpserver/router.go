// Package httpserver provides the local admin HTTP server for Quiesce.
package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/veridios/quiesce-go/internal/core/registry"
	"github.com/veridios/quiesce-go/internal/core/service"
	"github.com/veridios/quiesce-go/internal/server/httpserver/handler"
)

// RouterConfig holds configuration for the admin router.
type RouterConfig struct {
	// Orchestrator answers status and history queries.
	Orchestrator *service.Orchestrator

	// Registry answers subscriber listing queries.
	Registry *registry.Registry

	// Metrics serves the Prometheus exposition. Nil disables /metrics.
	Metrics http.Handler

	// Logger for request logging.
	Logger *slog.Logger

	// GlobalRateLimit is the rate limit per IP (requests/second).
	// Zero disables rate limiting.
	GlobalRateLimit int

	// EnableAudit enables audit logging for all requests.
	EnableAudit bool
}

// NewRouter creates and configures the admin router with all routes and
// middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	h := handler.New(cfg.Orchestrator, cfg.Registry, cfg.Metrics, cfg.Logger)

	// Order: Recover -> RequestID -> RateLimit -> Audit -> Handler
	middlewares := []Middleware{
		Recover(cfg.Logger),
		RequestID(),
	}
	if cfg.GlobalRateLimit > 0 {
		middlewares = append(middlewares, RateLimit(cfg.GlobalRateLimit))
	}
	if cfg.EnableAudit {
		middlewares = append(middlewares, Audit(cfg.Logger))
	}

	return Chain(h, middlewares...)
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		GlobalRateLimit: 100, // requests/second per IP
		EnableAudit:     true,
	}
}
