package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/triage-service/internal/api/http/handlers"
	"github.com/spec-kit/triage-service/internal/auth"
	"github.com/spec-kit/triage-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Webhook        *handlers.WebhookHandler
	History        *handlers.HistoryHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// WebhookPath is where the ticketing platform posts ticket notifications.
const WebhookPath = "/znuny-webhook"

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	if registry := cfg.Metrics.Registry(); registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	webhook := []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireScope(auth.ScopeWebhook), cfg.Webhook.Receive}
	app.Post(WebhookPath, webhook...)
	app.Put(WebhookPath, webhook...)
	app.Get(WebhookPath, webhook...)

	if cfg.History != nil {
		ops := app.Group("/ops", cfg.AuthMiddleware.Handle, auth.RequireScope(auth.ScopeOps))
		ops.Get("/tickets/:id/history", cfg.History.Ticket)
	}
}
