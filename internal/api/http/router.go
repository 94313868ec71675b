package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/deskflow/helpdesk-engine/internal/api/http/handlers"
	"github.com/deskflow/helpdesk-engine/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Inbound        *handlers.InboundHandler
	AuthMiddleware *auth.AuthMiddleware
	WebhookSecret  string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	if cfg.Inbound != nil {
		app.Post("/inbound/email", auth.RequireWebhookSecret(cfg.WebhookSecret), cfg.Inbound.ReceiveEmail)
	}

	protected := app.Group("", cfg.AuthMiddleware.Handle)
	protected.Get("/metrics", cfg.Health.Metrics)

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/search", cfg.Tickets.SearchTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/timeline", cfg.Tickets.Timeline)
	tickets.Post("/:id/messages", cfg.Tickets.AddMessage)
	tickets.Patch("/:id/status", cfg.Tickets.UpdateStatus)
	tickets.Patch("/:id/priority", cfg.Tickets.UpdatePriority)
	tickets.Patch("/:id/assignment", cfg.Tickets.Assign)
	tickets.Post("/:id/merge", cfg.Tickets.Merge)
	tickets.Post("/:id/split", cfg.Tickets.Split)
}
