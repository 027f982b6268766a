package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marminbh/webhook-gateway/internal/handlers"
)

// SetupRoutes wires all endpoints onto the fiber app.
func SetupRoutes(
	app *fiber.App,
	webhookHandler *handlers.WebhookHandler,
	eventsHandler *handlers.EventsHandler,
	deadLettersHandler *handlers.DeadLettersHandler,
	healthHandler *handlers.HealthHandler,
) {
	app.Get("/health", healthHandler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// provider-facing ingestion endpoint
	app.Post("/webhooks/:provider/:resource?", webhookHandler.Receive)

	// operator-facing API
	api := app.Group("/api/v1")
	{
		api.Get("/events", eventsHandler.GetEvents)
		api.Get("/events/:id/audit", eventsHandler.GetAuditTrail)
		api.Get("/dead-letters", deadLettersHandler.List)
		api.Post("/dead-letters/:id/replay", deadLettersHandler.Replay)
	}
}
