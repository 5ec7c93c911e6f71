package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp wires the handlers into a fiber application.
func NewApp(h *Handlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", h.HealthCheck)

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flywheel API")
	})

	v1 := app.Group("/v1", h.RequireOrg)

	v1.Post("/events", h.IngestEvent)
	v1.Post("/events/batch", h.IngestBatch)

	flows := v1.Group("/flows")
	flows.Get("/", h.ListFlows)
	flows.Post("/", h.CreateFlow)
	flows.Get("/:id", h.GetFlow)
	flows.Patch("/:id", h.UpdateFlow)
	flows.Delete("/:id", h.DeleteFlow)

	segments := v1.Group("/segments")
	segments.Get("/", h.ListSegments)
	segments.Post("/", h.CreateSegment)
	segments.Get("/:id", h.GetSegment)
	segments.Patch("/:id", h.UpdateSegment)

	webhooks := v1.Group("/webhooks")
	webhooks.Get("/", h.ListWebhooks)
	webhooks.Post("/", h.CreateWebhook)
	webhooks.Get("/deliveries", h.ListDeliveries)
	webhooks.Get("/dead-letters", h.ListDeadLetters)
	webhooks.Post("/dead-letters/:id/replay", h.ReplayDeadLetter)
	webhooks.Patch("/:id", h.UpdateWebhook)

	v1.Get("/users/:id", h.GetUser)

	return app
}
