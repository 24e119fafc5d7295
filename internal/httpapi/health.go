package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

func registerHealthRoutes(app *fiber.App, h *handlers) {
	app.Get("/health", h.health)
	app.Get("/health/live", h.health)
	app.Get("/health/ready", h.healthReady)
	app.Get("/health/detailed", h.healthDetailed)
}

func (h *handlers) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// healthReady reports ready only once the store can be reached.
func (h *handlers) healthReady(c *fiber.Ctx) error {
	if _, err := h.deps.Store.Stats(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func (h *handlers) healthDetailed(c *fiber.Ctx) error {
	stats, err := h.deps.Store.Stats(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status":         "ok",
		"uptime_seconds": int(time.Since(startedAt).Seconds()),
		"indexing":       h.deps.Orchestrator.IsRunning(),
		"stats":          stats,
	})
}
