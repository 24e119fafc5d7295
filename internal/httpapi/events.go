package httpapi

import (
	"github.com/gofiber/fiber/v2"
)

// registerEventRoutes exposes the background event queue's health.
// Not part of the original route table — added so operators can see
// retry/dead-letter activity for indexing lifecycle events without
// reading the log file directly.
func registerEventRoutes(app *fiber.App, h *handlers) {
	app.Get("/events/stats", h.eventStats)
	app.Get("/events/dead-letter", h.eventDeadLetter)
	app.Post("/events/dead-letter/clear", h.eventClearDeadLetter)
}

func (h *handlers) eventStats(c *fiber.Ctx) error {
	if h.deps.Events == nil {
		return c.JSON(fiber.Map{"enabled": false})
	}
	return c.JSON(h.deps.Events.Stats())
}

func (h *handlers) eventDeadLetter(c *fiber.Ctx) error {
	if h.deps.Events == nil {
		return c.JSON(fiber.Map{"events": []any{}})
	}
	events, err := h.deps.Events.DeadLetterEvents()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"events": events})
}

func (h *handlers) eventClearDeadLetter(c *fiber.Ctx) error {
	if h.deps.Events == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err := h.deps.Events.ClearDeadLetter(); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
