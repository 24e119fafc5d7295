package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/localphoto/photovault/internal/apperr"
	"github.com/localphoto/photovault/internal/eventqueue"
	"github.com/localphoto/photovault/internal/pipeline"
)

func registerIndexRoutes(app *fiber.App, h *handlers) {
	app.Post("/index/start", h.indexStart)
	app.Post("/index/stop", h.indexStop)
	app.Get("/index/status", h.indexStatus)
	app.Get("/index/stats", h.indexStats)
}

type indexStartRequest struct {
	Full bool `json:"full"`
}

func (h *handlers) indexStart(c *fiber.Ctx) error {
	var req indexStartRequest
	_ = c.BodyParser(&req) // empty body is valid, defaults to incremental

	if h.deps.Orchestrator.IsRunning() {
		return apperr.Conflictf("indexing is already running")
	}

	cfg := pipeline.Config{
		Roots:             h.deps.Config.Roots.Paths,
		Extensions:        h.deps.Config.Roots.Extensions,
		Workers:           h.deps.Config.Performance.IndexWorkers,
		FaceSearchEnabled: h.deps.Config.FaceSearch.Enabled,
		Full:              req.Full,
	}
	h.deps.Orchestrator.Start(c.Context(), cfg)
	h.publishEvent(eventqueue.TypeIndexStarted, map[string]any{"full": req.Full})
	h.awaitIndexOutcome()
	return c.JSON(fiber.Map{"status": "started"})
}

func (h *handlers) indexStop(c *fiber.Ctx) error {
	if !h.deps.Orchestrator.IsRunning() {
		return apperr.Invalidf("indexing is not running")
	}
	h.deps.Orchestrator.Stop()
	return c.JSON(fiber.Map{"status": "stopped"})
}

func (h *handlers) publishEvent(t eventqueue.Type, data map[string]any) {
	if h.deps.Events == nil {
		return
	}
	h.deps.Events.Publish(t, data, eventqueue.WithSource("httpapi"))
}

// awaitIndexOutcome publishes the run's terminal event once it finishes,
// without blocking the HTTP response that triggered it.
func (h *handlers) awaitIndexOutcome() {
	if h.deps.Events == nil {
		return
	}
	go func() {
		result, err := h.deps.Orchestrator.Wait()
		if err != nil {
			h.publishEvent(eventqueue.TypeIndexFailed, map[string]any{"error": err.Error()})
			return
		}
		data := map[string]any{}
		if result != nil {
			data["photos_indexed"] = result.PhotosIndexed
			data["errors"] = result.Errors
		}
		h.publishEvent(eventqueue.TypeIndexCompleted, data)
	}()
}

func (h *handlers) indexStatus(c *fiber.Ctx) error {
	progress := h.deps.Orchestrator.Progress()
	if progress == nil {
		return c.JSON(fiber.Map{"status": "idle"})
	}
	return c.JSON(progress.Snapshot())
}

func (h *handlers) indexStats(c *fiber.Ctx) error {
	stats, err := h.deps.Store.Stats(c.Context())
	if err != nil {
		return err
	}
	resp := fiber.Map{"stats": stats}
	if progress := h.deps.Orchestrator.Progress(); progress != nil {
		resp["current_run"] = progress.Snapshot()
	}
	return c.JSON(resp)
}
