package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/localphoto/photovault/internal/apperr"
	"github.com/localphoto/photovault/internal/batch"
)

func registerBatchRoutes(app *fiber.App, h *handlers) {
	app.Post("/batch/export", h.batchExport)
	app.Post("/batch/delete", h.batchDelete)
	app.Post("/batch/tag", h.batchTag)
	app.Get("/batch/status/:id", h.batchStatus)
	app.Get("/batch/jobs", h.batchJobs)
	app.Delete("/batch/jobs/:id", h.batchCancel)
}

type batchDeleteRequest struct {
	PhotoIDs  []int64 `json:"photo_ids"`
	Permanent bool    `json:"permanent"`
}

func (h *handlers) batchDelete(c *fiber.Ctx) error {
	var req batchDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalidf("malformed request body: %v", err)
	}
	job, err := h.deps.Batch.Start(c.Context(), batch.Request{
		Kind: batch.KindDelete, PhotoIDs: req.PhotoIDs, Permanent: req.Permanent,
	})
	if err != nil {
		return err
	}
	return c.JSON(job)
}

type batchTagRequest struct {
	PhotoIDs []int64 `json:"photo_ids"`
	Tag      string  `json:"tag"`
}

func (h *handlers) batchTag(c *fiber.Ctx) error {
	var req batchTagRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalidf("malformed request body: %v", err)
	}
	job, err := h.deps.Batch.Start(c.Context(), batch.Request{
		Kind: batch.KindTag, PhotoIDs: req.PhotoIDs, Tag: req.Tag,
	})
	if err != nil {
		return err
	}
	return c.JSON(job)
}

type batchExportRequest struct {
	PhotoIDs []int64 `json:"photo_ids"`
	DestDir  string  `json:"dest_dir"`
}

func (h *handlers) batchExport(c *fiber.Ctx) error {
	var req batchExportRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalidf("malformed request body: %v", err)
	}
	if req.DestDir == "" {
		return apperr.Invalidf("dest_dir is required")
	}
	job, err := h.deps.Batch.Start(c.Context(), batch.Request{
		Kind: batch.KindExport, PhotoIDs: req.PhotoIDs, Sink: newFileExportSink(req.DestDir),
	})
	if err != nil {
		return err
	}
	return c.JSON(job)
}

func (h *handlers) batchStatus(c *fiber.Ctx) error {
	job, err := h.deps.Batch.Status(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(job)
}

func (h *handlers) batchJobs(c *fiber.Ctx) error {
	return c.JSON(h.deps.Batch.List())
}

func (h *handlers) batchCancel(c *fiber.Ctx) error {
	if err := h.deps.Batch.Cancel(c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
