package httpapi

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/localphoto/photovault/internal/apperr"
)

func registerPhotoRoutes(app *fiber.App, h *handlers) {
	app.Get("/photos/:id/original", h.photoOriginal)
	// Reverse photo search is not in the external interface's route
	// table but is a Query Engine operation (C6); exposed here so the
	// operation has an HTTP caller.
	app.Get("/photos/:id/similar", h.photoSimilar)
}

func (h *handlers) photoID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, apperr.Invalidf("invalid photo id %q", c.Params("id"))
	}
	return id, nil
}

func (h *handlers) photoOriginal(c *fiber.Ctx) error {
	id, err := h.photoID(c)
	if err != nil {
		return err
	}
	photo, err := h.deps.Store.GetPhoto(c.Context(), id)
	if err != nil {
		return err
	}
	return c.SendFile(photo.Path)
}

func (h *handlers) photoSimilar(c *fiber.Ctx) error {
	id, err := h.photoID(c)
	if err != nil {
		return err
	}
	topK := topKOrDefault(queryInt(c, "top_k", 0))
	result, err := h.deps.Query.ReversePhoto(c.Context(), id, topK)
	if err != nil {
		return err
	}
	return c.JSON(result)
}
