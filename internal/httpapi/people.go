package httpapi

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/localphoto/photovault/internal/apperr"
	"github.com/localphoto/photovault/internal/store"
)

func registerPeopleRoutes(app *fiber.App, h *handlers) {
	app.Get("/people", h.listPeople)
	app.Post("/people", h.createPerson)
	app.Post("/people/:id/samples", h.addPersonSample)
	app.Delete("/people/:id", h.deletePerson)
}

func (h *handlers) requireFaceSearchEnabled() error {
	if !h.deps.Config.FaceSearch.Enabled {
		return apperr.Forbiddenf("face search is disabled")
	}
	return nil
}

func (h *handlers) listPeople(c *fiber.Ctx) error {
	if err := h.requireFaceSearchEnabled(); err != nil {
		return err
	}
	people, err := h.deps.Store.ListPeople(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(people)
}

type createPersonRequest struct {
	Name string    `json:"name"`
	Vec  []float32 `json:"vec"`
}

func (h *handlers) createPerson(c *fiber.Ctx) error {
	if err := h.requireFaceSearchEnabled(); err != nil {
		return err
	}
	var req createPersonRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalidf("malformed request body: %v", err)
	}
	if req.Name == "" {
		return apperr.Invalidf("name is required")
	}
	if len(req.Vec) != store.EmbeddingDimensions {
		return apperr.Invalidf("vec must have %d dimensions, got %d", store.EmbeddingDimensions, len(req.Vec))
	}

	if existing, _ := h.deps.Store.GetPersonByName(c.Context(), req.Name); existing != nil {
		return apperr.Conflictf("person %q already enrolled", req.Name)
	}

	person, err := h.deps.Store.CreatePerson(c.Context(), req.Name, req.Vec)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(person)
}

type addSampleRequest struct {
	Vec []float32 `json:"vec"`
}

func (h *handlers) addPersonSample(c *fiber.Ctx) error {
	if err := h.requireFaceSearchEnabled(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.Invalidf("invalid person id %q", c.Params("id"))
	}
	var req addSampleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalidf("malformed request body: %v", err)
	}
	if len(req.Vec) != store.EmbeddingDimensions {
		return apperr.Invalidf("vec must have %d dimensions, got %d", store.EmbeddingDimensions, len(req.Vec))
	}

	person, err := h.deps.Store.AddPersonSample(c.Context(), id, req.Vec)
	if err != nil {
		return err
	}
	return c.JSON(person)
}

func (h *handlers) deletePerson(c *fiber.Ctx) error {
	if err := h.requireFaceSearchEnabled(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.Invalidf("invalid person id %q", c.Params("id"))
	}
	if err := h.deps.Store.DeletePerson(c.Context(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
