package httpapi

import (
	"io"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/localphoto/photovault/internal/apperr"
	"github.com/localphoto/photovault/internal/store"
)

func registerSearchRoutes(app *fiber.App, h *handlers) {
	app.Get("/search", h.searchText)
	app.Post("/search/semantic", h.searchSemantic)
	app.Post("/search/image", h.searchImage)
	app.Post("/search/faces", h.searchFaces)
	app.Post("/search/combined", h.searchCombined)
}

const dateLayout = "2006-01-02"

func (h *handlers) searchText(c *fiber.Ctx) error {
	q := c.Query("q")
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	filters := store.TextQueryFilters{FolderPrefix: c.Query("folder")}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return apperr.Invalidf("invalid 'from' date: %v", err)
		}
		filters.ShotFrom = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return apperr.Invalidf("invalid 'to' date: %v", err)
		}
		filters.ShotTo = &t
	}

	result, err := h.deps.Query.Text(c.Context(), q, filters, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

type semanticSearchRequest struct {
	Text string `json:"text"`
	TopK int    `json:"top_k"`
}

func (h *handlers) searchSemantic(c *fiber.Ctx) error {
	var req semanticSearchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalidf("malformed request body: %v", err)
	}
	if req.Text == "" {
		return apperr.Invalidf("text must not be empty")
	}
	result, err := h.deps.Query.Semantic(c.Context(), req.Text, topKOrDefault(req.TopK))
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *handlers) searchImage(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return apperr.Invalidf("missing multipart field 'file': %v", err)
	}
	f, err := fileHeader.Open()
	if err != nil {
		return apperr.Invalidf("could not open uploaded file: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return apperr.Invalidf("could not read uploaded file: %v", err)
	}

	topK := topKOrDefault(queryInt(c, "top_k", 0))
	result, err := h.deps.Query.Image(c.Context(), data, topK)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

type faceSearchRequest struct {
	PersonID int64 `json:"person_id"`
	TopK     int   `json:"top_k"`
}

func (h *handlers) searchFaces(c *fiber.Ctx) error {
	var req faceSearchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalidf("malformed request body: %v", err)
	}
	if req.PersonID == 0 {
		return apperr.Invalidf("person_id is required")
	}
	result, err := h.deps.Query.Face(c.Context(), req.PersonID, topKOrDefault(req.TopK))
	if err != nil {
		return err
	}
	return c.JSON(result)
}

type combinedSearchRequest struct {
	Text   string `json:"text"`
	Folder string `json:"folder"`
	TopK   int    `json:"top_k"`
}

// searchCombined fuses the text cascade and semantic vector search
// into one ranking, per the rank-fusion module. Degrades to
// text-only results when no embedder is configured.
func (h *handlers) searchCombined(c *fiber.Ctx) error {
	var req combinedSearchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalidf("malformed request body: %v", err)
	}
	if req.Text == "" {
		return apperr.Invalidf("text must not be empty")
	}
	filters := store.TextQueryFilters{FolderPrefix: req.Folder}
	result, err := h.deps.Query.Combined(c.Context(), req.Text, filters, topKOrDefault(req.TopK))
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func topKOrDefault(topK int) int {
	if topK <= 0 {
		return 50
	}
	return topK
}

func queryInt(c *fiber.Ctx, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
