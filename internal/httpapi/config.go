package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/localphoto/photovault/internal/apperr"
)

func registerConfigRoutes(app *fiber.App, h *handlers) {
	app.Get("/config", h.getConfig)
	app.Post("/config/roots", h.setRoots)
	app.Post("/config", h.updateConfig)
}

func (h *handlers) getConfig(c *fiber.Ctx) error {
	return c.JSON(h.deps.Config)
}

type setRootsRequest struct {
	Roots []string `json:"roots"`
}

func (h *handlers) setRoots(c *fiber.Ctx) error {
	var req setRootsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalidf("malformed request body: %v", err)
	}
	if len(req.Roots) == 0 {
		return apperr.Invalidf("roots must not be empty")
	}
	h.deps.Config.Roots.Paths = req.Roots
	if err := h.deps.Config.Validate(); err != nil {
		return apperr.Wrap(apperr.Invalid, "invalid configuration", err)
	}
	return c.JSON(h.deps.Config)
}

// updateConfigRequest carries the subset of fields callers may patch;
// zero values are left untouched, matching the config layer's
// non-zero-field merge semantics.
type updateConfigRequest struct {
	FusionMethod       string  `json:"fusion_method"`
	RRFConstant        float64 `json:"rrf_constant"`
	FaceSearchEnabled  *bool   `json:"face_search_enabled"`
	FaceMatchThreshold float64 `json:"face_match_threshold"`
	IndexWorkers       int     `json:"index_workers"`
	LogLevel           string  `json:"log_level"`
}

func (h *handlers) updateConfig(c *fiber.Ctx) error {
	var req updateConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Invalidf("malformed request body: %v", err)
	}

	cfg := h.deps.Config
	if req.FusionMethod != "" {
		cfg.Fusion.Method = req.FusionMethod
	}
	if req.RRFConstant != 0 {
		cfg.Fusion.RRFConstant = int(req.RRFConstant)
	}
	if req.FaceSearchEnabled != nil {
		cfg.FaceSearch.Enabled = *req.FaceSearchEnabled
	}
	if req.FaceMatchThreshold != 0 {
		cfg.FaceSearch.MatchThreshold = req.FaceMatchThreshold
	}
	if req.IndexWorkers != 0 {
		cfg.Performance.IndexWorkers = req.IndexWorkers
	}
	if req.LogLevel != "" {
		cfg.Server.LogLevel = req.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return apperr.Wrap(apperr.Invalid, "invalid configuration", err)
	}
	return c.JSON(cfg)
}
