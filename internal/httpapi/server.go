// Package httpapi binds the Store/Pipeline/Query/Batch APIs onto an
// HTTP surface with github.com/gofiber/fiber/v2. Handlers decode
// requests, call into the internal packages, and translate the
// apperr.Kind taxonomy into status codes — no auth, TLS termination,
// or middleware stack beyond request logging and error mapping is
// built here.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/localphoto/photovault/internal/apperr"
	"github.com/localphoto/photovault/internal/batch"
	"github.com/localphoto/photovault/internal/config"
	"github.com/localphoto/photovault/internal/eventqueue"
	"github.com/localphoto/photovault/internal/pipeline"
	"github.com/localphoto/photovault/internal/query"
	"github.com/localphoto/photovault/internal/store"
)

// Deps are the collaborators every handler is bound against.
type Deps struct {
	Store        store.MetadataStore
	Orchestrator *pipeline.Orchestrator
	Query        *query.Engine
	Batch        *batch.Manager
	Events       *eventqueue.Queue
	Config       *config.Config
	Logger       *slog.Logger
}

// New builds the fiber.App with every route from the external
// interface table wired to deps.
func New(deps Deps) *fiber.App {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(deps.Logger),
		AppName:      "photovaultd",
	})

	app.Use(requestID())

	h := &handlers{deps: deps}
	registerHealthRoutes(app, h)
	registerConfigRoutes(app, h)
	registerIndexRoutes(app, h)
	registerSearchRoutes(app, h)
	registerPhotoRoutes(app, h)
	registerPeopleRoutes(app, h)
	registerBatchRoutes(app, h)
	registerEventRoutes(app, h)

	return app
}

type handlers struct {
	deps Deps
}

// requestID stamps every request with a correlation id, echoed back in
// both the response header and any error body.
func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set("X-Request-ID", id)
		return c.Next()
	}
}

// errorResponse is the structured body every non-2xx response carries.
type errorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// errorHandler maps apperr.Kind to an HTTP status and logs everything
// except Cancelled, matching the propagation rule: per-request errors
// surface a structured body; all non-cancelled errors are logged with
// the correlation id that also appears in the response.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("request_id").(string)

		if fe, ok := err.(*fiber.Error); ok {
			return c.Status(fe.Code).JSON(errorResponse{Error: "invalid", Detail: fe.Message, RequestID: requestID})
		}

		kind := apperr.KindOf(err)
		status := statusForKind(kind)

		if kind != apperr.Cancelled {
			logger.Error("request_failed",
				slog.String("request_id", requestID),
				slog.String("kind", string(kind)),
				slog.String("path", c.Path()),
				slog.String("error", err.Error()),
			)
		}

		return c.Status(status).JSON(errorResponse{
			Error:     string(kind),
			Detail:    err.Error(),
			RequestID: requestID,
		})
	}
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return fiber.StatusNotFound
	case apperr.Conflict:
		return fiber.StatusConflict
	case apperr.Invalid:
		return fiber.StatusBadRequest
	case apperr.Forbidden:
		return fiber.StatusForbidden
	case apperr.Unavailable:
		return fiber.StatusServiceUnavailable
	case apperr.Cancelled:
		return fiber.StatusRequestTimeout
	case apperr.Storage, apperr.Fatal:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusInternalServerError
	}
}

// startedAt records process start for /health/detailed uptime reporting.
var startedAt = time.Now()
