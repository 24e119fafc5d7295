package httpapi

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/localphoto/photovault/internal/batch"
	"github.com/localphoto/photovault/internal/config"
	"github.com/localphoto/photovault/internal/crawler"
	"github.com/localphoto/photovault/internal/descriptor"
	"github.com/localphoto/photovault/internal/eventqueue"
	"github.com/localphoto/photovault/internal/pipeline"
	"github.com/localphoto/photovault/internal/query"
	"github.com/localphoto/photovault/internal/store"
	"github.com/localphoto/photovault/internal/vectorindex"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	vi := vectorindex.NewManager(vectorindex.ManagerConfig{Dimensions: store.EmbeddingDimensions}, s, nil)

	crawl, err := crawler.New()
	require.NoError(t, err)

	orch, err := pipeline.New(pipeline.Dependencies{
		Store:       s,
		VectorIndex: vi,
		Crawler:     crawl,
		EXIF:        descriptor.NewEXIFWorker(),
		Thumbnail:   descriptor.NewThumbnailWorker(t.TempDir()),
		Embedding:   descriptor.NewEmbeddingWorker(descriptor.UnavailableEmbeddingModel{Dims: store.EmbeddingDimensions}, "unavailable"),
	})
	require.NoError(t, err)

	qe, err := query.New(s, vi, nil, nil, query.Config{})
	require.NoError(t, err)

	cfg := config.NewConfig()
	bm := batch.New(s, nil)

	eq, err := eventqueue.New(eventqueue.Config{Workers: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eq.Close() })

	return New(Deps{Store: s, Orchestrator: orch, Query: qe, Batch: bm, Events: eq, Config: cfg})
}

func TestHealth_ReturnsOK(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestIndexStop_WithoutRunningReturnsInvalid(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest("POST", "/index/stop", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 400, resp.StatusCode)
}

func TestSearchText_WithEmptyStoreReturnsEmptyResults(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest("GET", "/search?q=beach", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), `"Items":[]`)
}

func TestSearchSemantic_WithoutEmbedderReturns503(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest("POST", "/search/semantic", strings.NewReader(`{"text":"dog on beach"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 503, resp.StatusCode)
}

func TestPeople_WhileFaceSearchDisabledReturns403(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest("GET", "/people", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 403, resp.StatusCode)
}

func TestEventStats_ReportsMaxWorkersFromConfiguredQueue(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest("GET", "/events/stats", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), `"MaxWorkers":1`)
}

func TestBatchDelete_RejectsEmptyPhotoIDs(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest("POST", "/batch/delete", strings.NewReader(`{"photo_ids":[]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 400, resp.StatusCode)
}
