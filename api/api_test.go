package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/poiesic/lattice"
	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/ai/mock"
	"github.com/poiesic/lattice/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = ""
	cfg.Storage.InMemory = true
	cfg.Storage.FilesDir = t.TempDir()
	cfg.Ingestion.ChunkSize = 500
	cfg.Ingestion.ChunkOverlap = 50
	cfg.Ingestion.Workers = 2
	cfg.Ingestion.BriefingBudget = 0
	cfg.RateLimit.Enabled = false
	return cfg
}

func quietProvider() ai.AIProvider {
	extractor := mock.NewMockEntityExtractor()
	extractor.ExtractEntitiesFunc = func(context.Context, string) (*ai.Extraction, error) {
		return &ai.Extraction{}, nil
	}
	return mock.NewMockProviderWithServices(mock.NewMockEmbedder(), extractor, mock.NewMockGenerator())
}

func newServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	engine, err := lattice.New(context.Background(), cfg, lattice.WithProvider(quietProvider()))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	srv, err := New(engine, cfg.Server, engine.Limiter(), nil)
	require.NoError(t, err)
	return srv
}

// envelope decodes a successful reply, unmarshalling its data into out.
func envelope(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	var body struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	if out != nil {
		require.NoError(t, json.Unmarshal(body.Data, out))
	}
}

func errorBody(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body.Error
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	return res
}

func upload(t *testing.T, app *fiber.App, projectID, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(fiber.MethodPost, "/v1/projects/"+projectID+"/documents", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	return res
}

func createProject(t *testing.T, app *fiber.App, name string) ProjectResponse {
	t.Helper()
	res := doJSON(t, app, fiber.MethodPost, "/v1/projects", CreateProjectRequest{Name: name})
	require.Equal(t, fiber.StatusCreated, res.StatusCode)
	var project ProjectResponse
	envelope(t, res, &project)
	return project
}

func waitTask(t *testing.T, app *fiber.App, taskID string) TaskResponse {
	t.Helper()
	var task TaskResponse
	require.Eventually(t, func() bool {
		res := doJSON(t, app, fiber.MethodGet, "/v1/tasks/"+taskID, nil)
		if res.StatusCode != fiber.StatusOK {
			res.Body.Close()
			return false
		}
		envelope(t, res, &task)
		return task.Stage == "ready" || task.Stage == "failed" || task.Stage == "cancelled"
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(nil, config.Default().Server, nil, nil)
	assert.ErrorIs(t, err, ErrEngineRequired)
}

func TestProjects(t *testing.T) {
	app := newServer(t, testConfig(t)).App()

	project := createProject(t, app, "research")
	assert.Equal(t, "research", project.Name)
	assert.NotEmpty(t, project.ID)

	res := doJSON(t, app, fiber.MethodGet, "/v1/projects", nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	var projects []ProjectResponse
	envelope(t, res, &projects)
	require.Len(t, projects, 1)
	assert.Equal(t, project.ID, projects[0].ID)

	res = doJSON(t, app, fiber.MethodGet, "/v1/projects/"+project.ID, nil)
	assert.Equal(t, fiber.StatusOK, res.StatusCode)
	res.Body.Close()

	res = doJSON(t, app, fiber.MethodGet, "/v1/projects/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestCreateProjectValidation(t *testing.T) {
	app := newServer(t, testConfig(t)).App()

	res := doJSON(t, app, fiber.MethodPost, "/v1/projects", CreateProjectRequest{})
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	assert.Contains(t, errorBody(t, res), "validation error")

	req := httptest.NewRequest(fiber.MethodPost, "/v1/projects", strings.NewReader("{"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	res.Body.Close()
}

func TestUploadSearchDelete(t *testing.T) {
	app := newServer(t, testConfig(t)).App()
	project := createProject(t, app, "notes")

	text := strings.Repeat("alpha bravo charlie delta echo foxtrot ", 31)[:1200]
	res := upload(t, app, project.ID, "notes.txt", text)
	require.Equal(t, fiber.StatusAccepted, res.StatusCode)
	var accepted TaskResponse
	envelope(t, res, &accepted)
	require.NotEmpty(t, accepted.TaskID)
	assert.Equal(t, project.ID, accepted.ProjectID)

	task := waitTask(t, app, accepted.TaskID)
	require.Equal(t, "ready", task.Stage, task.Error)
	assert.Equal(t, 100, task.ProgressPercent)

	res = doJSON(t, app, fiber.MethodGet, "/v1/projects/"+project.ID+"/documents/"+accepted.DocID, nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	var doc DocumentResponse
	envelope(t, res, &doc)
	assert.Equal(t, "ready", doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)

	res = doJSON(t, app, fiber.MethodPost, "/v1/projects/"+project.ID+"/search", SearchRequest{Query: text[:500], TopK: 2})
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	var found SearchResponse
	envelope(t, res, &found)
	require.Len(t, found.Hits, 2)
	assert.Equal(t, accepted.DocID, found.Hits[0].DocID)
	assert.Equal(t, 0, found.Hits[0].Ordinal)
	assert.Contains(t, found.Hits[0].Provenance.Sources, "vector")
	assert.Empty(t, found.Degraded)

	res = doJSON(t, app, fiber.MethodDelete, "/v1/projects/"+project.ID+"/documents/"+accepted.DocID, nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	var deleted DeleteResponse
	envelope(t, res, &deleted)
	assert.Equal(t, 3, deleted.VectorsRemoved)
	assert.True(t, deleted.FileRemoved)
	assert.Empty(t, deleted.Warning)

	res = doJSON(t, app, fiber.MethodPost, "/v1/projects/"+project.ID+"/search", SearchRequest{Query: text[:500]})
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	envelope(t, res, &found)
	assert.Empty(t, found.Hits)

	res = doJSON(t, app, fiber.MethodGet, "/v1/projects/"+project.ID+"/documents", nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	var docs []DocumentResponse
	envelope(t, res, &docs)
	require.Len(t, docs, 1)
	assert.Equal(t, "deleted", docs[0].Status)
}

func TestUploadRejections(t *testing.T) {
	app := newServer(t, testConfig(t)).App()
	project := createProject(t, app, "uploads")

	res := upload(t, app, project.ID, "slides.pptx", "content")
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	assert.Contains(t, errorBody(t, res), "unsupported file format")

	res = upload(t, app, "missing", "notes.txt", "content")
	assert.Equal(t, fiber.StatusNotFound, res.StatusCode)
	res.Body.Close()

	res = doJSON(t, app, fiber.MethodPost, "/v1/projects/"+project.ID+"/documents", nil)
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	assert.Contains(t, errorBody(t, res), "file")
}

func TestSearchValidation(t *testing.T) {
	app := newServer(t, testConfig(t)).App()
	project := createProject(t, app, "search")

	tests := []struct {
		name string
		path string
		req  SearchRequest
		want int
	}{
		{name: "empty query", path: project.ID, req: SearchRequest{}, want: fiber.StatusBadRequest},
		{name: "negative top k", path: project.ID, req: SearchRequest{Query: "q", TopK: -1}, want: fiber.StatusBadRequest},
		{name: "blank source", path: project.ID, req: SearchRequest{Query: "q", SourceIDs: []string{""}}, want: fiber.StatusBadRequest},
		{name: "unknown project", path: "missing", req: SearchRequest{Query: "q"}, want: fiber.StatusNotFound},
		{name: "empty project", path: project.ID, req: SearchRequest{Query: "q"}, want: fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doJSON(t, app, fiber.MethodPost, "/v1/projects/"+tt.path+"/search", tt.req)
			defer res.Body.Close()
			assert.Equal(t, tt.want, res.StatusCode)
		})
	}
}

func TestTasksAndDocumentsNotFound(t *testing.T) {
	app := newServer(t, testConfig(t)).App()
	project := createProject(t, app, "empty")

	for _, path := range []string{
		"/v1/tasks/nope",
		"/v1/projects/" + project.ID + "/documents/nope",
		"/v1/projects/missing/documents",
	} {
		res := doJSON(t, app, fiber.MethodGet, path, nil)
		assert.Equal(t, fiber.StatusNotFound, res.StatusCode, path)
		res.Body.Close()
	}

	res := doJSON(t, app, fiber.MethodDelete, "/v1/tasks/nope", nil)
	assert.Equal(t, fiber.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestHealth(t *testing.T) {
	app := newServer(t, testConfig(t)).App()

	res := doJSON(t, app, fiber.MethodGet, "/v1/health", nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	var health HealthResponse
	envelope(t, res, &health)
	assert.True(t, health.Healthy)
	assert.Len(t, health.Breakers, 4)
	assert.Len(t, health.Pools, 2)
	for _, b := range health.Breakers {
		assert.Equal(t, "CLOSED", b.State)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.PerClient = config.BucketConfig{Capacity: 2, RefillRate: 0.1}
	app := newServer(t, cfg).App()

	for range 2 {
		res := doJSON(t, app, fiber.MethodGet, "/v1/health", nil)
		assert.Equal(t, fiber.StatusOK, res.StatusCode)
		res.Body.Close()
	}

	res := doJSON(t, app, fiber.MethodGet, "/v1/health", nil)
	assert.Equal(t, fiber.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "10", res.Header.Get(fiber.HeaderRetryAfter))
	assert.Contains(t, errorBody(t, res), "rate limit exceeded")
}
