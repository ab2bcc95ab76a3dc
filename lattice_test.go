package lattice

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/ai/mock"
	"github.com/poiesic/lattice/config"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/ingestion"
	"github.com/poiesic/lattice/resilience"
	"github.com/poiesic/lattice/search"
	"github.com/poiesic/lattice/storage"
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
	return cfg
}

// silentProvider extracts nothing, so the graph stays empty.
func silentProvider() ai.AIProvider {
	extractor := mock.NewMockEntityExtractor()
	extractor.ExtractEntitiesFunc = func(context.Context, string) (*ai.Extraction, error) {
		return &ai.Extraction{}, nil
	}
	return mock.NewMockProviderWithServices(mock.NewMockEmbedder(), extractor, mock.NewMockGenerator())
}

func newEngine(t *testing.T, cfg *config.Config, provider ai.AIProvider) *Engine {
	t.Helper()
	e, err := New(context.Background(), cfg, WithProvider(provider))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func plainText(n int) string {
	words := strings.Repeat("alpha bravo charlie delta echo foxtrot ", n/39+1)
	return words[:n]
}

func waitReady(t *testing.T, e *Engine, taskID string) ingestion.TaskStatus {
	t.Helper()
	var status ingestion.TaskStatus
	require.Eventually(t, func() bool {
		s, err := e.Status(taskID)
		if err != nil {
			return false
		}
		status = s
		return s.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestEngineIngestSearchDelete(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig(t), silentProvider())

	project, err := e.CreateProject(ctx, "  research  ")
	require.NoError(t, err)
	assert.Equal(t, "research", project.Name)

	text := plainText(1200)
	task, err := e.Ingest(ctx, project.ID, "notes.txt", []byte(text))
	require.NoError(t, err)
	status := waitReady(t, e, task.ID)
	require.Equal(t, core.StageReady, status.Stage, status.Error)
	assert.Equal(t, 100, status.ProgressPercent)

	doc, err := e.Document(ctx, project.ID, task.DocID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)

	chunks, err := e.vectors.Scan(ctx, storage.Filter{ProjectID: project.ID})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Ordinal)
		assert.Equal(t, core.ChunkID(doc.ID, i), chunk.ID)
	}
	middle := chunks[1].Text
	require.Equal(t, strings.TrimSpace(middle), middle)
	assert.Equal(t, string([]rune(text)[450:950]), middle)

	results, err := e.Search(ctx, search.Query{Text: middle, ProjectID: project.ID})
	require.NoError(t, err)
	require.Len(t, results.Hits, 3)
	assert.Empty(t, results.Degraded)
	assert.Equal(t, core.ChunkID(doc.ID, 1), results.Hits[0].Chunk.ID)
	assert.InDelta(t, 1.0/61, results.Hits[0].Score, 1e-12)

	removed, err := e.Delete(ctx, project.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, removed.VectorsRemoved)
	assert.True(t, removed.FileRemoved)

	results, err = e.Search(ctx, search.Query{Text: middle, ProjectID: project.ID})
	require.NoError(t, err)
	assert.Empty(t, results.Hits)

	docs, err := e.ListDocuments(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, core.StatusDeleted, docs[0].Status)
}

func TestEngineWithSQLiteGraph(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.GraphBackend = config.BackendSQLite
	e := newEngine(t, cfg, mock.NewMockProvider())

	project, err := e.CreateProject(ctx, "graph")
	require.NoError(t, err)
	task, err := e.Ingest(ctx, project.ID, "notes.md", []byte("# Rome\n\nThe Colosseum stands in Rome.\n"))
	require.NoError(t, err)
	require.Equal(t, core.StageReady, waitReady(t, e, task.ID).Stage)

	results, err := e.Search(ctx, search.Query{Text: "colosseum", ProjectID: project.ID})
	require.NoError(t, err)
	require.NotEmpty(t, results.Hits)
	assert.Contains(t, results.Hits[0].Provenance.Sources, core.SourceGraph)
}

func TestEngineProjects(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig(t), mock.NewMockProvider())

	_, err := e.CreateProject(ctx, " ")
	assert.ErrorIs(t, err, core.ErrValidation)

	a, err := e.CreateProject(ctx, "a")
	require.NoError(t, err)
	_, err = e.CreateProject(ctx, "b")
	require.NoError(t, err)

	projects, err := e.Projects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 2)

	got, err := e.Project(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	_, err = e.Project(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = e.ListDocuments(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = e.Ingest(ctx, "missing", "notes.txt", []byte("text"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngineReindex(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig(t), silentProvider())

	project, err := e.CreateProject(ctx, "reindex")
	require.NoError(t, err)
	task, err := e.Ingest(ctx, project.ID, "notes.txt", []byte(plainText(1200)))
	require.NoError(t, err)
	require.Equal(t, core.StageReady, waitReady(t, e, task.ID).Stage)

	var progress strings.Builder
	report, err := e.Reindex(ctx, project.ID, &progress)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Contains(t, progress.String(), "3/3 chunks")
}

func TestEngineHealth(t *testing.T) {
	e := newEngine(t, testConfig(t), mock.NewMockProvider())

	health := e.Health()
	assert.True(t, health.Healthy)
	require.Len(t, health.Breakers, 4)
	for _, b := range health.Breakers {
		assert.Equal(t, resilience.StateClosed, b.State)
	}
	assert.Len(t, health.Pools, 2)
	assert.NotNil(t, e.Limiter())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ingestion.ChunkOverlap = cfg.Ingestion.ChunkSize
	_, err := New(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestNewRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.InMemory = false
	cfg.Storage.DataDir = t.TempDir()

	e, err := New(ctx, cfg, WithProvider(silentProvider()))
	require.NoError(t, err)
	project, err := e.CreateProject(ctx, "width")
	require.NoError(t, err)
	task, err := e.Ingest(ctx, project.ID, "notes.txt", []byte(plainText(600)))
	require.NoError(t, err)
	require.Equal(t, core.StageReady, waitReady(t, e, task.ID).Stage)
	require.NoError(t, e.Close())

	wider := mock.NewMockProviderWithServices(&mock.MockEmbedder{Dimension: 768},
		mock.NewMockEntityExtractor(), mock.NewMockGenerator())
	cfg.AI.Dimension = 768
	_, err = New(ctx, cfg, WithProvider(wider))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	cfg.AI.Dimension = mock.DefaultDimension
	reopened := newEngine(t, cfg, silentProvider())
	docs, err := reopened.ListDocuments(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
