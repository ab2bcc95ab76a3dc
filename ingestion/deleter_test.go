package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ingestReady ingests text and waits for the document to become ready.
func ingestReady(t *testing.T, p *Pipeline, text string) *core.Document {
	t.Helper()
	task, err := p.Ingest(context.Background(), []byte(text), "notes.txt", testProject)
	require.NoError(t, err)
	require.Equal(t, core.StageReady, waitForTask(t, p, task.ID).Stage)
	doc, err := p.stores.Documents.Get(context.Background(), testProject, task.DocID)
	require.NoError(t, err)
	return doc
}

func fileExists(t *testing.T, files storage.FileStore, path string) bool {
	t.Helper()
	ok, err := files.Exists(context.Background(), path)
	require.NoError(t, err)
	return ok
}

func TestDeleteRemovesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, WithBriefingBudget(0))
	doc := ingestReady(t, p, plainText(1200))
	keep := ingestReady(t, p, plainText(300))
	require.True(t, fileExists(t, f.stores.Files, doc.StoragePath))

	result, err := p.Deleter().Delete(ctx, testProject, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.VectorsRemoved)
	assert.Positive(t, result.GraphRemoved)
	assert.True(t, result.FileRemoved)

	count, err := f.stores.Vectors.Count(ctx, storage.Filter{ProjectID: testProject, DocIDs: []string{doc.ID}})
	require.NoError(t, err)
	assert.Zero(t, count)

	matches, err := f.stores.Graph.Query(ctx, []string{"alpha"}, storage.Filter{ProjectID: testProject}, 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotContains(t, m.ChunkID, doc.ID)
	}
	assert.NotEmpty(t, matches, "other document's graph survives")

	assert.False(t, fileExists(t, f.stores.Files, doc.StoragePath))
	assert.True(t, fileExists(t, f.stores.Files, keep.StoragePath))

	tombstone, err := f.stores.Documents.Get(ctx, testProject, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, tombstone.Status)

	again, err := p.Deleter().Delete(ctx, testProject, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, again.VectorsRemoved)
}

func TestDeleteStopsWhenVectorsRemain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, WithBriefingBudget(0))
	doc := ingestReady(t, p, plainText(800))

	stores := f.stores
	stores.Vectors = &failingVectors{VectorStore: f.stores.Vectors, keepOnDelete: true}
	deleter, err := NewDeleter(stores, p.Locks(), p, nil)
	require.NoError(t, err)

	_, err = deleter.Delete(ctx, testProject, doc.ID)
	assert.ErrorIs(t, err, core.ErrConsistency)

	assert.True(t, fileExists(t, f.stores.Files, doc.StoragePath))
	matches, err := f.stores.Graph.Query(ctx, []string{"alpha"}, storage.Filter{ProjectID: testProject}, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, matches)

	current, err := f.stores.Documents.Get(ctx, testProject, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, current.Status)
}

func TestDeleteReportsOrphanedFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, WithBriefingBudget(0))
	doc := ingestReady(t, p, plainText(800))

	stores := f.stores
	stores.Files = &stuckFiles{FileStore: f.stores.Files}
	deleter, err := NewDeleter(stores, p.Locks(), nil, nil)
	require.NoError(t, err)

	result, err := deleter.Delete(ctx, testProject, doc.ID)
	assert.ErrorIs(t, err, core.ErrOrphanedFile)
	assert.Equal(t, 2, result.VectorsRemoved)
	assert.False(t, result.FileRemoved)

	current, err := f.stores.Documents.Get(ctx, testProject, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, current.Status)
}

func TestDeleteIsScopedToProject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, WithBriefingBudget(0))
	doc := ingestReady(t, p, plainText(300))

	_, err := p.Deleter().Delete(ctx, "other", doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = p.Deleter().Delete(ctx, "", doc.ID)
	assert.ErrorIs(t, err, core.ErrValidation)

	count, err := f.stores.Vectors.Count(ctx, storage.Filter{ProjectID: testProject})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeleteCancelsInFlightIngestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	release := make(chan struct{})
	defer close(release)
	f.blockEmbedding(release)
	p := f.pipeline(t)

	task, err := p.Ingest(ctx, []byte(plainText(800)), "notes.txt", testProject)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := p.Status(task.ID)
		return s.Stage == core.StageEmbedding
	}, 5*time.Second, 10*time.Millisecond)

	_, err = p.Deleter().Delete(ctx, testProject, task.DocID)
	require.NoError(t, err)

	status := waitForTask(t, p, task.ID)
	assert.Equal(t, core.StageCancelled, status.Stage)

	doc, err := f.stores.Documents.Get(ctx, testProject, task.DocID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, doc.Status)

	count, err := f.stores.Vectors.Count(ctx, storage.Filter{ProjectID: testProject})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLocksSerialiseHolders(t *testing.T) {
	locks := NewLocks()
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("doc")
			defer unlock()
			mu.Lock()
			inside++
			maxInside = max(maxInside, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Zero(t, locks.Len())
}
