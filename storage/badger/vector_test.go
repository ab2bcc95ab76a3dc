package badger

import (
	"context"
	"testing"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStores(t *testing.T) *Stores {
	t.Helper()
	stores, err := NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

func chunk(project, doc string, ordinal int, vector ...float32) *core.Chunk {
	return &core.Chunk{
		ID:        core.ChunkID(doc, ordinal),
		DocID:     doc,
		ProjectID: project,
		Ordinal:   ordinal,
		Text:      "text",
		Vector:    core.NormalizeVector(vector),
	}
}

func TestVectorSearchRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	vectors := newTestStores(t).Vectors

	require.NoError(t, vectors.Upsert(ctx,
		chunk("a", "d1", 0, 1, 0),
		chunk("a", "d1", 1, 1, 1),
		chunk("a", "d2", 0, 0, 1),
	))

	matches, err := vectors.Search(ctx, []float32{1, 0}, storage.Filter{ProjectID: "a"}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, core.ChunkID("d1", 0), matches[0].ID)
	assert.Equal(t, core.ChunkID("d1", 1), matches[1].ID)

	matches, err = vectors.Search(ctx, []float32{1, 0}, storage.Filter{ProjectID: "a", DocIDs: []string{"d2"}}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, core.ChunkID("d2", 0), matches[0].ID)

	matches, err = vectors.Search(ctx, []float32{1, 0}, storage.Filter{ProjectID: "a"}, 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestVectorSearchProjectIsolation(t *testing.T) {
	ctx := context.Background()
	vectors := newTestStores(t).Vectors

	require.NoError(t, vectors.Upsert(ctx,
		chunk("a", "da", 0, 0, 1),
		chunk("b", "db", 0, 1, 0),
	))

	matches, err := vectors.Search(ctx, []float32{1, 0}, storage.Filter{ProjectID: "a"}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, core.ChunkID("da", 0), matches[0].ID)

	// A document filter naming another project's document yields nothing.
	matches, err = vectors.Search(ctx, []float32{1, 0}, storage.Filter{ProjectID: "a", DocIDs: []string{"db"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	fetched, err := vectors.Fetch(ctx, "a", core.ChunkID("db", 0))
	require.NoError(t, err)
	assert.Empty(t, fetched)
}

func TestVectorRequiresProject(t *testing.T) {
	ctx := context.Background()
	vectors := newTestStores(t).Vectors

	_, err := vectors.Search(ctx, []float32{1}, storage.Filter{}, 10)
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = vectors.Count(ctx, storage.Filter{})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = vectors.Delete(ctx, storage.DocScope{DocID: "d"})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = vectors.Fetch(ctx, "", "x")
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.ErrorIs(t, vectors.Upsert(ctx, chunk("", "d", 0, 1)), core.ErrValidation)
}

func TestVectorDeleteScanAndCount(t *testing.T) {
	ctx := context.Background()
	vectors := newTestStores(t).Vectors

	require.NoError(t, vectors.Upsert(ctx,
		chunk("a", "d1", 1, 1, 0),
		chunk("a", "d1", 0, 1, 0),
		chunk("a", "d2", 0, 0, 1),
	))

	scanned, err := vectors.Scan(ctx, storage.Filter{ProjectID: "a", DocIDs: []string{"d1"}})
	require.NoError(t, err)
	require.Len(t, scanned, 2)
	assert.Equal(t, 0, scanned[0].Ordinal)
	assert.Equal(t, 1, scanned[1].Ordinal)

	removed, err := vectors.Delete(ctx, storage.DocScope{ProjectID: "a", DocID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := vectors.Count(ctx, storage.Filter{ProjectID: "a", DocIDs: []string{"d1"}})
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = vectors.Count(ctx, storage.Filter{ProjectID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err = vectors.Delete(ctx, storage.DocScope{ProjectID: "a", DocID: "d1"})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestVectorUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	vectors := newTestStores(t).Vectors

	c := chunk("a", "d1", 0, 1, 0)
	require.NoError(t, vectors.Upsert(ctx, c))
	c.Text = "updated"
	require.NoError(t, vectors.Upsert(ctx, c))

	fetched, err := vectors.Fetch(ctx, "a", c.ID)
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, "updated", fetched[0].Text)

	count, err := vectors.Count(ctx, storage.Filter{ProjectID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestVectorSearchRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	vectors := newTestStores(t).Vectors

	require.NoError(t, vectors.Upsert(ctx, chunk("a", "d1", 0, 1, 0, 0)))

	_, err := vectors.Search(ctx, []float32{1, 0}, storage.Filter{ProjectID: "a"}, 10)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	_, err = vectors.Search(ctx, []float32{1, 0, 0, 0}, storage.Filter{ProjectID: "a"}, 10)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	matches, err := vectors.Search(ctx, []float32{1, 0, 0}, storage.Filter{ProjectID: "a"}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestVectorCheckDimension(t *testing.T) {
	ctx := context.Background()
	vectors := newTestStores(t).Vectors.(*VectorStore)

	// An empty store accepts any width.
	require.NoError(t, vectors.CheckDimension(ctx, 3))
	require.NoError(t, vectors.CheckDimension(ctx, 768))

	require.NoError(t, vectors.Upsert(ctx, chunk("b", "d1", 0, 1, 0, 0)))

	assert.NoError(t, vectors.CheckDimension(ctx, 3))
	err := vectors.CheckDimension(ctx, 768)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "stored vectors have 3 dimensions, configured 768")
}
