package badger

import (
	"context"
	"testing"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parisWrite(project, doc string) storage.GraphWrite {
	return storage.GraphWrite{
		Scope: storage.DocScope{ProjectID: project, DocID: doc},
		Chunks: []core.ChunkGraph{
			{
				ChunkID: core.ChunkID(doc, 0),
				Entities: []core.Entity{
					{Name: "Eiffel Tower", Type: "artifact", Importance: 9},
					{Name: "Paris", Type: "location", Importance: 6},
				},
				Relationships: []core.Relationship{
					{Source: "eiffel tower", Target: "paris", Type: "located_in"},
				},
			},
			{
				ChunkID: core.ChunkID(doc, 1),
				Entities: []core.Entity{
					{Name: "Paris", Type: "location", Importance: 8},
				},
			},
			{
				ChunkID: core.ChunkID(doc, 2),
				Entities: []core.Entity{
					{Name: "Seine", Type: "location", Importance: 4},
				},
			},
		},
	}
}

func TestGraphQueryScoresSeedsAndNeighbours(t *testing.T) {
	ctx := context.Background()
	graph := newTestStores(t).Graph
	require.NoError(t, graph.Write(ctx, parisWrite("a", "d1")))

	matches, err := graph.Query(ctx, []string{"Eiffel  Tower"}, storage.Filter{ProjectID: "a"}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Chunk 0 mentions the seed (9) and the neighbour paris (6 * 0.5).
	assert.Equal(t, core.ChunkID("d1", 0), matches[0].ChunkID)
	assert.InDelta(t, 12.0, matches[0].Score, 1e-9)
	// Chunk 1 is reached only through paris (8 * 0.5).
	assert.Equal(t, core.ChunkID("d1", 1), matches[1].ChunkID)
	assert.InDelta(t, 4.0, matches[1].Score, 1e-9)
}

func TestGraphQueryUnknownSeedAndLimit(t *testing.T) {
	ctx := context.Background()
	graph := newTestStores(t).Graph
	require.NoError(t, graph.Write(ctx, parisWrite("a", "d1")))

	matches, err := graph.Query(ctx, []string{"london"}, storage.Filter{ProjectID: "a"}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// paris alone: chunk 0 scores 6 + 9*0.5 through eiffel tower, chunk 1 scores 8.
	matches, err = graph.Query(ctx, []string{"paris"}, storage.Filter{ProjectID: "a"}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, core.ChunkID("d1", 0), matches[0].ChunkID)
	assert.InDelta(t, 10.5, matches[0].Score, 1e-9)
}

func TestGraphProjectAndDocumentFilters(t *testing.T) {
	ctx := context.Background()
	graph := newTestStores(t).Graph
	require.NoError(t, graph.Write(ctx, parisWrite("a", "d1")))
	require.NoError(t, graph.Write(ctx, parisWrite("a", "d2")))
	require.NoError(t, graph.Write(ctx, parisWrite("b", "d3")))

	matches, err := graph.Query(ctx, []string{"paris"}, storage.Filter{ProjectID: "a", DocIDs: []string{"d2"}}, 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.Contains(t, m.ChunkID, "d2-")
	}
	assert.NotEmpty(t, matches)

	matches, err = graph.Query(ctx, []string{"paris"}, storage.Filter{ProjectID: "b"}, 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.Contains(t, m.ChunkID, "d3-")
	}

	_, err = graph.Query(ctx, []string{"paris"}, storage.Filter{}, 10)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestGraphDeleteRemovesOnlyTheDocument(t *testing.T) {
	ctx := context.Background()
	graph := newTestStores(t).Graph
	require.NoError(t, graph.Write(ctx, parisWrite("a", "d1")))
	require.NoError(t, graph.Write(ctx, parisWrite("a", "d2")))

	removed, err := graph.Delete(ctx, storage.DocScope{ProjectID: "a", DocID: "d1"})
	require.NoError(t, err)
	// Four mentions and one relationship.
	assert.Equal(t, 5, removed)

	matches, err := graph.Query(ctx, []string{"eiffel tower"}, storage.Filter{ProjectID: "a"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Contains(t, m.ChunkID, "d2-")
	}

	removed, err = graph.Delete(ctx, storage.DocScope{ProjectID: "a", DocID: "d1"})
	require.NoError(t, err)
	assert.Zero(t, removed)
}
