package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectRepository(t *testing.T) {
	ctx := context.Background()
	projects := newTestStores(t).Projects

	require.NoError(t, projects.Create(ctx, &core.Project{ID: "b", Name: "Second"}))
	require.NoError(t, projects.Create(ctx, &core.Project{ID: "a", Name: "First", CreatedAt: time.Unix(10, 0).UTC()}))

	err := projects.Create(ctx, &core.Project{ID: "a", Name: "Again"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	assert.ErrorIs(t, projects.Create(ctx, &core.Project{ID: "c"}), core.ErrValidation)

	got, err := projects.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "First", got.Name)

	_, err = projects.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	all, err := projects.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
}

func TestDocumentRepository(t *testing.T) {
	ctx := context.Background()
	docs := newTestStores(t).Documents

	doc := &core.Document{ID: "d1", ProjectID: "p", Filename: "a.txt", Status: core.StatusUploading}
	require.NoError(t, docs.Create(ctx, doc))
	assert.False(t, doc.UploadedAt.IsZero())
	assert.ErrorIs(t, docs.Create(ctx, doc), storage.ErrDuplicateKey)

	doc.Status = core.StatusReady
	doc.ChunkCount = 3
	require.NoError(t, docs.Update(ctx, doc))

	got, err := docs.Get(ctx, "p", "d1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, got.Status)
	assert.Equal(t, 3, got.ChunkCount)

	_, err = docs.Get(ctx, "other", "d1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	missing := &core.Document{ID: "d2", ProjectID: "p", Filename: "b.txt"}
	assert.ErrorIs(t, docs.Update(ctx, missing), storage.ErrNotFound)

	require.NoError(t, docs.Create(ctx, &core.Document{ID: "d0", ProjectID: "p", Filename: "c.md", UploadedAt: time.Unix(1, 0).UTC()}))
	require.NoError(t, docs.Create(ctx, &core.Document{ID: "x", ProjectID: "q", Filename: "c.md"}))

	list, err := docs.List(ctx, "p")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d0", list[0].ID)

	_, err = docs.List(ctx, "")
	assert.ErrorIs(t, err, core.ErrValidation)
}
