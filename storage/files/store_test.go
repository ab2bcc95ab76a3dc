package files

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveOpenDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	path, err := store.Save(ctx, "p", "d", "../../notes.md", []byte("# hi"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "p", "d", "notes.md"), path)

	ok, err := store.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := store.Open(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.Equal(t, "# hi", string(data))

	require.NoError(t, store.Delete(ctx, path))
	ok, err = store.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err))

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, path))

	_, err = store.Open(ctx, path)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRejectsPathsOutsideRoot(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(ctx, "..", "d", "a.txt", []byte("x"))
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = store.Save(ctx, "p/q", "d", "a.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrOutsideRoot)

	assert.ErrorIs(t, store.Delete(ctx, "/etc/passwd"), ErrOutsideRoot)
	_, err = store.Exists(ctx, filepath.Join(store.Root(), "..", "x"))
	assert.ErrorIs(t, err, ErrOutsideRoot)
}
