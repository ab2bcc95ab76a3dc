package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "db")
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_PathIsFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0o644))

	_, err := OpenBackend(tmpFile, false)
	assert.Error(t, err)
}

func TestBackendPingAfterClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Ping(context.Background()))
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
	assert.ErrorIs(t, backend.Ping(context.Background()), storage.ErrStorageClosed)
}

func TestKeyParts(t *testing.T) {
	key := makeChunkDocKey("p", "d", "c")
	assert.Equal(t, makeChunkKey("p", "c"), joinKey(chunkPrefix,
		keyPart(chunkDocPrefix, key, 0),
		keyPart(chunkDocPrefix, key, 2)))
	assert.Equal(t, makeKey(chunkDocPrefix, "p", "d"), key[:len(chunkDocPrefix)+2*idWidth])
}

func TestDotProduct(t *testing.T) {
	sum, err := dotProduct([]float32{1, 2}, []float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 11.0, sum, 1e-6)

	_, err = dotProduct([]float32{1, 2, 5}, []float32{3})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}
