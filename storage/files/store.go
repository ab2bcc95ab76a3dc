// Package files implements storage.FileStore on the local filesystem.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// ErrOutsideRoot is returned for paths that escape the store root.
var ErrOutsideRoot = fmt.Errorf("%w: path outside file store", core.ErrValidation)

// Store keeps files under Root/<project>/<document>/<filename>.
type Store struct {
	root   string
	logger *slog.Logger
}

var _ storage.FileStore = (*Store)(nil)

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		root:   abs,
		logger: slog.Default().With("component", "file-store"),
	}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Save writes data atomically by renaming a temporary file into place.
func (s *Store) Save(ctx context.Context, projectID, docID, filename string, data []byte) (string, error) {
	for _, part := range []string{projectID, docID} {
		if part == "" || part != filepath.Base(part) || strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("%w: %q", ErrOutsideRoot, part)
		}
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: filename %q", core.ErrValidation, filename)
	}

	dir := filepath.Join(s.root, projectID, docID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	s.logger.Debug("saved file", "path", path, "bytes", len(data))
	return path, nil
}

// Exists reports whether path is present.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := s.inside(path); err != nil {
		return false, err
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Delete removes path and its document directory when it becomes empty.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.inside(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	// Only succeeds when empty.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// Open returns a reader for path.
func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := s.inside(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	return f, err
}

func (s *Store) inside(path string) error {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %q", ErrOutsideRoot, path)
	}
	return nil
}
