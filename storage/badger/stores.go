package badger

import (
	"github.com/poiesic/lattice/storage"
)

// Stores bundles every BadgerDB-backed store sharing one backend.
type Stores struct {
	Backend   *Backend
	Vectors   storage.VectorStore
	Graph     storage.GraphStore
	Documents storage.DocumentRepository
	Projects  storage.ProjectRepository
}

// OpenStores opens a backend and builds every store on it.
func OpenStores(path string, inMemory bool) (*Stores, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	documents, _ := NewDocumentRepository(backend)
	projects, _ := NewProjectRepository(backend)
	return &Stores{
		Backend:   backend,
		Vectors:   newVectorStore(backend),
		Graph:     newGraphStore(backend),
		Documents: documents,
		Projects:  projects,
	}, nil
}

// Close closes the shared backend.
func (s *Stores) Close() error {
	return s.Backend.Close()
}
