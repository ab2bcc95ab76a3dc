package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// ProjectRepository implements storage.ProjectRepository for BadgerDB.
type ProjectRepository struct {
	backend *Backend
}

var _ storage.ProjectRepository = (*ProjectRepository)(nil)

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(backend *Backend) (storage.ProjectRepository, error) {
	return &ProjectRepository{backend: backend}, nil
}

// Create stores a new project.
func (r *ProjectRepository) Create(ctx context.Context, project *core.Project) error {
	if err := core.ValidateProject(project); err != nil {
		return err
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeProjectKey(project.ID)
		existing, err := readProject(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: project %s", storage.ErrDuplicateKey, project.ID)
		}
		if project.CreatedAt.IsZero() {
			project.CreatedAt = time.Now().UTC()
		}
		if err := tx.Set(key, storage.MarshalProject(project)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Get retrieves a project by ID.
func (r *ProjectRepository) Get(ctx context.Context, projectID string) (*core.Project, error) {
	if projectID == "" {
		return nil, core.ErrProjectRequired
	}
	var project *core.Project
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		project, err = readProject(tx, makeProjectKey(projectID))
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if project == nil || project.ID != projectID {
		return nil, storage.ErrNotFound
	}
	return project, nil
}

// List returns every project ordered by creation time.
func (r *ProjectRepository) List(ctx context.Context) ([]*core.Project, error) {
	var projects []*core.Project
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(projectPrefix), func(val []byte) error {
			project, err := storage.UnmarshalProject(val)
			if err != nil {
				return err
			}
			projects = append(projects, project)
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(projects, func(a, b *core.Project) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return projects, nil
}

func readProject(tx *badger.Txn, key []byte) (*core.Project, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var project *core.Project
	err = item.Value(func(val []byte) error {
		var err error
		project, err = storage.UnmarshalProject(val)
		return err
	})
	return project, err
}
