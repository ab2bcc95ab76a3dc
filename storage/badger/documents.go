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

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (storage.DocumentRepository, error) {
	return &DocumentRepository{backend: backend}, nil
}

// Create stores a new document.
func (r *DocumentRepository) Create(ctx context.Context, doc *core.Document) error {
	if err := core.ValidateDocument(doc); err != nil {
		return err
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.ProjectID, doc.ID)
		existing, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: document %s", storage.ErrDuplicateKey, doc.ID)
		}

		if doc.UploadedAt.IsZero() {
			doc.UploadedAt = time.Now().UTC()
		}
		doc.UpdatedAt = doc.UploadedAt
		if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Get retrieves a document by project and ID.
func (r *DocumentRepository) Get(ctx context.Context, projectID, docID string) (*core.Document, error) {
	if projectID == "" {
		return nil, core.ErrProjectRequired
	}
	var doc *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, makeDocumentKey(projectID, docID))
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.ProjectID != projectID {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

// Update replaces an existing document.
func (r *DocumentRepository) Update(ctx context.Context, doc *core.Document) error {
	if err := core.ValidateDocument(doc); err != nil {
		return err
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.ProjectID, doc.ID)
		existing, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			return storage.ErrNotFound
		}
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// List returns every document of the project ordered by upload time.
func (r *DocumentRepository) List(ctx context.Context, projectID string) ([]*core.Document, error) {
	if projectID == "" {
		return nil, core.ErrProjectRequired
	}
	var docs []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeKey(documentPrefix, projectID), func(val []byte) error {
			doc, err := storage.UnmarshalDocument(val)
			if err != nil {
				return err
			}
			if doc.ProjectID == projectID {
				docs = append(docs, doc)
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(docs, func(a, b *core.Document) int {
		if c := a.UploadedAt.Compare(b.UploadedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return docs, nil
}

// readDocument returns nil without error when key is absent.
func readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}
