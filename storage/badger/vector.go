package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// VectorStore implements storage.VectorStore with a brute-force scan over
// the chunks of one project. Vectors are expected to be unit length so the
// dot product equals cosine similarity.
type VectorStore struct {
	backend *Backend
	logger  *slog.Logger
}

var (
	_ storage.VectorStore      = (*VectorStore)(nil)
	_ storage.DimensionChecker = (*VectorStore)(nil)
)

func newVectorStore(backend *Backend) *VectorStore {
	return &VectorStore{
		backend: backend,
		logger:  slog.Default().With("component", "badger-vectors"),
	}
}

// NewVectorStore creates a vector store on the given backend.
func NewVectorStore(backend *Backend) (storage.VectorStore, error) {
	return newVectorStore(backend), nil
}

// Close releases resources. The backend is owned by the caller.
func (s *VectorStore) Close() error {
	return nil
}

// Ping reports whether the backend is usable.
func (s *VectorStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Upsert stores chunks and their document index entries.
func (s *VectorStore) Upsert(ctx context.Context, chunks ...*core.Chunk) error {
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
	}
	return s.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			if err := tx.Set(makeChunkKey(chunk.ProjectID, chunk.ID), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
			if err := tx.Set(makeChunkDocKey(chunk.ProjectID, chunk.DocID, chunk.ID), nil); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Search ranks the chunks matching filter by similarity to vector.
func (s *VectorStore) Search(ctx context.Context, vector []float32, filter storage.Filter, topK int) ([]storage.VectorMatch, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []storage.VectorMatch{}, nil
	}

	var matches []storage.VectorMatch
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return forEachChunk(ctx, tx, filter, func(chunk *core.Chunk) error {
			if len(chunk.Vector) == 0 {
				return nil
			}
			score, err := dotProduct(vector, chunk.Vector)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", chunk.ID, err)
			}
			matches = append(matches, storage.VectorMatch{ID: chunk.ID, Score: score})
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// CheckDimension compares dimension with the first stored vector of any
// project. Every chunk is written by the same embedder, so one sample is
// enough.
func (s *VectorStore) CheckDimension(ctx context.Context, dimension int) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
			}
			if len(chunk.Vector) == 0 {
				continue
			}
			if len(chunk.Vector) != dimension {
				return fmt.Errorf("%w: stored vectors have %d dimensions, configured %d",
					core.ErrDimensionMismatch, len(chunk.Vector), dimension)
			}
			return nil
		}
		return nil
	}, false)
}

// sortMatches orders matches by score descending, then by ID.
func sortMatches(matches []storage.VectorMatch) {
	slices.SortFunc(matches, func(a, b storage.VectorMatch) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Fetch returns the chunks with the given IDs from one project.
func (s *VectorStore) Fetch(ctx context.Context, projectID string, ids ...string) ([]*core.Chunk, error) {
	if projectID == "" {
		return nil, core.ErrProjectRequired
	}
	chunks := make([]*core.Chunk, 0, len(ids))
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := readChunk(tx, makeChunkKey(projectID, id))
			if err != nil {
				return err
			}
			if chunk == nil || chunk.ProjectID != projectID {
				continue
			}
			chunks = append(chunks, chunk)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// Scan returns the chunks matching filter ordered by document and ordinal.
func (s *VectorStore) Scan(ctx context.Context, filter storage.Filter) ([]*core.Chunk, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	var chunks []*core.Chunk
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return forEachChunk(ctx, tx, filter, func(chunk *core.Chunk) error {
			chunks = append(chunks, chunk)
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(chunks, func(a, b *core.Chunk) int {
		if c := cmp.Compare(a.DocID, b.DocID); c != 0 {
			return c
		}
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
	return chunks, nil
}

// Count returns the number of chunks matching filter.
func (s *VectorStore) Count(ctx context.Context, filter storage.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return forEachChunk(ctx, tx, filter, func(*core.Chunk) error {
			count++
			return nil
		})
	}, false)
	return count, err
}

// Delete removes every chunk of the document.
func (s *VectorStore) Delete(ctx context.Context, scope storage.DocScope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		indexKeys, err := collectKeys(tx, makeKey(chunkDocPrefix, scope.ProjectID, scope.DocID))
		if err != nil {
			return err
		}
		for _, indexKey := range indexKeys {
			chunkKey := joinKey(chunkPrefix,
				keyPart(chunkDocPrefix, indexKey, 0),
				keyPart(chunkDocPrefix, indexKey, 2))
			if err := tx.Delete(chunkKey); err != nil {
				return err
			}
			if err := tx.Delete(indexKey); err != nil {
				return err
			}
			removed++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("deleted chunks", "project", scope.ProjectID, "doc", scope.DocID, "count", removed)
	return removed, nil
}

// forEachChunk visits the chunks matching filter. Without a document
// restriction it walks the whole project; otherwise it walks the document
// index of each requested document.
func forEachChunk(ctx context.Context, tx *badger.Txn, filter storage.Filter, fn func(*core.Chunk) error) error {
	visit := func(chunk *core.Chunk) error {
		if chunk == nil || chunk.ProjectID != filter.ProjectID || !filter.Allows(chunk.DocID) {
			return nil
		}
		return fn(chunk)
	}

	if len(filter.DocIDs) == 0 {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeKey(chunkPrefix, filter.ProjectID)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
			}
			if err := visit(chunk); err != nil {
				return err
			}
		}
		return nil
	}

	for _, docID := range filter.DocIDs {
		indexKeys, err := collectKeys(tx, makeKey(chunkDocPrefix, filter.ProjectID, docID))
		if err != nil {
			return err
		}
		for _, indexKey := range indexKeys {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk, err := readChunk(tx, joinKey(chunkPrefix,
				keyPart(chunkDocPrefix, indexKey, 0),
				keyPart(chunkDocPrefix, indexKey, 2)))
			if err != nil {
				return err
			}
			if err := visit(chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectKeys returns copies of every key under prefix.
func collectKeys(tx *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	return keys, nil
}

// readChunk returns nil without error when key is absent.
func readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return chunk, nil
}
