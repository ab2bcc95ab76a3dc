// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// GraphStore implements storage.GraphStore on BadgerDB.
//
// Mentions are keyed by entity so a seed lookup is one prefix scan.
// Relationships are stored in both directions keyed by their first
// endpoint. Each record has a companion key under its document so a
// delete never scans the whole project.
type GraphStore struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.GraphStore = (*GraphStore)(nil)

func newGraphStore(backend *Backend) *GraphStore {
	return &GraphStore{
		backend: backend,
		logger:  slog.Default().With("component", "badger-graph"),
	}
}

// NewGraphStore creates a graph store on the given backend.
func NewGraphStore(backend *Backend) (storage.GraphStore, error) {
	return newGraphStore(backend), nil
}

// Close releases resources. The backend is owned by the caller.
func (g *GraphStore) Close() error {
	return nil
}

// Ping reports whether the backend is usable.
func (g *GraphStore) Ping(ctx context.Context) error {
	return g.backend.Ping(ctx)
}

// Write stores the mentions and relationships of every chunk in w.
func (g *GraphStore) Write(ctx context.Context, w storage.GraphWrite) error {
	if err := w.Scope.Validate(); err != nil {
		return err
	}
	projectID, docID := w.Scope.ProjectID, w.Scope.DocID

	return g.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunk := range w.Chunks {
			for _, entity := range chunk.Entities {
				key := entity.Key()
				if key == "" {
					continue
				}
				mention := &storage.Mention{
					DocID:      docID,
					ChunkID:    chunk.ChunkID,
					Entity:     key,
					Type:       entity.Type,
					Importance: entity.Importance,
				}
				if err := tx.Set(makeMentionKey(projectID, key, chunk.ChunkID), storage.MarshalMention(mention)); err != nil {
					return err
				}
				if err := tx.Set(makeMentionDocKey(projectID, docID, key, chunk.ChunkID), nil); err != nil {
					return err
				}
			}

			for _, rel := range chunk.Relationships {
				source, target := core.EntityKey(rel.Source), core.EntityKey(rel.Target)
				if source == "" || target == "" || source == target {
					continue
				}
				value := storage.MarshalEdge(&storage.Edge{
					DocID:  docID,
					Source: source,
					Target: target,
					Type:   rel.Type,
				})
				if err := tx.Set(makeEdgeKey(projectID, source, target, docID), value); err != nil {
					return err
				}
				if err := tx.Set(makeEdgeKey(projectID, target, source, docID), value); err != nil {
					return err
				}
				if err := tx.Set(makeEdgeDocKey(projectID, docID, source, target), nil); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	}, true)
}

// Query ranks chunks from the seed entities and their direct neighbours.
func (g *GraphStore) Query(ctx context.Context, seeds []string, filter storage.Filter, limit int) ([]storage.GraphMatch, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	seedKeys := storage.SeedKeys(seeds)
	if len(seedKeys) == 0 || limit <= 0 {
		return []storage.GraphMatch{}, nil
	}

	scores := make(map[string]float64)
	err := g.backend.WithTx(func(tx *badger.Txn) error {
		isSeed := make(map[string]bool, len(seedKeys))
		for _, seed := range seedKeys {
			isSeed[seed] = true
		}

		neighbours := make(map[string]bool)
		for _, seed := range seedKeys {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := g.addMentions(tx, filter, seed, false, scores); err != nil {
				return err
			}
			err := scanPrefix(tx, makeKey(edgePrefix, filter.ProjectID, seed), func(val []byte) error {
				edge, err := storage.UnmarshalEdge(val)
				if err != nil {
					return err
				}
				if !filter.Allows(edge.DocID) {
					return nil
				}
				other := edge.Target
				if other == seed {
					other = edge.Source
				}
				if !isSeed[other] {
					neighbours[other] = true
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		for _, neighbour := range slices.Sorted(maps.Keys(neighbours)) {
			if err := g.addMentions(tx, filter, neighbour, true, scores); err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	return storage.RankGraphScores(scores, limit), nil
}

func (g *GraphStore) addMentions(tx *badger.Txn, filter storage.Filter, entity string, hop bool, scores map[string]float64) error {
	return scanPrefix(tx, makeKey(mentionPrefix, filter.ProjectID, entity), func(val []byte) error {
		mention, err := storage.UnmarshalMention(val)
		if err != nil {
			return err
		}
		if mention.Entity != entity || !filter.Allows(mention.DocID) {
			return nil
		}
		scores[mention.ChunkID] += storage.MentionWeight(mention.Importance, hop)
		return nil
	})
}

// Delete removes every mention and relationship of the document.
func (g *GraphStore) Delete(ctx context.Context, scope storage.DocScope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	removed := 0
	err := g.backend.WithTx(func(tx *badger.Txn) error {
		mentionKeys, err := collectKeys(tx, makeKey(mentionDocPrefix, scope.ProjectID, scope.DocID))
		if err != nil {
			return err
		}
		for _, indexKey := range mentionKeys {
			project := keyPart(mentionDocPrefix, indexKey, 0)
			entity := keyPart(mentionDocPrefix, indexKey, 2)
			chunk := keyPart(mentionDocPrefix, indexKey, 3)
			if err := tx.Delete(joinKey(mentionPrefix, project, entity, chunk)); err != nil {
				return err
			}
			if err := tx.Delete(indexKey); err != nil {
				return err
			}
			removed++
		}

		edgeKeys, err := collectKeys(tx, makeKey(edgeDocPrefix, scope.ProjectID, scope.DocID))
		if err != nil {
			return err
		}
		for _, indexKey := range edgeKeys {
			project := keyPart(edgeDocPrefix, indexKey, 0)
			doc := keyPart(edgeDocPrefix, indexKey, 1)
			source := keyPart(edgeDocPrefix, indexKey, 2)
			target := keyPart(edgeDocPrefix, indexKey, 3)
			if err := tx.Delete(joinKey(edgePrefix, project, source, target, doc)); err != nil {
				return err
			}
			if err := tx.Delete(joinKey(edgePrefix, project, target, source, doc)); err != nil {
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
	g.logger.Debug("deleted graph records", "project", scope.ProjectID, "doc", scope.DocID, "count", removed)
	return removed, nil
}

// scanPrefix calls fn with the value of every key under prefix.
func scanPrefix(tx *badger.Txn, prefix []byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := iter.Item().Value(fn); err != nil {
			return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
	}
	return nil
}
