// Package sqlite implements storage.GraphStore on an embedded SQLite
// database using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	_ "modernc.org/sqlite"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS mentions (
	project_id TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	chunk_id TEXT NOT NULL,
	entity TEXT NOT NULL,
	type TEXT NOT NULL,
	importance INTEGER NOT NULL,
	PRIMARY KEY (project_id, entity, chunk_id)
);
CREATE INDEX IF NOT EXISTS mentions_doc_idx ON mentions (project_id, doc_id);
CREATE TABLE IF NOT EXISTS edges (
	project_id TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	type TEXT NOT NULL,
	PRIMARY KEY (project_id, doc_id, source, target)
);
CREATE INDEX IF NOT EXISTS edges_source_idx ON edges (project_id, source);
CREATE INDEX IF NOT EXISTS edges_target_idx ON edges (project_id, target);
`

// GraphStore keeps mentions and relationships in two tables.
type GraphStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.GraphStore = (*GraphStore)(nil)

// Open opens or creates the database at path. Use MemoryPath for tests.
func Open(path string) (*GraphStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create graph schema: %w", err)
	}
	return &GraphStore{
		db:     db,
		logger: slog.Default().With("component", "sqlite-graph"),
	}, nil
}

// WithTx commits on nil error and rolls back otherwise.
func (g *GraphStore) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Ping checks the database.
func (g *GraphStore) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// Close closes the database.
func (g *GraphStore) Close() error {
	return g.db.Close()
}

// Write stores the mentions and relationships of every chunk in w.
func (g *GraphStore) Write(ctx context.Context, w storage.GraphWrite) error {
	if err := w.Scope.Validate(); err != nil {
		return err
	}
	return g.WithTx(ctx, func(tx *sql.Tx) error {
		for _, chunk := range w.Chunks {
			for _, entity := range chunk.Entities {
				key := entity.Key()
				if key == "" {
					continue
				}
				_, err := tx.ExecContext(ctx,
					`INSERT OR REPLACE INTO mentions (project_id, doc_id, chunk_id, entity, type, importance)
					 VALUES (?, ?, ?, ?, ?, ?)`,
					w.Scope.ProjectID, w.Scope.DocID, chunk.ChunkID, key, entity.Type, entity.Importance)
				if err != nil {
					return err
				}
			}
			for _, rel := range chunk.Relationships {
				source, target := core.EntityKey(rel.Source), core.EntityKey(rel.Target)
				if source == "" || target == "" || source == target {
					continue
				}
				_, err := tx.ExecContext(ctx,
					`INSERT OR REPLACE INTO edges (project_id, doc_id, source, target, type)
					 VALUES (?, ?, ?, ?, ?)`,
					w.Scope.ProjectID, w.Scope.DocID, source, target, rel.Type)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
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

	isSeed := make(map[string]bool, len(seedKeys))
	for _, seed := range seedKeys {
		isSeed[seed] = true
	}

	scores := make(map[string]float64)
	neighbours := make(map[string]bool)
	for _, seed := range seedKeys {
		if err := g.addMentions(ctx, filter, seed, false, scores); err != nil {
			return nil, err
		}
		rows, err := g.db.QueryContext(ctx,
			`SELECT doc_id, source, target FROM edges
			 WHERE project_id = ? AND (source = ? OR target = ?)`,
			filter.ProjectID, seed, seed)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var docID, source, target string
			if err := rows.Scan(&docID, &source, &target); err != nil {
				rows.Close()
				return nil, err
			}
			if !filter.Allows(docID) {
				continue
			}
			other := target
			if other == seed {
				other = source
			}
			if !isSeed[other] {
				neighbours[other] = true
			}
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	}

	others := make([]string, 0, len(neighbours))
	for n := range neighbours {
		others = append(others, n)
	}
	slices.Sort(others)
	for _, n := range others {
		if err := g.addMentions(ctx, filter, n, true, scores); err != nil {
			return nil, err
		}
	}
	return storage.RankGraphScores(scores, limit), nil
}

func (g *GraphStore) addMentions(ctx context.Context, filter storage.Filter, entity string, hop bool, scores map[string]float64) error {
	rows, err := g.db.QueryContext(ctx,
		`SELECT doc_id, chunk_id, importance FROM mentions WHERE project_id = ? AND entity = ?`,
		filter.ProjectID, entity)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			docID, chunkID string
			importance     int
		)
		if err := rows.Scan(&docID, &chunkID, &importance); err != nil {
			return err
		}
		if filter.Allows(docID) {
			scores[chunkID] += storage.MentionWeight(importance, hop)
		}
	}
	return rows.Err()
}

// Delete removes every mention and relationship of the document.
func (g *GraphStore) Delete(ctx context.Context, scope storage.DocScope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	var removed int64
	err := g.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"mentions", "edges"} {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE project_id = ? AND doc_id = ?`,
				scope.ProjectID, scope.DocID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	g.logger.Debug("deleted graph records", "project", scope.ProjectID, "doc", scope.DocID, "count", removed)
	return int(removed), nil
}
