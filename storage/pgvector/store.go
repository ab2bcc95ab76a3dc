// Package pgvector implements storage.VectorStore on PostgreSQL with the
// pgvector extension.
//
// A Store owns exactly one connection and is not safe for concurrent use.
// Callers share Stores through a resilience.Pool, which hands each Store to
// one caller at a time and replaces it when its connection goes bad.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "lattice_chunks"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ErrInvalidConfig wraps configuration failures.
var ErrInvalidConfig = fmt.Errorf("%w: invalid pgvector configuration", core.ErrValidation)

// Config describes how to reach the database and the table layout.
type Config struct {
	DSN       string
	Table     string
	Dimension int
}

func (c *Config) validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidConfig)
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if !tableName.MatchString(c.Table) {
		return fmt.Errorf("%w: table name %q", ErrInvalidConfig, c.Table)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Store is a single-connection vector store.
type Store struct {
	conn      *pgx.Conn
	table     string
	dimension int
	logger    *slog.Logger
}

var (
	_ storage.VectorStore      = (*Store)(nil)
	_ storage.DimensionChecker = (*Store)(nil)
)

// Connect opens a connection and makes sure the schema exists.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	s := &Store{
		conn:      conn,
		table:     cfg.Table,
		dimension: cfg.Dimension,
		logger:    slog.Default().With("component", "pgvector"),
	}
	if err := s.migrate(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			project_id TEXT NOT NULL,
			id TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (project_id, id)
		)`, s.table, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_scope_idx ON %s (project_id, doc_id)`, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	// CREATE TABLE IF NOT EXISTS keeps an existing table as it is, so the
	// column width has to be compared explicitly.
	return s.CheckDimension(ctx, s.dimension)
}

// CheckDimension compares dimension with the declared width of the
// embedding column. pgvector stores the width as the column's type modifier.
func (s *Store) CheckDimension(ctx context.Context, dimension int) error {
	var typmod int32
	err := s.conn.QueryRow(ctx, `SELECT atttypmod FROM pg_attribute
		WHERE attrelid = $1::text::regclass AND attname = 'embedding' AND NOT attisdropped`,
		s.table).Scan(&typmod)
	if err != nil {
		return fmt.Errorf("read embedding width of %s: %w", s.table, err)
	}
	if typmod > 0 && int(typmod) != dimension {
		return fmt.Errorf("%w: table %s stores %d dimensions, configured %d",
			core.ErrDimensionMismatch, s.table, typmod, dimension)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.conn.Close(context.Background())
}

// Upsert inserts or replaces chunks in one batch.
func (s *Store) Upsert(ctx context.Context, chunks ...*core.Chunk) error {
	batch := &pgx.Batch{}
	query := fmt.Sprintf(`INSERT INTO %s (project_id, id, doc_id, ordinal, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, id) DO UPDATE
		SET doc_id = EXCLUDED.doc_id, ordinal = EXCLUDED.ordinal,
		    text = EXCLUDED.text, embedding = EXCLUDED.embedding`, s.table)
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
		if len(chunk.Vector) != s.dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, table expects %d",
				core.ErrDimensionMismatch, chunk.ID, len(chunk.Vector), s.dimension)
		}
		batch.Queue(query, chunk.ProjectID, chunk.ID, chunk.DocID, chunk.Ordinal, chunk.Text, pgvector.NewVector(chunk.Vector))
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.conn.SendBatch(ctx, batch).Close()
}

// Search orders by cosine distance. Scores are cosine similarities.
func (s *Store) Search(ctx context.Context, vector []float32, filter storage.Filter, topK int) ([]storage.VectorMatch, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []storage.VectorMatch{}, nil
	}
	query := fmt.Sprintf(`SELECT id, 1 - (embedding <=> $1) AS score FROM %s
		WHERE project_id = $2 AND ($3::text[] IS NULL OR doc_id = ANY($3))
		ORDER BY embedding <=> $1, id
		LIMIT $4`, s.table)
	rows, err := s.conn.Query(ctx, query, pgvector.NewVector(vector), filter.ProjectID, docIDs(filter), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []storage.VectorMatch
	for rows.Next() {
		var (
			id    string
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		matches = append(matches, storage.VectorMatch{ID: id, Score: float32(score)})
	}
	return matches, rows.Err()
}

// Fetch returns chunks by ID within one project.
func (s *Store) Fetch(ctx context.Context, projectID string, ids ...string) ([]*core.Chunk, error) {
	if projectID == "" {
		return nil, core.ErrProjectRequired
	}
	if len(ids) == 0 {
		return []*core.Chunk{}, nil
	}
	query := fmt.Sprintf(`SELECT id, project_id, doc_id, ordinal, text, embedding::text FROM %s
		WHERE project_id = $1 AND id = ANY($2)`, s.table)
	return s.queryChunks(ctx, query, projectID, ids)
}

// Scan returns every chunk matching filter ordered by document and ordinal.
func (s *Store) Scan(ctx context.Context, filter storage.Filter) ([]*core.Chunk, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, project_id, doc_id, ordinal, text, embedding::text FROM %s
		WHERE project_id = $1 AND ($2::text[] IS NULL OR doc_id = ANY($2))
		ORDER BY doc_id, ordinal`, s.table)
	return s.queryChunks(ctx, query, filter.ProjectID, docIDs(filter))
}

func (s *Store) queryChunks(ctx context.Context, query string, args ...any) ([]*core.Chunk, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		var (
			chunk     core.Chunk
			embedding string
			vector    pgvector.Vector
		)
		if err := rows.Scan(&chunk.ID, &chunk.ProjectID, &chunk.DocID, &chunk.Ordinal, &chunk.Text, &embedding); err != nil {
			return nil, err
		}
		if err := vector.Scan(embedding); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		chunk.Vector = vector.Slice()
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// Count returns the number of chunks matching filter.
func (s *Store) Count(ctx context.Context, filter storage.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT count(*) FROM %s
		WHERE project_id = $1 AND ($2::text[] IS NULL OR doc_id = ANY($2))`, s.table)
	var count int64
	err := s.conn.QueryRow(ctx, query, filter.ProjectID, docIDs(filter)).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return int(count), err
}

// Delete removes every chunk of the document.
func (s *Store) Delete(ctx context.Context, scope storage.DocScope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	tag, err := s.conn.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE project_id = $1 AND doc_id = $2`, s.table),
		scope.ProjectID, scope.DocID)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("deleted chunks", "project", scope.ProjectID, "doc", scope.DocID, "count", tag.RowsAffected())
	return int(tag.RowsAffected()), nil
}

// docIDs returns nil for an unrestricted filter so the query sees NULL.
func docIDs(filter storage.Filter) []string {
	if len(filter.DocIDs) == 0 {
		return nil
	}
	return filter.DocIDs
}
