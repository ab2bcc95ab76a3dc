package storage

import (
	"context"
	"io"

	"github.com/poiesic/lattice/core"
)

// Filter scopes a read to one project and, optionally, a set of documents.
// An empty DocIDs searches the whole project.
type Filter struct {
	ProjectID string
	DocIDs    []string
}

// Validate rejects filters without a project.
func (f Filter) Validate() error {
	if f.ProjectID == "" {
		return core.ErrProjectRequired
	}
	return nil
}

// Allows reports whether docID passes the document restriction.
func (f Filter) Allows(docID string) bool {
	if len(f.DocIDs) == 0 {
		return true
	}
	for _, id := range f.DocIDs {
		if id == docID {
			return true
		}
	}
	return false
}

// DocScope addresses everything stored for one document.
type DocScope struct {
	ProjectID string
	DocID     string
}

// Validate rejects scopes missing either identifier.
func (s DocScope) Validate() error {
	if s.ProjectID == "" {
		return core.ErrProjectRequired
	}
	if s.DocID == "" {
		return core.ErrDocumentRequired
	}
	return nil
}

// Filter returns a read filter restricted to this document.
func (s DocScope) Filter() Filter {
	return Filter{ProjectID: s.ProjectID, DocIDs: []string{s.DocID}}
}

// VectorMatch is one similarity hit.
type VectorMatch struct {
	ID    string
	Score float32
}

// GraphWrite carries every graph record produced for one document.
type GraphWrite struct {
	Scope  DocScope
	Chunks []core.ChunkGraph
}

// GraphMatch is one chunk reached from the query seeds.
type GraphMatch struct {
	ChunkID string
	Score   float64
}

// Pinger is implemented by stores that can check their backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DimensionChecker is implemented by vector stores whose existing data or
// schema fixes the vector width. CheckDimension fails with
// core.ErrDimensionMismatch when dimension differs; an empty store accepts
// any width.
type DimensionChecker interface {
	CheckDimension(ctx context.Context, dimension int) error
}

// VectorStore indexes chunk embeddings for similarity search.
// Implementations must be thread-safe and support concurrent access.
type VectorStore interface {
	Pinger

	// Upsert inserts or replaces chunks keyed by chunk ID.
	// Every chunk must carry a project, a document and a vector.
	Upsert(ctx context.Context, chunks ...*core.Chunk) error

	// Search returns up to topK chunk IDs ordered by similarity, highest first.
	// Ties are broken by chunk ID.
	Search(ctx context.Context, vector []float32, filter Filter, topK int) ([]VectorMatch, error)

	// Fetch returns the chunks with the given IDs that belong to projectID.
	// Missing IDs are skipped.
	Fetch(ctx context.Context, projectID string, ids ...string) ([]*core.Chunk, error)

	// Scan returns every chunk matching the filter ordered by document and ordinal.
	Scan(ctx context.Context, filter Filter) ([]*core.Chunk, error)

	// Count returns the number of chunks matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)

	// Delete removes every chunk of the document and returns how many were removed.
	Delete(ctx context.Context, scope DocScope) (int, error)

	Close() error
}

// GraphStore indexes entities and relationships extracted from chunks.
// Implementations must be thread-safe and support concurrent access.
type GraphStore interface {
	Pinger

	// Write stores the entities, mentions and relationships of a document.
	Write(ctx context.Context, write GraphWrite) error

	// Query ranks chunks reachable from the seed entity names, best first.
	// A chunk scores the summed importance of the seeds it mentions plus a
	// discounted share of the importance of entities one relationship away.
	// Ties are broken by chunk ID.
	Query(ctx context.Context, seeds []string, filter Filter, limit int) ([]GraphMatch, error)

	// Delete removes every graph record of the document and returns how many were removed.
	Delete(ctx context.Context, scope DocScope) (int, error)

	Close() error
}

// DocumentRepository persists Document metadata.
type DocumentRepository interface {
	// Create stores a new document. Returns ErrDuplicateKey if it exists.
	Create(ctx context.Context, doc *core.Document) error

	// Get retrieves a document. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, projectID, docID string) (*core.Document, error)

	// Update replaces a stored document and sets UpdatedAt.
	// Returns ErrNotFound if it doesn't exist.
	Update(ctx context.Context, doc *core.Document) error

	// List returns every document of a project ordered by upload time.
	List(ctx context.Context, projectID string) ([]*core.Document, error)
}

// ProjectRepository persists projects.
type ProjectRepository interface {
	// Create stores a new project. Returns ErrDuplicateKey if it exists.
	Create(ctx context.Context, project *core.Project) error

	// Get retrieves a project. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, projectID string) (*core.Project, error)

	// List returns every project ordered by creation time.
	List(ctx context.Context) ([]*core.Project, error)
}

// FileStore keeps the uploaded source files.
type FileStore interface {
	// Save writes the file and returns the path it was stored under.
	Save(ctx context.Context, projectID, docID, filename string, data []byte) (string, error)

	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes path. Deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error

	// Open returns a reader for path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}
