package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
	"golang.org/x/sync/errgroup"
)

// Retrieval defaults.
const (
	DefaultTopK           = 10
	DefaultCandidateK     = 50
	DefaultEmbeddingCache = 10 * time.Minute
)

// Query is a retrieval request. SourceIDs optionally restricts the search
// to a set of documents of the project.
type Query struct {
	Text      string
	ProjectID string
	SourceIDs []string
	TopK      int
}

// Results holds fused hits. Degraded names the rankings that failed.
type Results struct {
	Hits     []*core.SearchResult
	Degraded []string
}

// Retriever provides hybrid vector and graph search over stored chunks.
type Retriever struct {
	vectors    storage.VectorStore
	graph      storage.GraphStore
	embedder   ai.Embedder
	extractor  ai.EntityExtractor
	rrfK       int
	candidateK int
	topK       int
	embeddings *cache.Cache
	logger     *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithRRFK sets the reciprocal rank fusion constant. Default is 60.
func WithRRFK(k int) Option {
	return func(r *Retriever) error {
		if k < 1 {
			return fmt.Errorf("%w: rrf k must be positive", core.ErrValidation)
		}
		r.rrfK = k
		return nil
	}
}

// WithCandidateK sets how many candidates each ranking contributes.
func WithCandidateK(k int) Option {
	return func(r *Retriever) error {
		if k < 1 {
			return fmt.Errorf("%w: candidate k must be positive", core.ErrValidation)
		}
		r.candidateK = k
		return nil
	}
}

// WithDefaultTopK sets the result count used when a query leaves TopK at zero.
func WithDefaultTopK(k int) Option {
	return func(r *Retriever) error {
		if k < 1 {
			return fmt.Errorf("%w: top k must be positive", core.ErrValidation)
		}
		r.topK = k
		return nil
	}
}

// WithEmbeddingCache sets how long query embeddings are reused.
func WithEmbeddingCache(ttl time.Duration) Option {
	return func(r *Retriever) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: cache ttl must be positive", core.ErrValidation)
		}
		r.embeddings = cache.New(ttl, 2*ttl)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRetriever creates a new retriever.
func NewRetriever(vectors storage.VectorStore, graph storage.GraphStore, provider ai.AIProvider, opts ...Option) (*Retriever, error) {
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if graph == nil {
		return nil, ErrGraphStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	r := &Retriever{
		vectors:    vectors,
		graph:      graph,
		embedder:   provider.Embedder(),
		extractor:  provider.EntityExtractor(),
		rrfK:       DefaultRRFK,
		candidateK: DefaultCandidateK,
		topK:       DefaultTopK,
		embeddings: cache.New(DefaultEmbeddingCache, 2*DefaultEmbeddingCache),
		logger:     slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retriever")

	return r, nil
}

// Search returns the chunks that best match the query.
func (r *Retriever) Search(ctx context.Context, q Query) (*Results, error) {
	return r.SearchWithMonitor(ctx, q, nil)
}

// SearchWithMonitor searches with monitoring.
// The monitor receives callbacks at each stage of the search process.
func (r *Retriever) SearchWithMonitor(ctx context.Context, q Query, monitor SearchMonitor) (*Results, error) {
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, core.ErrEmptyQuery
	}
	if q.ProjectID == "" {
		return nil, core.ErrProjectRequired
	}
	if q.TopK < 0 {
		return nil, fmt.Errorf("%w: top k cannot be negative", core.ErrValidation)
	}
	if q.TopK == 0 {
		q.TopK = r.topK
	}
	filter := storage.Filter{ProjectID: q.ProjectID, DocIDs: q.SourceIDs}

	monitor.Start(q)

	var (
		vectorMatches []storage.VectorMatch
		graphMatches  []storage.GraphMatch
		vectorErr     error
		graphErr      error
		seeds         []string
		fromModel     bool
	)

	// Each branch records its own failure so one can degrade without cancelling the other.
	var g errgroup.Group
	g.Go(func() error {
		vectorMatches, vectorErr = r.searchVectors(ctx, q.Text, filter)
		return nil
	})
	g.Go(func() error {
		seeds, fromModel = r.seeds(ctx, q.Text)
		if len(seeds) == 0 {
			return nil
		}
		graphMatches, graphErr = r.graph.Query(ctx, seeds, filter, r.candidateK)
		return nil
	})
	_ = g.Wait()

	monitor.AfterSeedExtraction(seeds, fromModel)
	monitor.AfterVectorSearch(vectorMatches, vectorErr)
	monitor.AfterGraphSearch(graphMatches, graphErr)

	if vectorErr != nil && graphErr != nil {
		r.logger.Error("both rankings failed", "vector_err", vectorErr, "graph_err", graphErr)
		return nil, fmt.Errorf("%w: %w", ErrAllRankingsFailed, errors.Join(vectorErr, graphErr))
	}

	results := &Results{Hits: []*core.SearchResult{}}
	var rankings []Ranking
	if vectorErr != nil {
		r.logger.Warn("vector ranking failed, using graph only", "err", vectorErr)
		results.Degraded = append(results.Degraded, string(core.SourceVector))
	} else {
		rankings = append(rankings, vectorRanking(vectorMatches))
	}
	if graphErr != nil {
		r.logger.Warn("graph ranking failed, using vector only", "err", graphErr)
		results.Degraded = append(results.Degraded, string(core.SourceGraph))
	} else {
		rankings = append(rankings, graphRanking(graphMatches))
	}

	fused := Fuse(r.rrfK, rankings...)
	monitor.AfterFusion(fused)
	if len(fused) == 0 {
		monitor.Finish(results)
		return results, nil
	}

	hits := r.hydrate(ctx, q, fused)
	partial := len(results.Degraded) > 0
	for _, hit := range hits {
		hit.Provenance.Partial = partial
	}
	results.Hits = hits
	monitor.Finish(results)

	r.logger.Debug("search finished",
		"project", q.ProjectID,
		"vector", len(vectorMatches),
		"graph", len(graphMatches),
		"hits", len(hits),
		"degraded", results.Degraded)
	return results, nil
}

// searchVectors embeds the query, reusing cached embeddings, and searches the vector store.
func (r *Retriever) searchVectors(ctx context.Context, text string, filter storage.Filter) ([]storage.VectorMatch, error) {
	var embedding []float32
	if cached, ok := r.embeddings.Get(text); ok {
		embedding = cached.([]float32)
	} else {
		vector, err := r.embedder.EmbedText(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		embedding = core.NormalizeVector(vector)
		r.embeddings.SetDefault(text, embedding)
	}
	return r.vectors.Search(ctx, embedding, filter, r.candidateK)
}

// seeds returns the entity names to start the graph search from. Query
// terms stand in when the model fails or finds nothing.
func (r *Retriever) seeds(ctx context.Context, text string) ([]string, bool) {
	extraction, err := r.extractor.ExtractEntities(ctx, text)
	if err != nil {
		r.logger.Warn("query entity extraction failed, using query terms", "err", err)
	} else if extraction != nil && len(extraction.Entities) > 0 {
		seeds := make([]string, 0, len(extraction.Entities))
		for _, e := range extraction.Entities {
			seeds = append(seeds, e.Name)
		}
		return storage.SeedKeys(seeds), true
	}
	return storage.SeedKeys(tokenizeAndFilter(text)), false
}

// hydrate loads the top fused chunks from the vector store in fused order.
// Graph hits whose chunk is missing from the vector store are skipped. When
// the vector store cannot be read the hits carry only their identifiers.
func (r *Retriever) hydrate(ctx context.Context, q Query, fused []Fused) []*core.SearchResult {
	ids := make([]string, 0, len(fused))
	for _, f := range fused {
		ids = append(ids, f.ChunkID)
	}
	chunks, err := r.vectors.Fetch(ctx, q.ProjectID, ids...)
	if err != nil {
		r.logger.Warn("loading chunks failed, returning hits without text", "err", err)
		chunks = stubChunks(q.ProjectID, ids)
	}
	byID := make(map[string]*core.Chunk, len(chunks))
	filter := storage.Filter{ProjectID: q.ProjectID, DocIDs: q.SourceIDs}
	for _, chunk := range chunks {
		if chunk.ProjectID == q.ProjectID && filter.Allows(chunk.DocID) {
			byID[chunk.ID] = chunk
		}
	}

	hits := make([]*core.SearchResult, 0, min(len(fused), q.TopK))
	for _, f := range fused {
		chunk, ok := byID[f.ChunkID]
		if !ok {
			r.logger.Debug("fused chunk missing from vector store", "chunk", f.ChunkID)
			continue
		}
		hits = append(hits, &core.SearchResult{
			Chunk:      chunk,
			Score:      f.Score,
			Provenance: f.provenance(false),
		})
		if len(hits) == q.TopK {
			break
		}
	}
	return hits
}

func vectorRanking(matches []storage.VectorMatch) Ranking {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return Ranking{Source: core.SourceVector, IDs: ids}
}

func graphRanking(matches []storage.GraphMatch) Ranking {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
	}
	return Ranking{Source: core.SourceGraph, IDs: ids}
}

// stubChunks builds text-less chunks from their IDs.
func stubChunks(projectID string, ids []string) []*core.Chunk {
	chunks := make([]*core.Chunk, 0, len(ids))
	for _, id := range ids {
		docID, ordinal, ok := core.SplitChunkID(id)
		if !ok {
			continue
		}
		chunks = append(chunks, &core.Chunk{ID: id, DocID: docID, ProjectID: projectID, Ordinal: ordinal})
	}
	return chunks
}
