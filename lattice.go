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

// Package lattice wires the stores, resilience primitives, ingestion
// pipeline and retriever into one Engine.
package lattice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/ai/openai"
	"github.com/poiesic/lattice/config"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/guard"
	"github.com/poiesic/lattice/ingestion"
	"github.com/poiesic/lattice/reindex"
	"github.com/poiesic/lattice/resilience"
	"github.com/poiesic/lattice/search"
	"github.com/poiesic/lattice/storage"
	"github.com/poiesic/lattice/storage/badger"
	"github.com/poiesic/lattice/storage/files"
	"github.com/poiesic/lattice/storage/pgvector"
	"github.com/poiesic/lattice/storage/sqlite"
)

// Engine owns every store and service of one lattice deployment.
type Engine struct {
	config    *config.Config
	badger    *badger.Stores
	sqlite    *sqlite.GraphStore
	vectors   *guard.VectorStore
	graph     *guard.GraphStore
	documents storage.DocumentRepository
	projects  storage.ProjectRepository
	files     storage.FileStore
	provider  *guard.Provider
	breakers  []*resilience.Breaker
	limiter   *resilience.Limiter
	pipeline  *ingestion.Pipeline
	retriever *search.Retriever
	deleter   *ingestion.Deleter
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	provider ai.AIProvider
	logger   *slog.Logger
}

// WithProvider replaces the OpenAI-compatible provider built from the AI
// config. The engine takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New validates cfg and opens the engine. Everything opened before a
// failure is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Engine, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	e := &Engine{config: cfg, logger: options.logger.With("component", "engine")}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	if e.badger, err = badger.OpenStores(cfg.Storage.DataDir, cfg.Storage.InMemory); err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	e.documents = e.badger.Documents
	e.projects = e.badger.Projects
	if e.files, err = files.NewStore(cfg.Storage.FilesPath()); err != nil {
		return nil, fmt.Errorf("opening file store: %w", err)
	}

	newBreaker := func(name string) (*resilience.Breaker, error) {
		b, err := resilience.NewBreaker(name, cfg.Breaker.Threshold, cfg.Breaker.Cooldown,
			resilience.WithBreakerLogger(options.logger))
		if err != nil {
			return nil, err
		}
		e.breakers = append(e.breakers, b)
		return b, nil
	}
	settings := guard.PoolSettings{
		MaxSize:        cfg.Pool.MaxSize,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		MaxLifetime:    cfg.Pool.MaxLifetime,
		Logger:         options.logger,
	}
	guardOpts := []guard.Option{guard.WithLogger(options.logger)}

	vectorBreaker, err := newBreaker(guard.DependencyVector)
	if err != nil {
		return nil, err
	}
	vectorPool, err := e.vectorPool(settings)
	if err != nil {
		return nil, err
	}
	if err = e.checkDimension(ctx, vectorPool); err != nil {
		vectorPool.Close()
		return nil, err
	}
	if e.vectors, err = guard.NewVectorStore(vectorPool, vectorBreaker, guardOpts...); err != nil {
		return nil, err
	}

	graphBreaker, err := newBreaker(guard.DependencyGraph)
	if err != nil {
		return nil, err
	}
	graphPool, err := e.graphPool(settings)
	if err != nil {
		return nil, err
	}
	if e.graph, err = guard.NewGraphStore(graphPool, graphBreaker, guardOpts...); err != nil {
		return nil, err
	}

	llmBreaker, err := newBreaker(guard.DependencyLLM)
	if err != nil {
		return nil, err
	}
	embedderBreaker, err := newBreaker(guard.DependencyEmbedder)
	if err != nil {
		return nil, err
	}
	provider := options.provider
	if provider == nil {
		if provider, err = openai.NewProvider(&cfg.AI); err != nil {
			return nil, fmt.Errorf("creating AI provider: %w", err)
		}
	}
	if e.provider, err = guard.NewProvider(provider, llmBreaker, embedderBreaker, guardOpts...); err != nil {
		provider.Close()
		return nil, err
	}

	if cfg.RateLimit.Enabled {
		e.limiter, err = resilience.NewLimiter(
			resilience.BucketConfig{Capacity: cfg.RateLimit.PerClient.Capacity, RefillRate: cfg.RateLimit.PerClient.RefillRate},
			resilience.WithGlobalBucket(resilience.BucketConfig{Capacity: cfg.RateLimit.Global.Capacity, RefillRate: cfg.RateLimit.Global.RefillRate}),
			resilience.WithLimiterLogger(options.logger),
		)
		if err != nil {
			return nil, err
		}
	}

	stores := ingestion.Stores{
		Vectors:   e.vectors,
		Graph:     e.graph,
		Documents: e.documents,
		Projects:  e.projects,
		Files:     e.files,
	}
	ic := cfg.Ingestion
	e.pipeline, err = ingestion.NewPipeline(stores, e.provider,
		ingestion.WithWorkers(ic.Workers),
		ingestion.WithBriefingWorkers(ic.BriefingWorkers),
		ingestion.WithQueueSize(ic.QueueSize),
		ingestion.WithChunking(ic.ChunkSize, ic.ChunkOverlap),
		ingestion.WithDimension(cfg.AI.Dimension),
		ingestion.WithEmbedBatchSize(ic.EmbedBatchSize),
		ingestion.WithExtractConcurrency(ic.ExtractConcurrency),
		ingestion.WithBriefingBudget(ic.BriefingBudget),
		ingestion.WithTaskRetention(ic.TaskRetention),
		ingestion.WithLogger(options.logger),
	)
	if err != nil {
		return nil, err
	}
	e.deleter = e.pipeline.Deleter()

	rc := cfg.Retrieval
	e.retriever, err = search.NewRetriever(e.vectors, e.graph, e.provider,
		search.WithRRFK(rc.RRFK),
		search.WithCandidateK(rc.CandidateK),
		search.WithDefaultTopK(rc.TopK),
		search.WithEmbeddingCache(rc.EmbeddingCacheTTL),
		search.WithLogger(options.logger),
	)
	if err != nil {
		return nil, err
	}

	e.logger.Info("engine ready",
		"vector_backend", cfg.Storage.VectorBackend,
		"graph_backend", cfg.Storage.GraphBackend,
		"workers", ic.Workers)
	return e, nil
}

func (e *Engine) vectorPool(settings guard.PoolSettings) (*resilience.Pool[storage.VectorStore], error) {
	if e.config.Storage.VectorBackend != config.BackendPgvector {
		return guard.NewSharedPool(guard.DependencyVector, e.badger.Vectors, settings)
	}
	pgConfig := pgvector.Config{
		DSN:       e.config.Storage.PostgresDSN,
		Table:     e.config.Storage.PostgresTable,
		Dimension: e.config.AI.Dimension,
	}
	return guard.NewDedicatedPool(guard.DependencyVector, func(ctx context.Context) (storage.VectorStore, error) {
		store, err := pgvector.Connect(ctx, pgConfig)
		if err != nil {
			return nil, err
		}
		return store, nil
	}, settings)
}

// checkDimension refuses to start on a vector store written with a
// different embedding width. An unreachable store is only logged so the
// engine can start and report it through Health.
func (e *Engine) checkDimension(ctx context.Context, pool *resilience.Pool[storage.VectorStore]) error {
	err := pool.With(ctx, func(store storage.VectorStore) error {
		checker, ok := store.(storage.DimensionChecker)
		if !ok {
			return nil
		}
		return checker.CheckDimension(ctx, e.config.AI.Dimension)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrDimensionMismatch):
		return fmt.Errorf("vector store: %w", err)
	default:
		e.logger.Warn("vector store unavailable at startup", "err", err)
		return nil
	}
}

func (e *Engine) graphPool(settings guard.PoolSettings) (*resilience.Pool[storage.GraphStore], error) {
	if e.config.Storage.GraphBackend != config.BackendSQLite {
		return guard.NewSharedPool(guard.DependencyGraph, e.badger.Graph, settings)
	}
	path := e.config.Storage.GraphPath()
	if e.config.Storage.InMemory && e.config.Storage.SQLitePath == "" {
		path = sqlite.MemoryPath
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite graph: %w", err)
	}
	e.sqlite = store
	return guard.NewSharedPool[storage.GraphStore](guard.DependencyGraph, store, settings)
}

// Close stops ingestion and closes every store. Safe on a partly opened engine.
func (e *Engine) Close() error {
	if e.pipeline != nil {
		e.pipeline.Release()
	}
	var errs []error
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if e.vectors != nil {
		e.vectors.Close()
	}
	if e.graph != nil {
		e.graph.Close()
	}
	if e.sqlite != nil {
		if err := e.sqlite.Close(); err != nil {
			e.logger.Error("error closing sqlite graph", "err", err)
			errs = append(errs, err)
		}
	}
	if e.badger != nil {
		if err := e.badger.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the validated configuration.
func (e *Engine) Config() *config.Config {
	return e.config
}

// Pipeline returns the ingestion pipeline.
func (e *Engine) Pipeline() *ingestion.Pipeline {
	return e.pipeline
}

// Retriever returns the hybrid retriever.
func (e *Engine) Retriever() *search.Retriever {
	return e.retriever
}

// Limiter returns the API rate limiter, nil when rate limiting is disabled.
func (e *Engine) Limiter() *resilience.Limiter { return e.limiter }

// CreateProject stores a new project under a generated ID.
func (e *Engine) CreateProject(ctx context.Context, name string) (*core.Project, error) {
	project := &core.Project{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	if err := core.ValidateProject(project); err != nil {
		return nil, err
	}
	if err := e.projects.Create(ctx, project); err != nil {
		return nil, err
	}
	e.logger.Info("project created", "project", project.ID, "name", project.Name)
	return project, nil
}

// Project returns one project.
func (e *Engine) Project(ctx context.Context, projectID string) (*core.Project, error) {
	if projectID == "" {
		return nil, core.ErrProjectRequired
	}
	return e.projects.Get(ctx, projectID)
}

// Projects lists every project.
func (e *Engine) Projects(ctx context.Context) ([]*core.Project, error) {
	return e.projects.List(ctx)
}

// Document returns one document of a project, tombstones included.
func (e *Engine) Document(ctx context.Context, projectID, docID string) (*core.Document, error) {
	if err := (storage.DocScope{ProjectID: projectID, DocID: docID}).Validate(); err != nil {
		return nil, err
	}
	return e.documents.Get(ctx, projectID, docID)
}

// ListDocuments lists the documents of a project, tombstones included.
func (e *Engine) ListDocuments(ctx context.Context, projectID string) ([]*core.Document, error) {
	if projectID == "" {
		return nil, core.ErrProjectRequired
	}
	if _, err := e.projects.Get(ctx, projectID); err != nil {
		return nil, err
	}
	return e.documents.List(ctx, projectID)
}

// Ingest queues an upload for background processing.
func (e *Engine) Ingest(ctx context.Context, projectID, filename string, data []byte) (*ingestion.Task, error) {
	return e.pipeline.Ingest(ctx, data, filename, projectID)
}

// Status reports the progress of an ingestion task.
func (e *Engine) Status(taskID string) (ingestion.TaskStatus, error) {
	return e.pipeline.Status(taskID)
}

// Cancel stops an ingestion task.
func (e *Engine) Cancel(taskID string) error {
	return e.pipeline.Cancel(taskID)
}

// Search runs a hybrid query.
func (e *Engine) Search(ctx context.Context, q search.Query) (*search.Results, error) {
	return e.retriever.Search(ctx, q)
}

// Delete removes a document from every store.
func (e *Engine) Delete(ctx context.Context, projectID, docID string) (*ingestion.DeleteResult, error) {
	return e.deleter.Delete(ctx, projectID, docID)
}

// Reindex re-embeds the chunks of a project through the guarded embedder.
func (e *Engine) Reindex(ctx context.Context, projectID string, progress io.Writer) (*reindex.Report, error) {
	if _, err := e.Project(ctx, projectID); err != nil {
		return nil, err
	}
	r, err := reindex.NewReindexer(e.vectors, e.provider.Embedder(), &reindex.Config{
		BatchSize:      e.config.Ingestion.EmbedBatchSize,
		Concurrency:    max(e.config.Ingestion.Workers, 1),
		ReportInterval: e.config.Ingestion.EmbedBatchSize * 4,
		Dimension:      e.config.AI.Dimension,
	}, progress, e.logger)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, projectID)
}

// Health is a snapshot of every breaker and pool.
type Health struct {
	Healthy  bool
	Breakers []resilience.BreakerState
	Pools    []resilience.PoolStats
}

// Health reports breaker states and pool usage. The engine is healthy when
// no breaker is open.
func (e *Engine) Health() Health {
	h := Health{Healthy: true}
	for _, b := range e.breakers {
		state := b.State()
		if state.State == resilience.StateOpen {
			h.Healthy = false
		}
		h.Breakers = append(h.Breakers, state)
	}
	h.Pools = append(h.Pools, e.vectors.Pool().Stats(), e.graph.Pool().Stats())
	return h
}
