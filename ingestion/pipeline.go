package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/storage"
)

// Pipeline defaults.
const (
	DefaultQueueSize     = 64
	DefaultEmbedBatch    = 32
	DefaultTaskRetention = time.Hour
)

// Stores are the stores a pipeline reads and writes.
type Stores struct {
	Vectors   storage.VectorStore
	Graph     storage.GraphStore
	Documents storage.DocumentRepository
	Projects  storage.ProjectRepository
	Files     storage.FileStore
}

func (s Stores) validate() error {
	switch {
	case s.Vectors == nil:
		return ErrVectorStoreRequired
	case s.Graph == nil:
		return ErrGraphStoreRequired
	case s.Documents == nil:
		return ErrDocumentRepositoryRequired
	case s.Projects == nil:
		return ErrProjectRepositoryRequired
	case s.Files == nil:
		return ErrFileStoreRequired
	}
	return nil
}

// Pipeline orchestrates the ingestion of uploaded documents.
// Accepted uploads wait in a bounded queue; a dispatcher hands them to a
// worker pool which runs parse, chunk, embed, extract and persist for each.
// Briefings are generated afterwards on a separate pool.
type Pipeline struct {
	stores    Stores
	embedder  ai.Embedder
	extractor ai.EntityExtractor
	briefer   *briefer
	chunker   *Chunker

	chunkSize          int
	chunkOverlap       int
	dimension          int
	embedBatch         int
	extractConcurrency int
	workerCount        int
	briefingWorkers    int
	queueSize          int
	briefingBudget     int
	taskRetention      time.Duration

	workers    *ants.Pool
	briefings  *ants.Pool
	jobs       chan *task
	slots      chan struct{}
	dispatched chan struct{}
	tasks      *taskTable
	locks      *Locks

	mu      sync.RWMutex
	closed  bool
	running sync.WaitGroup
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithWorkers sets how many documents are processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithWorkers(size int) Option {
	return func(p *Pipeline) error {
		p.workerCount = max(size, 1)
		return nil
	}
}

// WithBriefingWorkers sets how many briefings are generated concurrently.
func WithBriefingWorkers(size int) Option {
	return func(p *Pipeline) error {
		p.briefingWorkers = max(size, 1)
		return nil
	}
}

// WithQueueSize sets how many accepted uploads may wait for a worker.
func WithQueueSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("%w: queue size must be positive", core.ErrValidation)
		}
		p.queueSize = size
		return nil
	}
}

// WithChunking sets the chunk size and overlap in runes.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) error {
		if size < 1 || overlap < 0 || overlap >= size {
			return ErrInvalidChunking
		}
		p.chunkSize = size
		p.chunkOverlap = overlap
		return nil
	}
}

// WithDimension fails documents whose embeddings are not dimension long.
// Zero accepts any length.
func WithDimension(dimension int) Option {
	return func(p *Pipeline) error {
		if dimension < 0 {
			return fmt.Errorf("%w: dimension cannot be negative", core.ErrValidation)
		}
		p.dimension = dimension
		return nil
	}
}

// WithEmbedBatchSize sets how many chunks are embedded per call.
func WithEmbedBatchSize(size int) Option {
	return func(p *Pipeline) error {
		p.embedBatch = max(size, 1)
		return nil
	}
}

// WithExtractConcurrency bounds concurrent extraction calls per document.
func WithExtractConcurrency(n int) Option {
	return func(p *Pipeline) error {
		p.extractConcurrency = max(n, 1)
		return nil
	}
}

// WithBriefingBudget sets how many characters of text the briefing sees.
// Zero disables briefings.
func WithBriefingBudget(chars int) Option {
	return func(p *Pipeline) error {
		if chars < 0 {
			return fmt.Errorf("%w: briefing budget cannot be negative", core.ErrValidation)
		}
		p.briefingBudget = chars
		return nil
	}
}

// WithTaskRetention sets how long finished tasks stay visible to Status.
func WithTaskRetention(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("%w: task retention must be positive", core.ErrValidation)
		}
		p.taskRetention = d
		return nil
	}
}

// WithLocks shares a document lock table, typically with a Deleter.
func WithLocks(locks *Locks) Option {
	return func(p *Pipeline) error {
		if locks != nil {
			p.locks = locks
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline and starts its dispatcher.
// Call Release to stop it.
func NewPipeline(stores Stores, provider ai.AIProvider, opts ...Option) (*Pipeline, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	p := &Pipeline{
		stores:             stores,
		embedder:           provider.Embedder(),
		extractor:          provider.EntityExtractor(),
		chunkSize:          DefaultChunkSize,
		chunkOverlap:       DefaultChunkOverlap,
		embedBatch:         DefaultEmbedBatch,
		extractConcurrency: DefaultExtractConcurrency,
		workerCount:        poolSize,
		briefingWorkers:    1,
		queueSize:          DefaultQueueSize,
		briefingBudget:     DefaultBriefingBudget,
		taskRetention:      DefaultTaskRetention,
		locks:              NewLocks(),
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	chunker, err := NewChunker(p.chunkSize, p.chunkOverlap)
	if err != nil {
		return nil, err
	}
	p.chunker = chunker

	if p.briefingBudget > 0 && provider.Generator() != nil {
		p.briefer = &briefer{
			generator: provider.Generator(),
			documents: stores.Documents,
			locks:     p.locks,
			budget:    p.briefingBudget,
			now:       time.Now,
			logger:    p.logger.With("stage", "briefing"),
		}
	}

	p.workers, err = ants.NewPool(p.workerCount)
	if err != nil {
		return nil, err
	}
	p.briefings, err = ants.NewPool(p.briefingWorkers)
	if err != nil {
		p.workers.Release()
		return nil, err
	}

	p.jobs = make(chan *task, p.queueSize)
	p.slots = make(chan struct{}, p.queueSize)
	p.dispatched = make(chan struct{})
	p.tasks = newTaskTable(p.taskRetention)
	go p.dispatch()
	return p, nil
}

// Locks returns the document lock table used by the pipeline.
func (p *Pipeline) Locks() *Locks {
	return p.locks
}

// Ingest stores an uploaded file, queues it for processing and returns
// immediately. The returned task can be polled with Status.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, filename, projectID string) (*Task, error) {
	if projectID == "" {
		return nil, core.ErrProjectRequired
	}
	if err := core.ValidateFilename(filename); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, core.ErrEmptyContent
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPipelineClosed
	}

	if _, err := p.stores.Projects.Get(ctx, projectID); err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}

	select {
	case p.slots <- struct{}{}:
	default:
		return nil, ErrQueueFull
	}

	t, err := p.accept(ctx, data, filepath.Base(filename), projectID)
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.tasks.add(t)
	p.jobs <- t

	p.logger.Info("document accepted", "task", t.ID, "doc", t.DocID, "project", projectID, "filename", t.filename, "bytes", len(data))
	return &t.Task, nil
}

// accept saves the source file and creates the document record.
func (p *Pipeline) accept(ctx context.Context, data []byte, filename, projectID string) (*task, error) {
	docID := uuid.NewString()
	path, err := p.stores.Files.Save(ctx, projectID, docID, filename, data)
	if err != nil {
		return nil, fmt.Errorf("saving upload: %w", err)
	}

	doc := &core.Document{
		ID:          docID,
		ProjectID:   projectID,
		Filename:    filename,
		Status:      core.StatusUploading,
		StoragePath: path,
	}
	if err := p.stores.Documents.Create(ctx, doc); err != nil {
		if derr := p.stores.Files.Delete(ctx, path); derr != nil {
			p.logger.Warn("removing upload after failed create", "path", path, "err", derr)
		}
		return nil, err
	}

	return newTask(Task{ID: uuid.NewString(), DocID: docID, ProjectID: projectID}, filename, path), nil
}

// dispatch drains the queue into the worker pool. Submit blocks while every
// worker is busy, so waiting jobs stay in the bounded queue.
func (p *Pipeline) dispatch() {
	defer close(p.dispatched)
	for t := range p.jobs {
		p.running.Add(1)
		err := p.workers.Submit(func() {
			defer p.running.Done()
			p.run(t)
		})
		<-p.slots
		if err != nil {
			p.running.Done()
			p.logger.Error("submitting ingestion job", "task", t.ID, "err", err)
			p.finishFailed(t, core.StageQueued, err)
		}
	}
}

// Status reports the progress of a task.
func (p *Pipeline) Status(taskID string) (TaskStatus, error) {
	t, ok := p.tasks.get(taskID)
	if !ok {
		return TaskStatus{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t.snapshot(), nil
}

// Cancel stops a queued or running task. The task stops before its next
// stage; cancelling a finished task does nothing.
func (p *Pipeline) Cancel(taskID string) error {
	t, ok := p.tasks.get(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	t.cancel()
	p.logger.Info("task cancelled", "task", taskID, "doc", t.DocID)
	return nil
}

// CancelDocument cancels every unfinished task of a document and returns how many there were.
func (p *Pipeline) CancelDocument(docID string) int {
	tasks := p.tasks.forDocument(docID)
	for _, t := range tasks {
		t.cancel()
	}
	return len(tasks)
}

// Deleter returns a deleter sharing this pipeline's locks that cancels
// in-flight ingestion of the documents it deletes.
func (p *Pipeline) Deleter() *Deleter {
	d, _ := NewDeleter(p.stores, p.locks, p, p.logger)
	return d
}

// run takes one task through every stage.
func (p *Pipeline) run(t *task) {
	logger := p.logger.With("task", t.ID, "doc", t.DocID)
	started := time.Now()

	text, stage, err := p.process(t)
	switch {
	case err == nil:
		t.finish(core.StageReady, core.StatusReady, "")
		logger.Info("document ready", "elapsed", time.Since(started))
		p.brief(t, text)
	case errors.Is(err, errDocumentGone):
		t.finish(core.StageCancelled, core.StatusDeleted, err.Error())
		logger.Info("document deleted during ingestion", "stage", stage)
	case t.ctx.Err() != nil:
		status := core.StatusFailed
		if errors.Is(p.markFailed(t, stage, "ingestion cancelled"), errDocumentGone) {
			status = core.StatusDeleted
		}
		t.finish(core.StageCancelled, status, "ingestion cancelled")
		logger.Info("ingestion cancelled", "stage", stage)
	default:
		p.finishFailed(t, stage, err)
		logger.Error("ingestion failed", "stage", stage, "err", err)
	}
	p.tasks.expire(t)
}

// process runs the stages and returns the parsed text, or the stage that failed.
func (p *Pipeline) process(t *task) (string, core.Stage, error) {
	if err := p.enter(t, core.StageParsing, core.StatusParsing); err != nil {
		return "", core.StageParsing, err
	}
	data, err := p.readSource(t)
	if err != nil {
		return "", core.StageParsing, err
	}
	text, err := Parse(t.filename, data)
	if err != nil {
		return "", core.StageParsing, err
	}

	if err := p.enter(t, core.StageChunking, core.StatusChunking); err != nil {
		return "", core.StageChunking, err
	}
	texts := p.chunker.Split(text)
	if len(texts) == 0 {
		return "", core.StageChunking, core.ErrEmptyContent
	}
	chunks := buildChunks(&core.Document{ID: t.DocID, ProjectID: t.ProjectID}, texts)
	charCount := len([]rune(text))
	err = p.updateDocument(t, func(doc *core.Document) {
		doc.CharCount = charCount
	})
	if err != nil {
		return "", core.StageChunking, err
	}

	if err := p.enter(t, core.StageEmbedding, core.StatusEmbedding); err != nil {
		return "", core.StageEmbedding, err
	}
	if err := p.embed(t.ctx, chunks); err != nil {
		return "", core.StageEmbedding, err
	}

	if err := p.enter(t, core.StageExtracting, core.StatusEmbedding); err != nil {
		return "", core.StageExtracting, err
	}
	results := extractAll(t.ctx, p.extractor, chunks, p.extractConcurrency, p.logger.With("doc", t.DocID))

	if err := p.enter(t, core.StageStoring, core.StatusStoring); err != nil {
		return "", core.StageStoring, err
	}
	if err := p.persist(t, chunks, results); err != nil {
		return "", core.StageStoring, err
	}
	return text, core.StageReady, nil
}

// enter moves the task and its document into the next stage unless the task was cancelled.
func (p *Pipeline) enter(t *task, stage core.Stage, status core.DocumentStatus) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	t.advance(stage, status)
	return p.updateDocument(t, func(doc *core.Document) {
		doc.Status = status
	})
}

func (p *Pipeline) readSource(t *task) ([]byte, error) {
	r, err := p.stores.Files.Open(t.ctx, t.path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// embed fills in normalised vectors for every chunk, batch by batch.
func (p *Pipeline) embed(ctx context.Context, chunks []*core.Chunk) error {
	for start := 0; start < len(chunks); start += p.embedBatch {
		batch := chunks[start:min(start+p.embedBatch, len(chunks))]
		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		vectors, err := p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(batch), len(vectors))
		}
		for i, vector := range vectors {
			if p.dimension > 0 && len(vector) != p.dimension {
				return fmt.Errorf("%w: expected %d, received %d", core.ErrDimensionMismatch, p.dimension, len(vector))
			}
			batch[i].Vector = core.NormalizeVector(vector)
		}
	}
	return nil
}

// persist writes the chunks and their graph under the document lock.
// The vector write must succeed for the document to become ready; a graph
// failure is recorded on the document and leaves it searchable by vector.
func (p *Pipeline) persist(t *task, chunks []*core.Chunk, results []ExtractionResult) error {
	unlock := p.locks.Lock(t.DocID)
	defer unlock()

	ctx := context.WithoutCancel(t.ctx)
	doc, err := p.stores.Documents.Get(ctx, t.ProjectID, t.DocID)
	if err != nil {
		return err
	}
	if doc.Status == core.StatusDeleted {
		return errDocumentGone
	}
	if err := t.ctx.Err(); err != nil {
		return err
	}

	scope := storage.DocScope{ProjectID: t.ProjectID, DocID: t.DocID}
	if err := p.stores.Vectors.Upsert(t.ctx, chunks...); err != nil {
		if _, derr := p.stores.Vectors.Delete(ctx, scope); derr != nil {
			p.logger.Error("compensating vector delete failed", "doc", t.DocID, "err", derr)
			err = errors.Join(err, derr)
		}
		return err
	}

	graphs, failures := chunkGraphs(chunks, results)
	doc.GraphError = ""
	if len(graphs) > 0 {
		if err := p.stores.Graph.Write(ctx, storage.GraphWrite{Scope: scope, Chunks: graphs}); err != nil {
			p.logger.Warn("graph write failed, document searchable by vector only", "doc", t.DocID, "err", err)
			doc.GraphError = err.Error()
		}
	}

	doc.Status = core.StatusReady
	doc.ChunkCount = len(chunks)
	doc.ExtractionFailures = failures
	doc.FailedStage = ""
	doc.Error = ""
	if err := p.stores.Documents.Update(ctx, doc); err != nil {
		return err
	}
	p.logger.Debug("document persisted", "doc", t.DocID, "chunks", len(chunks), "graph_chunks", len(graphs), "extraction_failures", failures)
	return nil
}

// updateDocument applies fn to the stored document under its lock.
func (p *Pipeline) updateDocument(t *task, fn func(doc *core.Document)) error {
	unlock := p.locks.Lock(t.DocID)
	defer unlock()

	ctx := context.WithoutCancel(t.ctx)
	doc, err := p.stores.Documents.Get(ctx, t.ProjectID, t.DocID)
	if err != nil {
		return err
	}
	if doc.Status == core.StatusDeleted {
		return errDocumentGone
	}
	fn(doc)
	return p.stores.Documents.Update(ctx, doc)
}

// markFailed records a failure on the document unless it was deleted.
func (p *Pipeline) markFailed(t *task, stage core.Stage, msg string) error {
	err := p.updateDocument(t, func(doc *core.Document) {
		doc.Status = core.StatusFailed
		doc.FailedStage = stage
		doc.Error = msg
	})
	if err != nil && !errors.Is(err, errDocumentGone) {
		p.logger.Error("recording document failure", "doc", t.DocID, "err", err)
	}
	return err
}

func (p *Pipeline) finishFailed(t *task, stage core.Stage, err error) {
	stageErr := core.NewStageError(stage, t.DocID, err)
	p.markFailed(t, stage, stageErr.Error())
	t.finish(core.StageFailed, core.StatusFailed, stageErr.Error())
	p.tasks.expire(t)
}

// brief queues briefing generation for a ready document.
func (p *Pipeline) brief(t *task, text string) {
	if p.briefer == nil {
		return
	}
	p.running.Add(1)
	err := p.briefings.Submit(func() {
		defer p.running.Done()
		p.briefer.attach(context.Background(), t.ProjectID, t.DocID, t.filename, text)
	})
	if err != nil {
		p.running.Done()
		p.logger.Warn("submitting briefing", "doc", t.DocID, "err", err)
	}
}

// Release stops accepting uploads, waits for queued and running work and
// releases the worker pools. The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	<-p.dispatched
	p.running.Wait()
	p.workers.Release()
	p.briefings.Release()
}
