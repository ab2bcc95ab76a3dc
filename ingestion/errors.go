package ingestion

import (
	"errors"
	"fmt"

	"github.com/poiesic/lattice/core"
)

var (
	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrGraphStoreRequired is returned when a graph store is not provided.
	ErrGraphStoreRequired = errors.New("graph store required")

	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrProjectRepositoryRequired is returned when a project repository is not provided.
	ErrProjectRepositoryRequired = errors.New("project repository required")

	// ErrFileStoreRequired is returned when a file store is not provided.
	ErrFileStoreRequired = errors.New("file store required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrQueueFull is returned by Ingest when the job queue has no free slot.
	ErrQueueFull = errors.New("ingestion queue full")

	// ErrPipelineClosed is returned by Ingest after Release.
	ErrPipelineClosed = errors.New("ingestion pipeline closed")

	// ErrTaskNotFound is returned for unknown or expired task ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidChunking rejects an overlap that would stop the chunker advancing.
	ErrInvalidChunking = fmt.Errorf("%w: chunk overlap must be smaller than chunk size", core.ErrValidation)

	// errDocumentGone stops a job whose document was deleted underneath it.
	errDocumentGone = errors.New("document deleted during ingestion")
)
