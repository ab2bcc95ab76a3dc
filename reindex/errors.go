package reindex

import "errors"

var (
	// ErrVectorStoreRequired is returned when a nil vector store is passed.
	ErrVectorStoreRequired = errors.New("vector store is required")

	// ErrEmbedderRequired is returned when a nil embedder is passed.
	ErrEmbedderRequired = errors.New("embedder is required")
)
