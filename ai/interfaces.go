package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EntityExtractor extracts entities and the relationships between them from text.
// Implementations must be thread-safe for concurrent use.
type EntityExtractor interface {
	// ExtractEntities analyzes text and returns the entities it mentions and
	// the relationships it states between them.
	// Returns an empty Extraction if nothing is found.
	ExtractEntities(ctx context.Context, text string) (*Extraction, error)
}

// Generator produces free-form text from a prompt.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate completes prompt, producing at most maxTokens tokens.
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ExtractedEntity represents a named entity identified in text.
type ExtractedEntity struct {
	// Name is the entity in lowercase, 1-4 words, singular form.
	// Example: "eiffel tower", "paris", "gustave eiffel"
	Name string

	// Type categorizes the entity. Should be one of EntityTypes.
	Type string

	// Importance is a score from 1-10 indicating how central this entity
	// is to understanding the text. Higher scores = more important.
	Importance int
}

// ExtractedRelationship is a directed edge between two extracted entities.
type ExtractedRelationship struct {
	Source string
	Target string
	Type   string // Short verb phrase, e.g. "located_in"
}

// Extraction is the result of entity extraction over one piece of text.
type Extraction struct {
	Entities      []ExtractedEntity
	Relationships []ExtractedRelationship
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// EntityExtractor returns the entity extraction service.
	EntityExtractor() EntityExtractor

	// Generator returns the text generation service.
	Generator() Generator

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
