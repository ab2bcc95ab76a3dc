package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/poiesic/lattice/ai"
)

// MockEntityExtractor is a test double for ai.EntityExtractor.
// It allows custom behavior injection via function fields.
type MockEntityExtractor struct {
	// ExtractEntitiesFunc is called by ExtractEntities if set.
	// If nil, uses default simple word extraction.
	ExtractEntitiesFunc func(ctx context.Context, text string) (*ai.Extraction, error)

	callCount atomic.Int64
}

// NewMockEntityExtractor creates a mock entity extractor with default behavior.
// Note: Returns concrete type to allow test assertions via GetMockExtractor().
func NewMockEntityExtractor() *MockEntityExtractor {
	return &MockEntityExtractor{}
}

// ExtractEntities extracts simple mock entities from text.
// Default behavior: the first five words longer than three letters become
// entities with descending importance, and each consecutive pair is related.
func (m *MockEntityExtractor) ExtractEntities(ctx context.Context, text string) (*ai.Extraction, error) {
	m.callCount.Add(1)

	if m.ExtractEntitiesFunc != nil {
		return m.ExtractEntitiesFunc(ctx, text)
	}

	extraction := &ai.Extraction{}
	seen := make(map[string]bool)
	importance := 10
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if len(extraction.Entities) >= 5 {
			break
		}
		word = strings.Trim(word, ".,!?;:\"'()[]{}-")
		if len(word) <= 3 || seen[word] {
			continue
		}
		seen[word] = true

		entityType := "topic"
		if len(word) > 7 {
			entityType = "abstract_concept"
		}
		extraction.Entities = append(extraction.Entities, ai.ExtractedEntity{
			Name:       word,
			Type:       entityType,
			Importance: importance,
		})
		if importance > 1 {
			importance--
		}
	}

	for i := 1; i < len(extraction.Entities); i++ {
		extraction.Relationships = append(extraction.Relationships, ai.ExtractedRelationship{
			Source: extraction.Entities[i-1].Name,
			Target: extraction.Entities[i].Name,
			Type:   "related_to",
		})
	}

	return extraction, nil
}

// CallCount returns the number of times ExtractEntities was called.
func (m *MockEntityExtractor) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom functions.
func (m *MockEntityExtractor) Reset() {
	m.callCount.Store(0)
	m.ExtractEntitiesFunc = nil
}
