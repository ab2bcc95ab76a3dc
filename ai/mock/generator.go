package mock

import (
	"context"
	"sync/atomic"
)

// DefaultGeneration is what MockGenerator returns when no GenerateFunc is set.
const DefaultGeneration = `{"summary":"A mock summary.","topics":["mock topic"],"questions":["What does the mock say?"]}`

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

	callCount atomic.Int64
}

// NewMockGenerator creates a mock generator returning DefaultGeneration.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate returns the injected result or DefaultGeneration.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	m.callCount.Add(1)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, maxTokens)
	}
	return DefaultGeneration, nil
}

// CallCount returns the number of times Generate was called.
func (m *MockGenerator) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom functions.
func (m *MockGenerator) Reset() {
	m.callCount.Store(0)
	m.GenerateFunc = nil
}
