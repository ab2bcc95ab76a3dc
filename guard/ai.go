package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/resilience"
)

// callService runs fn inside the breaker and reports model failures as
// core.ErrLLMService. Breaker, limiter and cancellation errors pass through.
func callService[R any](ctx context.Context, g *gate, fn func() (R, error)) (R, error) {
	var zero R
	if err := g.admit(); err != nil {
		return zero, err
	}
	result, err := resilience.Execute(g.breaker, fn)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, core.ErrCircuitOpen) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, core.ErrValidation) {
		return zero, err
	}
	return zero, fmt.Errorf("%w: %s: %w", core.ErrLLMService, g.name, err)
}

// Embedder is an ai.Embedder whose calls are guarded.
type Embedder struct {
	*gate
	inner ai.Embedder
}

var _ ai.Embedder = (*Embedder)(nil)

// NewEmbedder guards inner with breaker.
func NewEmbedder(inner ai.Embedder, breaker *resilience.Breaker, opts ...Option) (*Embedder, error) {
	g, err := newGate(breaker, opts)
	if err != nil {
		return nil, err
	}
	return &Embedder{gate: g, inner: inner}, nil
}

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return callService(ctx, e.gate, func() ([]float32, error) {
		return e.inner.EmbedText(ctx, text)
	})
}

func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return callService(ctx, e.gate, func() ([][]float32, error) {
		return e.inner.EmbedTexts(ctx, texts)
	})
}

// Extractor is an ai.EntityExtractor whose calls are guarded.
type Extractor struct {
	*gate
	inner ai.EntityExtractor
}

var _ ai.EntityExtractor = (*Extractor)(nil)

// NewExtractor guards inner with breaker.
func NewExtractor(inner ai.EntityExtractor, breaker *resilience.Breaker, opts ...Option) (*Extractor, error) {
	g, err := newGate(breaker, opts)
	if err != nil {
		return nil, err
	}
	return &Extractor{gate: g, inner: inner}, nil
}

func (x *Extractor) ExtractEntities(ctx context.Context, text string) (*ai.Extraction, error) {
	return callService(ctx, x.gate, func() (*ai.Extraction, error) {
		return x.inner.ExtractEntities(ctx, text)
	})
}

// Generator is an ai.Generator whose calls are guarded.
type Generator struct {
	*gate
	inner ai.Generator
}

var _ ai.Generator = (*Generator)(nil)

// NewGenerator guards inner with breaker.
func NewGenerator(inner ai.Generator, breaker *resilience.Breaker, opts ...Option) (*Generator, error) {
	g, err := newGate(breaker, opts)
	if err != nil {
		return nil, err
	}
	return &Generator{gate: g, inner: inner}, nil
}

func (gen *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return callService(ctx, gen.gate, func() (string, error) {
		return gen.inner.Generate(ctx, prompt, maxTokens)
	})
}
