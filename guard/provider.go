package guard

import (
	"errors"

	"github.com/poiesic/lattice/ai"
	"github.com/poiesic/lattice/resilience"
)

// Provider is an ai.AIProvider whose services are guarded. The embedder
// has its own breaker; extraction and generation share the llm breaker.
type Provider struct {
	inner     ai.AIProvider
	embedder  *Embedder
	extractor *Extractor
	generator *Generator
}

var _ ai.AIProvider = (*Provider)(nil)

// NewProvider guards every service of inner.
func NewProvider(inner ai.AIProvider, llm, embedder *resilience.Breaker, opts ...Option) (*Provider, error) {
	if inner == nil {
		return nil, errors.New("guard: provider is required")
	}
	e, err := NewEmbedder(inner.Embedder(), embedder, opts...)
	if err != nil {
		return nil, err
	}
	x, err := NewExtractor(inner.EntityExtractor(), llm, opts...)
	if err != nil {
		return nil, err
	}
	g, err := NewGenerator(inner.Generator(), llm, opts...)
	if err != nil {
		return nil, err
	}
	return &Provider{inner: inner, embedder: e, extractor: x, generator: g}, nil
}

func (p *Provider) Embedder() ai.Embedder               { return p.embedder }
func (p *Provider) EntityExtractor() ai.EntityExtractor { return p.extractor }
func (p *Provider) Generator() ai.Generator             { return p.generator }

// Close closes the wrapped provider.
func (p *Provider) Close() error {
	return p.inner.Close()
}
