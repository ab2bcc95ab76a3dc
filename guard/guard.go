// Package guard wraps external dependencies with the resilience primitives.
//
// Every call passes, in order, an optional rate limiter keyed by the
// dependency name, the dependency's circuit breaker and, for stores, a
// leased handle from the dependency's connection pool. Business logic in
// ingestion and search sees only the storage and ai interfaces.
package guard

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/resilience"
)

// Dependency names. One breaker exists per name.
const (
	DependencyVector   = "vector"
	DependencyGraph    = "graph"
	DependencyLLM      = "llm"
	DependencyEmbedder = "embedder"
)

// Option configures a guarded adapter.
type Option func(*gate) error

// WithLimiter admits calls through limiter under the dependency name.
func WithLimiter(limiter *resilience.Limiter) Option {
	return func(g *gate) error {
		g.limiter = limiter
		return nil
	}
}

// WithLogger sets the logger. A nil logger selects slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *gate) error {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
		return nil
	}
}

type gate struct {
	name    string
	breaker *resilience.Breaker
	limiter *resilience.Limiter
	logger  *slog.Logger
}

func newGate(breaker *resilience.Breaker, opts []Option) (*gate, error) {
	if breaker == nil {
		return nil, errors.New("guard: breaker is required")
	}
	g := &gate{
		name:    breaker.Name(),
		breaker: breaker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.logger = g.logger.With("component", "guard", "dependency", g.name)
	return g, nil
}

func (g *gate) admit() error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.TryAcquire(g.name, 1)
}

// Breaker returns the breaker guarding the dependency.
func (g *gate) Breaker() *resilience.Breaker {
	return g.breaker
}

// callPooled runs fn on a leased handle inside the breaker. A handle whose
// call failed for a reason other than bad input, or panicked, is discarded so
// the pool opens a fresh one.
func callPooled[T, R any](ctx context.Context, g *gate, pool *resilience.Pool[T], fn func(T) (R, error)) (R, error) {
	var zero R
	if err := g.admit(); err != nil {
		return zero, err
	}
	return resilience.Execute(g.breaker, func() (R, error) {
		lease, err := pool.Acquire(ctx)
		if err != nil {
			return zero, err
		}
		discard := true
		defer func() {
			if discard {
				lease.Discard()
			} else {
				lease.Release()
			}
		}()

		result, err := fn(lease.Value())
		if err != nil && !errors.Is(err, core.ErrValidation) && !errors.Is(err, context.Canceled) {
			g.logger.Debug("discarding handle after failure", "err", err)
			return result, err
		}
		discard = false
		return result, err
	})
}
