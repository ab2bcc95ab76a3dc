package guard

import (
	"context"

	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/resilience"
	"github.com/poiesic/lattice/storage"
)

// VectorStore is a storage.VectorStore whose calls are guarded.
type VectorStore struct {
	*gate
	pool *resilience.Pool[storage.VectorStore]
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore guards the stores handed out by pool with breaker.
func NewVectorStore(pool *resilience.Pool[storage.VectorStore], breaker *resilience.Breaker, opts ...Option) (*VectorStore, error) {
	g, err := newGate(breaker, opts)
	if err != nil {
		return nil, err
	}
	return &VectorStore{gate: g, pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (v *VectorStore) Pool() *resilience.Pool[storage.VectorStore] {
	return v.pool
}

func (v *VectorStore) Upsert(ctx context.Context, chunks ...*core.Chunk) error {
	_, err := callPooled(ctx, v.gate, v.pool, func(s storage.VectorStore) (struct{}, error) {
		return struct{}{}, s.Upsert(ctx, chunks...)
	})
	return err
}

func (v *VectorStore) Search(ctx context.Context, vector []float32, filter storage.Filter, topK int) ([]storage.VectorMatch, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return callPooled(ctx, v.gate, v.pool, func(s storage.VectorStore) ([]storage.VectorMatch, error) {
		return s.Search(ctx, vector, filter, topK)
	})
}

func (v *VectorStore) Fetch(ctx context.Context, projectID string, ids ...string) ([]*core.Chunk, error) {
	if projectID == "" {
		return nil, core.ErrProjectRequired
	}
	return callPooled(ctx, v.gate, v.pool, func(s storage.VectorStore) ([]*core.Chunk, error) {
		return s.Fetch(ctx, projectID, ids...)
	})
}

func (v *VectorStore) Scan(ctx context.Context, filter storage.Filter) ([]*core.Chunk, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return callPooled(ctx, v.gate, v.pool, func(s storage.VectorStore) ([]*core.Chunk, error) {
		return s.Scan(ctx, filter)
	})
}

func (v *VectorStore) Count(ctx context.Context, filter storage.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	return callPooled(ctx, v.gate, v.pool, func(s storage.VectorStore) (int, error) {
		return s.Count(ctx, filter)
	})
}

func (v *VectorStore) Delete(ctx context.Context, scope storage.DocScope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	return callPooled(ctx, v.gate, v.pool, func(s storage.VectorStore) (int, error) {
		return s.Delete(ctx, scope)
	})
}

// Ping checks a pooled handle without going through the breaker.
func (v *VectorStore) Ping(ctx context.Context) error {
	return v.pool.With(ctx, func(s storage.VectorStore) error {
		return s.Ping(ctx)
	})
}

// Close closes the pool, which closes every handle.
func (v *VectorStore) Close() error {
	v.pool.Close()
	return nil
}

// GraphStore is a storage.GraphStore whose calls are guarded.
type GraphStore struct {
	*gate
	pool *resilience.Pool[storage.GraphStore]
}

var _ storage.GraphStore = (*GraphStore)(nil)

// NewGraphStore guards the stores handed out by pool with breaker.
func NewGraphStore(pool *resilience.Pool[storage.GraphStore], breaker *resilience.Breaker, opts ...Option) (*GraphStore, error) {
	g, err := newGate(breaker, opts)
	if err != nil {
		return nil, err
	}
	return &GraphStore{gate: g, pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (g *GraphStore) Pool() *resilience.Pool[storage.GraphStore] {
	return g.pool
}

func (g *GraphStore) Write(ctx context.Context, write storage.GraphWrite) error {
	if err := write.Scope.Validate(); err != nil {
		return err
	}
	_, err := callPooled(ctx, g.gate, g.pool, func(s storage.GraphStore) (struct{}, error) {
		return struct{}{}, s.Write(ctx, write)
	})
	return err
}

func (g *GraphStore) Query(ctx context.Context, seeds []string, filter storage.Filter, limit int) ([]storage.GraphMatch, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return callPooled(ctx, g.gate, g.pool, func(s storage.GraphStore) ([]storage.GraphMatch, error) {
		return s.Query(ctx, seeds, filter, limit)
	})
}

func (g *GraphStore) Delete(ctx context.Context, scope storage.DocScope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	return callPooled(ctx, g.gate, g.pool, func(s storage.GraphStore) (int, error) {
		return s.Delete(ctx, scope)
	})
}

// Ping checks a pooled handle without going through the breaker.
func (g *GraphStore) Ping(ctx context.Context) error {
	return g.pool.With(ctx, func(s storage.GraphStore) error {
		return s.Ping(ctx)
	})
}

// Close closes the pool, which closes every handle.
func (g *GraphStore) Close() error {
	g.pool.Close()
	return nil
}
