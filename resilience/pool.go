package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/poiesic/lattice/core"
)

// PoolConfig describes a bounded pool of connection handles.
type PoolConfig[T any] struct {
	// Name identifies the pool in logs and stats.
	Name string

	// MaxSize is the maximum number of handles, leased or idle.
	MaxSize int32

	// AcquireTimeout bounds how long Acquire waits for a free handle.
	AcquireTimeout time.Duration

	// MaxLifetime replaces handles older than this on acquire and release.
	// Zero disables lifetime replacement.
	MaxLifetime time.Duration

	// Open creates a new handle.
	Open func(ctx context.Context) (T, error)

	// Close destroys a handle. Optional.
	Close func(T)

	// HealthCheck checks a handle before it is leased. Optional.
	// Unhealthy handles are destroyed and replaced.
	HealthCheck func(ctx context.Context, handle T) error

	// Clock overrides time.Now for lifetime checks. Optional.
	Clock func() time.Time

	Logger *slog.Logger
}

// Pool is a bounded set of reusable connection handles.
type Pool[T any] struct {
	name           string
	pool           *puddle.Pool[T]
	maxSize        int32
	acquireTimeout time.Duration
	maxLifetime    time.Duration
	healthCheck    func(ctx context.Context, handle T) error
	now            func() time.Time
	logger         *slog.Logger
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Name   string
	Max    int32
	Total  int32
	Leased int32
	Idle   int32
}

// NewPool creates a pool. Handles are opened lazily on first acquire.
func NewPool[T any](cfg PoolConfig[T]) (*Pool[T], error) {
	if cfg.Open == nil || cfg.MaxSize < 1 || cfg.AcquireTimeout <= 0 || cfg.MaxLifetime < 0 {
		return nil, fmt.Errorf("%w: name=%q max=%d timeout=%s", ErrInvalidPoolConfig, cfg.Name, cfg.MaxSize, cfg.AcquireTimeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	destroy := cfg.Close
	if destroy == nil {
		destroy = func(T) {}
	}

	pool, err := puddle.NewPool(&puddle.Config[T]{
		Constructor: cfg.Open,
		Destructor:  destroy,
		MaxSize:     cfg.MaxSize,
	})
	if err != nil {
		return nil, err
	}

	return &Pool[T]{
		name:           cfg.Name,
		pool:           pool,
		maxSize:        cfg.MaxSize,
		acquireTimeout: cfg.AcquireTimeout,
		maxLifetime:    cfg.MaxLifetime,
		healthCheck:    cfg.HealthCheck,
		now:            now,
		logger:         logger.With("component", "pool", "pool", cfg.Name),
	}, nil
}

// Lease is a handle checked out of a pool. Release must be called exactly
// once; extra calls are ignored.
type Lease[T any] struct {
	pool     *Pool[T]
	res      *puddle.Resource[T]
	released atomic.Bool
}

// Value returns the leased handle.
func (l *Lease[T]) Value() T {
	return l.res.Value()
}

// CreatedAt returns when the underlying handle was opened.
func (l *Lease[T]) CreatedAt() time.Time {
	return l.res.CreationTime()
}

// Release returns the handle to the pool, or destroys it if it outlived MaxLifetime.
func (l *Lease[T]) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	if l.pool.expired(l.res) {
		l.res.Destroy()
		return
	}
	l.res.Release()
}

// Discard destroys the handle instead of returning it. Use after a
// connection level error.
func (l *Lease[T]) Discard() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.res.Destroy()
}

// Acquire leases a handle, waiting up to the configured timeout.
// A timeout returns an error wrapping core.ErrPoolExhausted. Expired and
// unhealthy handles are destroyed and replaced transparently.
func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	// Every handle may be replaced once before giving up.
	for attempt := int32(0); attempt <= p.maxSize; attempt++ {
		res, err := p.pool.Acquire(acquireCtx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s after %s", core.ErrPoolExhausted, p.name, p.acquireTimeout)
			}
			return nil, err
		}

		if p.expired(res) {
			p.logger.Debug("replacing expired handle", "age", p.now().Sub(res.CreationTime()))
			res.Destroy()
			continue
		}

		if p.healthCheck != nil {
			if err := p.healthCheck(acquireCtx, res.Value()); err != nil {
				p.logger.Warn("replacing unhealthy handle", "err", err)
				res.Destroy()
				continue
			}
		}

		return &Lease[T]{pool: p, res: res}, nil
	}
	return nil, fmt.Errorf("%w: %s has no healthy handle", core.ErrPoolExhausted, p.name)
}

func (p *Pool[T]) expired(res *puddle.Resource[T]) bool {
	return p.maxLifetime > 0 && p.now().Sub(res.CreationTime()) >= p.maxLifetime
}

// With leases a handle for the duration of fn. The handle is released on
// every path, including panics.
func (p *Pool[T]) With(ctx context.Context, fn func(handle T) error) error {
	_, err := Use(ctx, p, func(handle T) (struct{}, error) {
		return struct{}{}, fn(handle)
	})
	return err
}

// Use leases a handle for the duration of fn and returns fn's result.
func Use[T, R any](ctx context.Context, p *Pool[T], fn func(handle T) (R, error)) (R, error) {
	var zero R
	lease, err := p.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer lease.Release()
	return fn(lease.Value())
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool[T]) Stats() PoolStats {
	stat := p.pool.Stat()
	return PoolStats{
		Name:   p.name,
		Max:    stat.MaxResources(),
		Total:  stat.TotalResources(),
		Leased: stat.AcquiredResources(),
		Idle:   stat.IdleResources(),
	}
}

// Close destroys idle handles and waits for leased handles to be released.
func (p *Pool[T]) Close() {
	p.pool.Close()
}
