package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/lattice/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id      int32
	healthy atomic.Bool
	closed  atomic.Bool
}

type connFactory struct {
	opened atomic.Int32
	mu     sync.Mutex
	conns  []*fakeConn
}

func (f *connFactory) open(ctx context.Context) (*fakeConn, error) {
	c := &fakeConn{id: f.opened.Add(1)}
	c.healthy.Store(true)
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *connFactory) close(c *fakeConn) {
	c.closed.Store(true)
}

func newTestPool(t *testing.T, f *connFactory, cfg PoolConfig[*fakeConn]) *Pool[*fakeConn] {
	t.Helper()
	cfg.Name = "test"
	cfg.Open = f.open
	cfg.Close = f.close
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 2
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 50 * time.Millisecond
	}
	p, err := NewPool(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestNewPool_RejectsInvalidConfig(t *testing.T) {
	_, err := NewPool(PoolConfig[int]{Name: "x", MaxSize: 1, AcquireTimeout: time.Second})
	assert.ErrorIs(t, err, ErrInvalidPoolConfig)

	open := func(context.Context) (int, error) { return 1, nil }
	_, err = NewPool(PoolConfig[int]{Name: "x", MaxSize: 0, AcquireTimeout: time.Second, Open: open})
	assert.ErrorIs(t, err, ErrInvalidPoolConfig)

	_, err = NewPool(PoolConfig[int]{Name: "x", MaxSize: 1, Open: open})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestPool_ReusesReleasedHandles(t *testing.T) {
	f := &connFactory{}
	p := newTestPool(t, f, PoolConfig[*fakeConn]{})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := lease.Value()
	lease.Release()
	lease.Release() // idempotent

	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, first, lease.Value())
	lease.Release()
	assert.Equal(t, int32(1), f.opened.Load())
}

func TestPool_AcquireTimesOutWhenExhausted(t *testing.T) {
	f := &connFactory{}
	p := newTestPool(t, f, PoolConfig[*fakeConn]{MaxSize: 2})
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, core.ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, int32(2), stats.Leased)
	assert.Equal(t, int32(2), stats.Max)

	a.Release()
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	c.Release()
	b.Release()
}

func TestPool_CallerCancellationIsNotExhaustion(t *testing.T) {
	f := &connFactory{}
	p := newTestPool(t, f, PoolConfig[*fakeConn]{MaxSize: 1, AcquireTimeout: time.Second})

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, core.ErrPoolExhausted)
}

func TestPool_ReplacesExpiredHandles(t *testing.T) {
	var offset atomic.Int64
	clock := func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }

	f := &connFactory{}
	p := newTestPool(t, f, PoolConfig[*fakeConn]{MaxLifetime: time.Minute, Clock: clock})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := lease.Value()
	lease.Release()

	offset.Store(int64(2 * time.Minute))

	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, lease.Value())
	assert.Eventually(t, first.closed.Load, time.Second, 5*time.Millisecond, "expired handle must be destroyed")
	lease.Release()
}

func TestPool_ReplacesUnhealthyHandles(t *testing.T) {
	f := &connFactory{}
	p := newTestPool(t, f, PoolConfig[*fakeConn]{
		HealthCheck: func(ctx context.Context, c *fakeConn) error {
			if !c.healthy.Load() {
				return errors.New("unhealthy")
			}
			return nil
		},
	})
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := lease.Value()
	lease.Release()

	first.healthy.Store(false)

	lease, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, lease.Value())
	assert.Eventually(t, first.closed.Load, time.Second, 5*time.Millisecond)
	lease.Release()
}

func TestPool_WithReleasesOnErrorAndPanic(t *testing.T) {
	f := &connFactory{}
	p := newTestPool(t, f, PoolConfig[*fakeConn]{MaxSize: 1})
	ctx := context.Background()

	boom := errors.New("boom")
	err := p.With(ctx, func(*fakeConn) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(0), p.Stats().Leased)

	assert.Panics(t, func() {
		_ = p.With(ctx, func(*fakeConn) error { panic("handler panic") })
	})
	assert.Equal(t, int32(0), p.Stats().Leased)

	got, err := Use(ctx, p, func(c *fakeConn) (int32, error) { return c.id, nil })
	require.NoError(t, err)
	assert.Equal(t, int32(1), got)
}

func TestPool_DiscardDestroysHandle(t *testing.T) {
	f := &connFactory{}
	p := newTestPool(t, f, PoolConfig[*fakeConn]{})

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn := lease.Value()
	lease.Discard()
	lease.Release()

	assert.Eventually(t, func() bool {
		return conn.closed.Load() && p.Stats().Total == 0
	}, time.Second, 5*time.Millisecond)
}
