package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/lattice/resilience"
	"github.com/poiesic/lattice/storage"
)

// PoolSettings sizes a dependency's pool.
type PoolSettings struct {
	MaxSize        int32
	AcquireTimeout time.Duration
	MaxLifetime    time.Duration
	Logger         *slog.Logger
}

// NewSharedPool bounds concurrent use of one thread-safe store. Every
// handle is the same store, so closing a handle leaves it open and the
// caller closes the store itself.
func NewSharedPool[T storage.Pinger](name string, store T, settings PoolSettings) (*resilience.Pool[T], error) {
	return resilience.NewPool(resilience.PoolConfig[T]{
		Name:           name,
		MaxSize:        settings.MaxSize,
		AcquireTimeout: settings.AcquireTimeout,
		Open: func(context.Context) (T, error) {
			return store, nil
		},
		HealthCheck: func(ctx context.Context, s T) error {
			return s.Ping(ctx)
		},
		Logger: settings.Logger,
	})
}

// Closer is a store that owns its own connection.
type Closer interface {
	storage.Pinger
	Close() error
}

// NewDedicatedPool opens one store per handle with open and closes it when
// the pool evicts the handle.
func NewDedicatedPool[T Closer](name string, open func(ctx context.Context) (T, error), settings PoolSettings) (*resilience.Pool[T], error) {
	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return resilience.NewPool(resilience.PoolConfig[T]{
		Name:           name,
		MaxSize:        settings.MaxSize,
		AcquireTimeout: settings.AcquireTimeout,
		MaxLifetime:    settings.MaxLifetime,
		Open:           open,
		Close: func(s T) {
			if err := s.Close(); err != nil {
				logger.Warn("closing pooled store", "pool", name, "err", err)
			}
		},
		HealthCheck: func(ctx context.Context, s T) error {
			return s.Ping(ctx)
		},
		Logger: settings.Logger,
	})
}
