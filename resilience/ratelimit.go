package resilience

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/poiesic/lattice/core"
	"golang.org/x/time/rate"
)

// BucketConfig sizes one token bucket.
type BucketConfig struct {
	Capacity   int     // Maximum tokens held
	RefillRate float64 // Tokens added per second
}

func (c BucketConfig) validate() error {
	if c.Capacity < 1 || c.RefillRate <= 0 || math.IsInf(c.RefillRate, 0) || math.IsNaN(c.RefillRate) {
		return fmt.Errorf("%w: capacity=%d refill=%v", ErrInvalidLimiterConfig, c.Capacity, c.RefillRate)
	}
	return nil
}

// RateBucket is a point-in-time view of one bucket.
type RateBucket struct {
	Key             string
	TokensRemaining float64
	Capacity        int
	RefillRate      float64
	LastRefillAt    time.Time
}

type bucket struct {
	limiter *rate.Limiter
	last    time.Time
}

// Limiter enforces a token bucket per key plus a shared global bucket.
// A request is admitted only when both buckets hold enough tokens, and then
// both are charged. Refill is lazy: tokens accrue from elapsed time on access.
type Limiter struct {
	perKey  BucketConfig
	global  *bucket
	gconf   BucketConfig
	buckets *cache.Cache
	now     func() time.Time
	logger  *slog.Logger
	mu      sync.Mutex
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter) error

// WithGlobalBucket adds a bucket shared by every key.
func WithGlobalBucket(cfg BucketConfig) LimiterOption {
	return func(l *Limiter) error {
		if err := cfg.validate(); err != nil {
			return err
		}
		l.gconf = cfg
		l.global = &bucket{limiter: rate.NewLimiter(rate.Limit(cfg.RefillRate), cfg.Capacity)}
		return nil
	}
}

// WithClock overrides time.Now. Used by tests to step time deterministically.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) error {
		if now != nil {
			l.now = now
		}
		return nil
	}
}

// WithLimiterLogger sets a custom logger.
// Default is slog.Default().
func WithLimiterLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) error {
		if logger == nil {
			logger = slog.Default()
		}
		l.logger = logger
		return nil
	}
}

// NewLimiter creates a limiter whose per-key buckets use perKey.
func NewLimiter(perKey BucketConfig, opts ...LimiterOption) (*Limiter, error) {
	if err := perKey.validate(); err != nil {
		return nil, err
	}

	// A bucket idle this long has refilled completely and can be dropped.
	fill := time.Duration(float64(perKey.Capacity) / perKey.RefillRate * float64(time.Second))
	idle := max(2*fill, time.Minute)

	l := &Limiter{
		perKey:  perKey,
		buckets: cache.New(idle, idle),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	l.logger = l.logger.With("component", "ratelimit")
	return l, nil
}

// TryAcquire takes cost tokens from the key's bucket and the global bucket.
// It never blocks; a refusal returns an error wrapping core.ErrRateLimited
// and charges neither bucket.
func (l *Limiter) TryAcquire(key string, cost int) error {
	if cost < 1 {
		cost = 1
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	keyed := l.bucketFor(key)
	if keyed.limiter.TokensAt(now) < float64(cost) {
		l.logger.Debug("rate limited", "key", key, "cost", cost)
		return fmt.Errorf("%w: key %q", core.ErrRateLimited, key)
	}
	if l.global != nil && l.global.limiter.TokensAt(now) < float64(cost) {
		l.logger.Debug("rate limited by global bucket", "key", key, "cost", cost)
		return fmt.Errorf("%w: global", core.ErrRateLimited)
	}

	keyed.limiter.AllowN(now, cost)
	keyed.last = now
	if l.global != nil {
		l.global.limiter.AllowN(now, cost)
		l.global.last = now
	}
	return nil
}

// RetryAfter estimates how long until key could be admitted at cost.
func (l *Limiter) RetryAfter(key string, cost int) time.Duration {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	wait := deficit(l.bucketFor(key).limiter, now, cost, l.perKey.RefillRate)
	if l.global != nil {
		wait = max(wait, deficit(l.global.limiter, now, cost, l.gconf.RefillRate))
	}
	return wait
}

func deficit(lim *rate.Limiter, now time.Time, cost int, refill float64) time.Duration {
	missing := float64(cost) - lim.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / refill * float64(time.Second))
}

// Bucket returns a snapshot of the key's bucket.
func (l *Limiter) Bucket(key string) RateBucket {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(key)
	return RateBucket{
		Key:             key,
		TokensRemaining: b.limiter.TokensAt(now),
		Capacity:        l.perKey.Capacity,
		RefillRate:      l.perKey.RefillRate,
		LastRefillAt:    b.last,
	}
}

// bucketFor must be called with l.mu held.
func (l *Limiter) bucketFor(key string) *bucket {
	if v, ok := l.buckets.Get(key); ok {
		b := v.(*bucket)
		l.buckets.Set(key, b, cache.DefaultExpiration)
		return b
	}
	b := &bucket{limiter: rate.NewLimiter(rate.Limit(l.perKey.RefillRate), l.perKey.Capacity)}
	l.buckets.Set(key, b, cache.DefaultExpiration)
	return b
}
