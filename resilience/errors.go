package resilience

import (
	"fmt"

	"github.com/poiesic/lattice/core"
)

var (
	// ErrInvalidBreakerConfig is returned when a breaker threshold or cooldown is not positive.
	ErrInvalidBreakerConfig = fmt.Errorf("%w: invalid circuit breaker configuration", core.ErrValidation)

	// ErrInvalidPoolConfig is returned when a pool is missing its constructor or bounds.
	ErrInvalidPoolConfig = fmt.Errorf("%w: invalid connection pool configuration", core.ErrValidation)

	// ErrInvalidLimiterConfig is returned when a bucket capacity or refill rate is not positive.
	ErrInvalidLimiterConfig = fmt.Errorf("%w: invalid rate limiter configuration", core.ErrValidation)
)
