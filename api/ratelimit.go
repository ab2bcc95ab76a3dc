package api

import (
	"errors"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/poiesic/lattice/core"
	"github.com/poiesic/lattice/resilience"
)

// rateLimit admits each request through the client IP's token bucket.
// Refused requests get 429 and a Retry-After header in whole seconds.
func rateLimit(limiter *resilience.Limiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if err := limiter.TryAcquire(key, 1); err != nil {
			if !errors.Is(err, core.ErrRateLimited) {
				return err
			}
			wait := limiter.RetryAfter(key, 1)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(max(int(math.Ceil(wait.Seconds())), 1)))
			return err
		}
		return c.Next()
	}
}
