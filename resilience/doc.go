// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package resilience provides the primitives every external call passes through.
//
// Three independent objects are constructed explicitly and shared by callers:
//
//   - Breaker: a per-dependency circuit breaker (CLOSED, OPEN, HALF_OPEN) that
//     fails fast with core.ErrCircuitOpen while a dependency is presumed down.
//   - Pool: a bounded pool of connection handles with acquire timeouts,
//     maximum lifetime replacement and an optional health check.
//   - Limiter: token buckets keyed per caller plus one global bucket.
//
// All three are safe for concurrent use. None of them retries on its own;
// recovery happens through the breaker's cooldown and half-open trial.
//
// # Usage
//
//	breaker, err := resilience.NewBreaker("vector", 5, 30*time.Second)
//	pool, err := resilience.NewPool(resilience.PoolConfig[*pgx.Conn]{...})
//
//	hits, err := resilience.Execute(breaker, func() ([]Match, error) {
//	    return resilience.Use(ctx, pool, func(conn *pgx.Conn) ([]Match, error) {
//	        return search(ctx, conn)
//	    })
//	})
package resilience
