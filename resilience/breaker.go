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

package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/lattice/core"
	"github.com/sony/gobreaker/v2"
)

// State is the position of a breaker in its state machine.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// BreakerState is a point-in-time view of a breaker.
type BreakerState struct {
	Dependency          string
	State               State
	ConsecutiveFailures uint32
	OpenedAt            time.Time // Zero unless the breaker has opened at least once
	TrialInFlight       bool      // Only meaningful in HALF_OPEN
}

// Breaker guards one external dependency.
//
// CLOSED admits every call and counts consecutive failures. Reaching the
// threshold opens the breaker. OPEN rejects calls with core.ErrCircuitOpen
// until the cooldown elapses, then HALF_OPEN admits exactly one trial call:
// success closes the breaker, failure reopens it and restarts the cooldown.
//
// Ignored errors (caller cancellation, bad input) leave the failure count
// alone in CLOSED. A HALF_OPEN trial that ends with an ignored error proved
// nothing about the dependency, so the breaker reopens.
type Breaker struct {
	name      string
	threshold uint32
	cooldown  time.Duration
	cb        *gobreaker.TwoStepCircuitBreaker[any]
	ignore    func(error) bool
	logger    *slog.Logger

	mu       sync.Mutex
	openedAt time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker) error

// WithBreakerLogger sets a custom logger.
// Default is slog.Default().
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// WithIgnoredErrors marks errors that should not count as dependency failures.
// By default caller cancellation and validation errors are ignored.
func WithIgnoredErrors(ignore func(error) bool) BreakerOption {
	return func(b *Breaker) error {
		if ignore != nil {
			b.ignore = ignore
		}
		return nil
	}
}

// NewBreaker creates a breaker for the named dependency.
func NewBreaker(name string, threshold uint32, cooldown time.Duration, opts ...BreakerOption) (*Breaker, error) {
	if name == "" || threshold == 0 || cooldown <= 0 {
		return nil, fmt.Errorf("%w: name=%q threshold=%d cooldown=%s", ErrInvalidBreakerConfig, name, threshold, cooldown)
	}

	b := &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		ignore:    defaultIgnored,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "breaker", "dependency", name)

	b.cb = gobreaker.NewTwoStepCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: b.onStateChange,
	})
	return b, nil
}

func defaultIgnored(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, core.ErrValidation)
}

func (b *Breaker) onStateChange(_ string, from, to gobreaker.State) {
	if to == gobreaker.StateOpen {
		b.mu.Lock()
		b.openedAt = time.Now().UTC()
		b.mu.Unlock()
		b.logger.Warn("circuit opened", "from", from.String(), "cooldown", b.cooldown)
		return
	}
	b.logger.Info("circuit state changed", "from", from.String(), "to", to.String())
}

// Name returns the dependency this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Do runs fn through the breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := Execute(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Execute runs fn through the breaker and returns its result.
// While the breaker is open fn is not called and the error wraps core.ErrCircuitOpen.
// A panic in fn counts as a failure and is re-raised.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	done, err := b.cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s", core.ErrCircuitOpen, b.name)
		}
		return zero, err
	}
	trial := b.cb.State() == gobreaker.StateHalfOpen

	settled := false
	defer func() {
		if !settled {
			done(false)
		}
	}()
	result, err := fn()
	settled = true

	switch {
	case err == nil:
		done(true)
	case b.ignore(err):
		if trial {
			b.logger.Debug("trial call ended without a verdict", "err", err)
			done(false)
		}
	default:
		done(false)
	}
	return result, err
}

// State returns a snapshot of the breaker.
func (b *Breaker) State() BreakerState {
	state := b.cb.State()
	counts := b.cb.Counts()

	b.mu.Lock()
	openedAt := b.openedAt
	b.mu.Unlock()

	snapshot := BreakerState{
		Dependency:          b.name,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		OpenedAt:            openedAt,
	}
	switch state {
	case gobreaker.StateOpen:
		snapshot.State = StateOpen
	case gobreaker.StateHalfOpen:
		snapshot.State = StateHalfOpen
		snapshot.TrialInFlight = counts.Requests > counts.TotalSuccesses+counts.TotalFailures
	default:
		snapshot.State = StateClosed
	}
	return snapshot
}
