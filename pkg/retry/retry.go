// Copyright 2025 Kadir Pekel
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

// Package retry implements the bounded linear backoff used for agent calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeadline is returned when the next attempt could not start before the
// context deadline. It wraps the last attempt's error.
var ErrDeadline = errors.New("deadline reached before next attempt")

// Retryable is implemented by errors that may be retried.
type Retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether any error in the chain asks to be retried.
func IsRetryable(err error) bool {
	var r Retryable
	return errors.As(err, &r) && r.IsRetryable()
}

// Policy retries a call up to MaxAttempts times. The delay before attempt k
// (k >= 2) is BaseDelay*k.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// OnRetry is called before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Once is a single attempt policy.
var Once = Policy{MaxAttempts: 1}

// Attempts is MaxAttempts clamped to at least one.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the sleep before the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 2 || p.BaseDelay <= 0 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt)
}

// Budget is the longest a full run can take when each attempt is bounded
// by perAttempt: every attempt plus every backoff sleep.
func (p Policy) Budget(perAttempt time.Duration) time.Duration {
	var total time.Duration
	for attempt := 1; attempt <= p.Attempts(); attempt++ {
		total += perAttempt + p.Delay(attempt)
	}
	return total
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	maxAttempts := p.Attempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt)
			if deadline, ok := ctx.Deadline(); ok && !time.Now().Add(delay).Before(deadline) {
				return attempt - 1, fmt.Errorf("%w: %w", ErrDeadline, lastErr)
			}
			if p.OnRetry != nil {
				p.OnRetry(attempt, delay, lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return attempt - 1, fmt.Errorf("%w: %w", err, lastErr)
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil {
			return attempt, err
		}
	}

	return maxAttempts, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
