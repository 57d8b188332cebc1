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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testErr struct{ retryable bool }

func (e testErr) Error() string     { return "test error" }
func (e testErr) IsRetryable() bool { return e.retryable }

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: 200 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 0},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: 3, want: 600 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicyAttempts(t *testing.T) {
	assert.Equal(t, 1, Policy{}.Attempts())
	assert.Equal(t, 1, Policy{MaxAttempts: -2}.Attempts())
	assert.Equal(t, 3, Policy{MaxAttempts: 3}.Attempts())
	assert.Equal(t, 1, Once.Attempts())
}

func TestPolicyBudget(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}
	// 3 attempts of 1s, then sleeps of 400ms and 600ms.
	assert.Equal(t, 4*time.Second, p.Budget(time.Second))
	assert.Equal(t, time.Second, Once.Budget(time.Second))
	assert.Equal(t, time.Duration(0), Policy{}.Budget(0))
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	attempts, err := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	var retried []int
	p := Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			retried = append(retried, attempt)
		},
	}

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return testErr{retryable: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{2, 3}, retried)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	attempts, err := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return testErr{retryable: true}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.True(t, IsRetryable(err))
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	attempts, err := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return testErr{retryable: false}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoPlainErrorsAreNotRetried(t *testing.T) {
	attempts, err := Policy{MaxAttempts: 5}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, attempts)
}

func TestDoAbortsBeforeDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	attempts, err := Policy{MaxAttempts: 5, BaseDelay: time.Second}.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return testErr{retryable: true}
	})

	assert.ErrorIs(t, err, ErrDeadline)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := Policy{MaxAttempts: 3}.Do(ctx, func(ctx context.Context, attempt int) error {
		t.Fatal("fn must not be called")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}
