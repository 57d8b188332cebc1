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

// Package ratelimit limits how many conversations a client may start in a
// time window. Usage lives in a Store; MemoryStore suits a single
// orchestrator process.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/conductor/pkg/config"
)

// Usage reports one window's consumption for an identifier.
type Usage struct {
	Window    string    `json:"window"`
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	WindowEnd time.Time `json:"resets_at"`
}

type CheckResult struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason,omitempty"`
	Usages  []Usage `json:"usage"`

	// RetryAfter is set when denied: time until the earliest exhausted
	// window resets.
	RetryAfter time.Duration `json:"-"`
}

// Tightest returns the usage with the fewest remaining starts.
func (r *CheckResult) Tightest() *Usage {
	var tightest *Usage
	for i := range r.Usages {
		u := &r.Usages[i]
		if tightest == nil || u.Remaining < tightest.Remaining {
			tightest = u
		}
	}
	return tightest
}

// Store keeps per-identifier counters for fixed windows.
type Store interface {
	// Get returns the current count and window end. An absent or expired
	// record reads as zero with a fresh window.
	Get(ctx context.Context, identifier string, window string, length time.Duration) (int64, time.Time, error)

	// Increment adds amount, starting a new window if the old one expired.
	Increment(ctx context.Context, identifier string, window string, length time.Duration, amount int64) (int64, time.Time, error)

	// Delete drops every record of identifier.
	Delete(ctx context.Context, identifier string) error

	// DeleteExpired drops records whose window ended before t.
	DeleteExpired(ctx context.Context, before time.Time) error
}

// Limiter enforces a RateLimitConfig. It is safe for concurrent use.
type Limiter struct {
	rules []config.RateLimitRule
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

// New returns a Limiter. A nil store means a fresh MemoryStore.
func New(cfg config.RateLimitConfig, store Store) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("rate limiting is disabled")
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{rules: cfg.Limits, store: store, now: time.Now}, nil
}

// Allow records one conversation start for identifier if every window has
// room. A denied start is not recorded.
func (l *Limiter) Allow(ctx context.Context, identifier string) (*CheckResult, error) {
	if identifier == "" {
		return nil, fmt.Errorf("identifier cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	result := &CheckResult{Allowed: true, Usages: make([]Usage, 0, len(l.rules))}
	var earliest time.Time
	for _, rule := range l.rules {
		current, end, err := l.store.Get(ctx, identifier, rule.Window, rule.Duration())
		if err != nil {
			return nil, fmt.Errorf("failed to get usage for %s: %w", rule.Window, err)
		}
		if current+1 > rule.Limit {
			result.Allowed = false
			if result.Reason == "" {
				result.Reason = fmt.Sprintf("limit of %d conversations per %s reached", rule.Limit, rule.Window)
			}
			if earliest.IsZero() || end.Before(earliest) {
				earliest = end
			}
		}
		result.Usages = append(result.Usages, usage(rule, current, end))
	}

	if !result.Allowed {
		if d := earliest.Sub(l.now()); d > 0 {
			result.RetryAfter = d
		}
		return result, nil
	}

	for i, rule := range l.rules {
		current, end, err := l.store.Increment(ctx, identifier, rule.Window, rule.Duration(), 1)
		if err != nil {
			return nil, fmt.Errorf("failed to record usage for %s: %w", rule.Window, err)
		}
		result.Usages[i] = usage(rule, current, end)
	}
	return result, nil
}

// Reset clears identifier's usage.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Delete(ctx, identifier)
}

// Prune drops records whose windows have ended.
func (l *Limiter) Prune(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.DeleteExpired(ctx, l.now())
}

func usage(rule config.RateLimitRule, current int64, end time.Time) Usage {
	remaining := rule.Limit - current
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		Window:    rule.Window,
		Current:   current,
		Limit:     rule.Limit,
		Remaining: remaining,
		WindowEnd: end,
	}
}
