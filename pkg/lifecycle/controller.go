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

// Package lifecycle resets remote agents between unrelated tasks.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

// DefaultTimeout bounds each agent's reset call.
const DefaultTimeout = 5 * time.Second

// Resettable is an agent that can be asked to drop its session state.
// remoteagent.Proxy satisfies it.
type Resettable interface {
	Name() protocol.Source
	Reset(ctx context.Context) *protocol.Response
}

// Outcome is the result of resetting one agent.
type Outcome struct {
	Agent protocol.Source `json:"agent"`
	OK    bool            `json:"ok"`

	// Unsupported is set when the agent has no reset capability. It still
	// counts as success.
	Unsupported bool   `json:"unsupported,omitempty"`
	Error       string `json:"error,omitempty"`
	LatencyMS   int64  `json:"latency_ms"`
}

// Controller resets a fixed set of agents. It is safe for concurrent use.
type Controller struct {
	agents  []Resettable
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Controller)

// WithTimeout sets the per-agent reset deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = tracer
	}
}

func New(agents []Resettable, opts ...Option) *Controller {
	c := &Controller{
		agents:  append([]Resettable(nil), agents...),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		tracer:  observability.NoopTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Timeout() time.Duration { return c.timeout }

// ResetAll resets every agent and reports success per agent.
func (c *Controller) ResetAll(ctx context.Context) map[protocol.Source]bool {
	outcomes := c.Reset(ctx)
	out := make(map[protocol.Source]bool, len(outcomes))
	for _, o := range outcomes {
		out[o.Agent] = o.OK
	}
	return out
}

// Reset resets every agent concurrently. One agent's failure never stops
// the others; each call gets its own deadline derived from ctx.
func (c *Controller) Reset(ctx context.Context) []Outcome {
	ctx, span := c.tracer.Start(ctx, observability.SpanAgentReset,
		trace.WithAttributes(attribute.Int("agents", len(c.agents))))
	defer span.End()

	var (
		mu       sync.Mutex
		outcomes = make([]Outcome, len(c.agents))
		g        errgroup.Group
	)

	for i, a := range c.agents {
		i, a := i, a
		g.Go(func() error {
			o := c.resetOne(ctx, a)
			mu.Lock()
			outcomes[i] = o
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.OK {
			failed++
		}
	}
	if failed > 0 {
		span.SetStatus(codes.Error, "reset failed")
		c.logger.Warn("Agent reset incomplete", "failed", failed, "total", len(outcomes))
	} else {
		c.logger.Debug("All agents reset", "total", len(outcomes))
	}
	return outcomes
}

func (c *Controller) resetOne(ctx context.Context, a Resettable) Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	o := Outcome{Agent: a.Name()}
	resp := a.Reset(ctx)
	o.LatencyMS = time.Since(start).Milliseconds()

	switch {
	case resp == nil:
		o.Error = "agent returned no response"
	case resp.OK():
		o.OK = true
	case resp.Failure != nil && resp.Failure.Unsupported():
		o.OK = true
		o.Unsupported = true
		c.logger.Debug("Agent does not support reset", "agent", o.Agent, "status_code", resp.Failure.StatusCode)
	case resp.Failure != nil:
		o.Error = resp.Failure.Error()
	default:
		o.Error = "agent reported failure"
		if resp.Result != nil {
			o.Error = resp.Result.Text()
		}
	}

	if !o.OK {
		c.logger.Warn("Agent reset failed", "agent", o.Agent, "error", o.Error)
	}
	return o
}
