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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

var (
	ErrUnknownAgent = errors.New("selector chose an unregistered agent")
	ErrEmptySeed    = errors.New("seed must contain at least one envelope")
)

const (
	DefaultMaxSteps         = 8
	DefaultCompletionMarker = "[DONE]"
)

// Agent is the engine's view of a remote participant.
type Agent interface {
	Name() protocol.Source
	Invoke(ctx context.Context, method protocol.Method, messages []protocol.Envelope, options map[string]any) *protocol.Response
}

// Budgeted agents report the longest one Invoke may take. The engine uses
// it as the step deadline when Config.StepTimeout is unset.
type Budgeted interface {
	Budget() time.Duration
}

// Agents resolves agent names. A sealed registry.Registry[Agent] satisfies it.
type Agents interface {
	Get(name string) (Agent, bool)
}

// FailurePolicy decides what a failed step does to the conversation.
type FailurePolicy string

const (
	// FailurePolicyContinue appends the diagnostic and lets the selector go on.
	FailurePolicyContinue FailurePolicy = "continue"
	// FailurePolicyFailFast ends the conversation as failed.
	FailurePolicyFailFast FailurePolicy = "fail_fast"
)

type Config struct {
	// MaxSteps is the step ceiling. Default: 8.
	MaxSteps int

	// StepTimeout bounds one step including retries. Zero uses the selected
	// agent's Budget.
	StepTimeout time.Duration

	FailurePolicy FailurePolicy

	// CompletionMarker ends the conversation when a successful reply starts
	// with it, ignoring case and surrounding whitespace. Empty disables it.
	CompletionMarker string

	// Options are forwarded to agents on every act call.
	Options map[string]any
}

func (c *Config) SetDefaults() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = FailurePolicyContinue
	}
}

func (c *Config) Validate() error {
	if c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1")
	}
	if c.StepTimeout < 0 {
		return fmt.Errorf("step_timeout must not be negative")
	}
	switch c.FailurePolicy {
	case FailurePolicyContinue, FailurePolicyFailFast:
	default:
		return fmt.Errorf("invalid failure_policy %q (valid: continue, fail_fast)", c.FailurePolicy)
	}
	return nil
}

// Observer receives a snapshot after every step and once at the end.
type Observer interface {
	Observe(Snapshot)
}

type ObserverFunc func(Snapshot)

func (f ObserverFunc) Observe(s Snapshot) { f(s) }

// Engine drives conversations. It holds no per-conversation state, so one
// Engine serves any number of concurrent Run calls.
type Engine struct {
	cfg       Config
	agents    Agents
	selector  Selector
	observers []Observer
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   observability.Metrics
	newID     func() string
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithMetrics(metrics observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

func New(cfg Config, agents Agents, selector Selector, opts ...Option) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if agents == nil {
		return nil, fmt.Errorf("agents are required")
	}
	if selector == nil {
		return nil, fmt.Errorf("selector is required")
	}

	e := &Engine{
		cfg:      cfg,
		agents:   agents,
		selector: selector,
		logger:   slog.Default(),
		tracer:   observability.NoopTracer(),
		metrics:  observability.NoopMetrics{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Selector() Selector {
	return e.selector
}

// NewID returns a fresh conversation id.
func (e *Engine) NewID() string {
	return e.newID()
}

// Run drives one conversation from seed to a terminal state and returns the
// final snapshot. An empty id gets a generated one. Run never returns a
// running snapshot: local problems end it as failed with Error set.
func (e *Engine) Run(ctx context.Context, id string, seed []protocol.Envelope) Snapshot {
	if id == "" {
		id = e.newID()
	}
	st := newState(id, e.cfg.MaxSteps, seed)
	logger := e.logger.With("conversation", id)

	ctx, span := e.tracer.Start(ctx, observability.SpanConversationRun,
		trace.WithAttributes(attribute.String(observability.AttrConversationID, id)))
	defer span.End()

	if err := validateSeed(seed); err != nil {
		st.finish(StatusFailed, ReasonInvalidSeed, err)
		return e.complete(ctx, span, logger, st)
	}

	logger.Info("Conversation started", "seed_messages", len(seed), "max_steps", e.cfg.MaxSteps)
	e.publish(st)

	for st.running() {
		if err := ctx.Err(); err != nil {
			st.finish(StatusFailed, ReasonCanceled, err)
			break
		}

		decision, err := e.selector.SelectNext(ctx, protocol.CloneHistory(st.history))
		if err != nil {
			if ctx.Err() != nil {
				st.finish(StatusFailed, ReasonCanceled, ctx.Err())
			} else {
				st.finish(StatusFailed, ReasonSelectionFailed, err)
			}
			break
		}
		if decision.Stop {
			st.finish(StatusDone, ReasonStopped, nil)
			break
		}

		agent, ok := e.agents.Get(string(decision.Agent))
		if !ok {
			st.finish(StatusFailed, ReasonSelectionFailed, fmt.Errorf("%w: %q", ErrUnknownAgent, decision.Agent))
			break
		}

		resp := e.step(ctx, st, agent, logger)
		e.evaluate(ctx, st, resp)
		if st.running() {
			e.publish(st)
		}
	}

	return e.complete(ctx, span, logger, st)
}

func validateSeed(seed []protocol.Envelope) error {
	if len(seed) == 0 {
		return ErrEmptySeed
	}
	for i, env := range seed {
		if err := env.Validate(); err != nil {
			return fmt.Errorf("seed message %d: %w", i, err)
		}
	}
	return nil
}

// step invokes one agent and appends exactly one envelope.
func (e *Engine) step(ctx context.Context, st *state, agent Agent, logger *slog.Logger) *protocol.Response {
	name := agent.Name()
	index := st.stepCount + 1

	stepCtx, span := e.tracer.Start(ctx, observability.SpanConversationStep,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentName, string(name)),
			attribute.Int(observability.AttrStepIndex, index),
		))
	defer span.End()

	if timeout := e.stepTimeout(agent); timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(stepCtx, timeout)
		defer cancel()
	}

	logger.Debug("Invoking agent", "step", index, "agent", name)
	start := time.Now()
	resp := normalizeResponse(name, agent.Invoke(stepCtx, protocol.MethodAct, protocol.CloneHistory(st.history), e.options(ctx)))
	duration := time.Since(start)

	rec := StepRecord{
		Agent:     name,
		Status:    resp.Status,
		Attempts:  resp.Attempts,
		LatencyMS: duration.Milliseconds(),
		Failure:   resp.Failure,
	}
	if v, ok := resp.Elapsed[protocol.ElapsedLatency]; ok {
		rec.LatencyMS = v
	}

	var env protocol.Envelope
	if resp.OK() {
		env = *resp.Result
		logger.Info("Step completed", "step", index, "agent", name, "latency_ms", rec.LatencyMS)
	} else {
		env = diagnostic(name, resp)
		span.SetStatus(codes.Error, env.Text())
		logger.Warn("Step failed", "step", index, "agent", name, "class", resp.Failure.Class, "error", resp.Failure.Message)
	}
	st.appendStep(env, rec)

	e.metrics.RecordStep(ctx, string(name), string(resp.Status), duration)
	return resp
}

func (e *Engine) stepTimeout(agent Agent) time.Duration {
	if e.cfg.StepTimeout > 0 {
		return e.cfg.StepTimeout
	}
	if b, ok := agent.(Budgeted); ok {
		return b.Budget()
	}
	return 0
}

type runOptionsKey struct{}

// WithRunOptions attaches per-conversation options to ctx. They are merged
// over Config.Options for every act call of a Run using ctx.
func WithRunOptions(ctx context.Context, options map[string]any) context.Context {
	if len(options) == 0 {
		return ctx
	}
	return context.WithValue(ctx, runOptionsKey{}, options)
}

func (e *Engine) options(ctx context.Context) map[string]any {
	extra, _ := ctx.Value(runOptionsKey{}).(map[string]any)
	if len(extra) == 0 {
		return e.cfg.Options
	}
	merged := make(map[string]any, len(e.cfg.Options)+len(extra))
	for k, v := range e.cfg.Options {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// normalizeResponse turns a nil or contract-violating response into a
// protocol failure attributed to the agent.
func normalizeResponse(name protocol.Source, resp *protocol.Response) *protocol.Response {
	if resp == nil {
		resp = &protocol.Response{Status: protocol.StatusFail}
	}
	if err := resp.Validate(); err != nil {
		resp = &protocol.Response{
			Status:   protocol.StatusFail,
			Elapsed:  resp.Elapsed,
			Attempts: resp.Attempts,
			Failure: &protocol.Failure{
				Class:    protocol.FailureProtocol,
				Agent:    name,
				Attempts: resp.Attempts,
				Message:  err.Error(),
			},
		}
	}
	if resp.Status == protocol.StatusFail && resp.Failure == nil {
		msg := "agent reported failure"
		if resp.Result != nil && resp.Result.Text() != "" {
			msg = resp.Result.Text()
		}
		resp.Failure = &protocol.Failure{
			Class:    protocol.FailureApplication,
			Agent:    name,
			Attempts: resp.Attempts,
			Message:  msg,
		}
	}
	return resp
}

// diagnostic builds the synthetic envelope appended for a failed step.
func diagnostic(name protocol.Source, resp *protocol.Response) protocol.Envelope {
	text := resp.Failure.Diagnostic()
	if resp.Result != nil && resp.Result.Text() != "" {
		text = resp.Result.Text()
	}
	return protocol.NewText(name, text)
}

// evaluate applies the termination rules after a step, in order: cancel,
// failure policy, completion, step ceiling.
func (e *Engine) evaluate(ctx context.Context, st *state, resp *protocol.Response) {
	if !resp.OK() {
		if err := ctx.Err(); err != nil {
			st.finish(StatusFailed, ReasonCanceled, err)
			return
		}
		if e.cfg.FailurePolicy == FailurePolicyFailFast {
			st.finish(StatusFailed, ReasonStepFailed, resp.Failure)
			return
		}
	}

	if resp.OK() && (resp.Done || e.isCompletion(resp.Result.Text())) {
		st.finish(StatusDone, ReasonCompleted, nil)
		return
	}

	if st.stepCount >= e.cfg.MaxSteps {
		st.finish(StatusDone, ReasonMaxSteps, nil)
	}
}

func (e *Engine) isCompletion(text string) bool {
	return HasCompletionMarker(text, e.cfg.CompletionMarker)
}

// HasCompletionMarker reports whether text starts with marker, ignoring case
// and surrounding whitespace.
func HasCompletionMarker(text, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), strings.ToLower(marker))
}

func (e *Engine) complete(ctx context.Context, span trace.Span, logger *slog.Logger, st *state) Snapshot {
	snap := st.snapshot()

	span.SetAttributes(
		attribute.String(observability.AttrStatus, string(snap.Status)),
		attribute.String(observability.AttrReason, string(snap.Reason)),
		attribute.Int(observability.AttrStepCount, snap.StepCount),
	)
	if snap.Status == StatusFailed {
		span.SetStatus(codes.Error, snap.Error)
	}

	e.metrics.RecordConversation(context.WithoutCancel(ctx), string(snap.Status), string(snap.Reason), snap.StepCount,
		time.Duration(snap.Elapsed[protocol.ElapsedTotal])*time.Millisecond)

	attrs := []any{"status", snap.Status, "reason", snap.Reason, "steps", snap.StepCount, "total_ms", snap.Elapsed[protocol.ElapsedTotal]}
	if snap.Status == StatusFailed {
		logger.Warn("Conversation failed", append(attrs, "error", snap.Error)...)
	} else {
		logger.Info("Conversation finished", attrs...)
	}

	for _, o := range e.observers {
		o.Observe(snap)
	}
	return snap
}

func (e *Engine) publish(st *state) {
	if len(e.observers) == 0 {
		return
	}
	snap := st.snapshot()
	for _, o := range e.observers {
		o.Observe(snap)
	}
}
