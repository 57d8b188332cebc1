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

// Package runtime assembles a conductor from configuration: one proxy per
// remote agent, a sealed registry, the selector, the engine, the reset
// controller and the conversation store.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conductor"
	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/conversation"
	"github.com/kadirpekel/conductor/pkg/lifecycle"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/ollama"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/registry"
	"github.com/kadirpekel/conductor/pkg/remoteagent"
)

const tracerName = "github.com/kadirpekel/conductor"

var (
	ErrNoAgents = errors.New("no agents registered")
	ErrClosed   = errors.New("runtime is closed")
)

type Runtime struct {
	cfg      *config.Config
	obs      *observability.Manager
	ownsObs  bool
	proxies  []*remoteagent.Proxy
	agents   *registry.Registry[orchestrator.Agent]
	selector orchestrator.Selector
	engine   *orchestrator.Engine
	resets   *lifecycle.Controller
	store    *conversation.Store
	logger   *slog.Logger

	// mu orders StartTask's tasks.Add against Close.
	mu        sync.Mutex
	closed    bool
	baseCtx   context.Context
	cancelAll context.CancelFunc
	tasks     sync.WaitGroup
}

type options struct {
	logger    *slog.Logger
	obs       *observability.Manager
	completer orchestrator.Completer
	newID     func() string
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObservability uses an already initialized manager. The runtime will
// not shut it down.
func WithObservability(m *observability.Manager) Option {
	return func(o *options) {
		o.obs = m
	}
}

// WithCompleter replaces the Ollama client behind the model selector.
func WithCompleter(c orchestrator.Completer) Option {
	return func(o *options) {
		o.completer = c
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

// New builds a runtime from a processed config.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Runtime{
		cfg:    cfg,
		obs:    o.obs,
		logger: o.logger,
		store: conversation.NewStore(
			conversation.WithRetention(cfg.Orchestrator.Retention),
			conversation.WithLogger(o.logger),
		),
	}
	if r.obs == nil {
		r.obs = observability.NewManager(cfg.Observability)
		if err := r.obs.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize observability: %w", err)
		}
		r.ownsObs = true
	}
	tracer := r.obs.Tracer(tracerName)
	metrics := r.obs.Metrics()

	if err := r.buildAgents(tracer, metrics); err != nil {
		r.shutdownObs(ctx)
		return nil, err
	}

	selector, err := r.buildSelector(o.completer)
	if err != nil {
		r.shutdownObs(ctx)
		return nil, fmt.Errorf("failed to build selector: %w", err)
	}
	r.selector = selector

	engineOpts := []orchestrator.Option{
		orchestrator.WithLogger(r.logger),
		orchestrator.WithTracer(tracer),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithObserver(r.store),
	}
	if o.newID != nil {
		engineOpts = append(engineOpts, orchestrator.WithIDGenerator(o.newID))
	}
	r.engine, err = orchestrator.New(cfg.Orchestrator.EngineConfig(), r.agents, selector, engineOpts...)
	if err != nil {
		r.shutdownObs(ctx)
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	resettable := make([]lifecycle.Resettable, len(r.proxies))
	for i, p := range r.proxies {
		resettable[i] = p
	}
	r.resets = lifecycle.New(resettable,
		lifecycle.WithTimeout(cfg.Orchestrator.Reset.Timeout),
		lifecycle.WithLogger(r.logger),
		lifecycle.WithTracer(tracer),
	)

	r.baseCtx, r.cancelAll = context.WithCancel(context.Background())

	r.logger.Info("Runtime ready",
		"agents", r.agents.Names(),
		"selector", cfg.Orchestrator.Selector.Type,
		"max_steps", cfg.Orchestrator.MaxSteps)
	return r, nil
}

func (r *Runtime) buildAgents(tracer trace.Tracer, metrics observability.Metrics) error {
	names := r.cfg.AgentNames()
	sources := make([]protocol.Source, len(names))
	for i, n := range names {
		sources[i] = protocol.Source(n)
	}
	participants := protocol.NewParticipants(sources...)

	r.agents = registry.New[orchestrator.Agent]()
	for _, name := range names {
		ac := r.cfg.Agents[name]
		proxy, err := remoteagent.New(remoteagent.Config{
			Name:        protocol.Source(name),
			Description: ac.Description,
			URL:         ac.URL,
			Timeout:     ac.Timeout,
			MaxAttempts: ac.MaxAttempts,
			BaseDelay:   ac.BaseDelay,
			Token:       r.cfg.TokenFor(name),
			Headers:     ac.Headers,
			TLS:         ac.TLS,
		},
			remoteagent.WithParticipants(participants),
			remoteagent.WithLogger(r.logger),
			remoteagent.WithTracer(tracer),
			remoteagent.WithMetrics(metrics),
		)
		if err != nil {
			return fmt.Errorf("failed to create agent %s: %w", name, err)
		}
		if err := r.agents.Register(name, proxy); err != nil {
			return err
		}
		r.proxies = append(r.proxies, proxy)
	}
	r.agents.Seal()
	return nil
}

func (r *Runtime) buildSelector(completer orchestrator.Completer) (orchestrator.Selector, error) {
	sc := r.cfg.Orchestrator.Selector
	switch sc.Type {
	case config.SelectorSequence:
		route := make([]protocol.Source, len(sc.Route))
		for i, n := range sc.Route {
			route[i] = protocol.Source(n)
		}
		return orchestrator.NewSequenceSelector(route, sc.Cycle)
	case config.SelectorTable:
		return orchestrator.NewTableSelector(sc.Table, sc.Default), nil
	case config.SelectorFixed:
		return orchestrator.FixedSelector{Agent: protocol.Source(sc.Agent)}, nil
	case config.SelectorModel:
		if completer == nil {
			completer = ollama.NewClient(sc.Model.Host, sc.Model.Model,
				ollama.WithTimeout(sc.Model.Timeout),
				ollama.WithLogger(r.logger))
		}
		infos := make([]orchestrator.AgentInfo, len(r.proxies))
		for i, p := range r.proxies {
			infos[i] = orchestrator.AgentInfo{Name: p.Name(), Description: p.Description()}
		}
		opts := []orchestrator.ModelSelectorOption{orchestrator.WithSelectorLogger(r.logger)}
		if sc.Model.Fallback != "" {
			opts = append(opts, orchestrator.WithFallback(orchestrator.ParseDecision(sc.Model.Fallback)))
		}
		if sc.Model.MaxMessageChars > 0 {
			opts = append(opts, orchestrator.WithMaxMessageChars(sc.Model.MaxMessageChars))
		}
		return orchestrator.NewModelSelector(completer, infos, opts...)
	default:
		return nil, fmt.Errorf("unknown selector type %q", sc.Type)
	}
}

// RunTask runs one conversation to completion. The conversation is visible
// in the store while it runs and can be canceled through it.
func (r *Runtime) RunTask(ctx context.Context, seed []protocol.Envelope, opts map[string]any) orchestrator.Snapshot {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := r.engine.NewID()
	if err := r.store.Begin(id, r.cfg.Orchestrator.MaxSteps, cancel); err != nil {
		r.logger.Warn("Failed to register conversation", "conversation", id, "error", err)
	}
	return r.run(ctx, id, seed, opts)
}

// StartTask runs a conversation in the background and returns its id at
// once. It outlives the caller's request and stops on Cancel or Close.
func (r *Runtime) StartTask(seed []protocol.Envelope, opts map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	id := r.engine.NewID()
	if err := r.store.Begin(id, r.cfg.Orchestrator.MaxSteps, cancel); err != nil {
		cancel()
		return "", err
	}

	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		defer cancel()
		r.run(ctx, id, seed, opts)
	}()
	return id, nil
}

func (r *Runtime) run(ctx context.Context, id string, seed []protocol.Envelope, opts map[string]any) orchestrator.Snapshot {
	if r.cfg.Orchestrator.Reset.BeforeTask {
		for _, o := range r.resets.Reset(ctx) {
			if !o.OK {
				r.logger.Warn("Agent not reset before task", "conversation", id, "agent", o.Agent, "error", o.Error)
			}
		}
	}
	return r.engine.Run(orchestrator.WithRunOptions(ctx, opts), id, seed)
}

// Cancel stops a running conversation.
func (r *Runtime) Cancel(id string) error {
	return r.store.Cancel(id)
}

// ResetAll resets every agent and reports success per agent.
func (r *Runtime) ResetAll(ctx context.Context) map[protocol.Source]bool {
	return r.resets.ResetAll(ctx)
}

// Reset resets every agent and reports the outcome per agent.
func (r *Runtime) Reset(ctx context.Context) []lifecycle.Outcome {
	return r.resets.Reset(ctx)
}

// Ready reports whether the runtime can take tasks: agents are registered
// and the selector's model, if any, answers.
func (r *Runtime) Ready(ctx context.Context) error {
	if r.agents.Count() == 0 {
		return ErrNoAgents
	}
	if rc, ok := r.selector.(interface{ Ready(context.Context) error }); ok {
		if err := rc.Ready(ctx); err != nil {
			return fmt.Errorf("selector not ready: %w", err)
		}
	}
	return nil
}

// Health is a static echo of the configuration.
func (r *Runtime) Health() map[string]any {
	endpoints := make(map[string]string, len(r.proxies))
	for _, p := range r.proxies {
		endpoints[string(p.Name())] = p.Endpoint()
	}

	oc := r.cfg.Orchestrator
	selector := map[string]any{"type": oc.Selector.Type}
	switch oc.Selector.Type {
	case config.SelectorSequence:
		selector["route"] = oc.Selector.Route
	case config.SelectorTable:
		selector["table"] = oc.Selector.Table
		selector["default"] = oc.Selector.Default
	case config.SelectorFixed:
		selector["agent"] = oc.Selector.Agent
	case config.SelectorModel:
		selector["model"] = oc.Selector.Model.Model
		selector["host"] = oc.Selector.Model.Host
	}

	return map[string]any{
		"status":    "ok",
		"name":      r.cfg.Name,
		"version":   conductor.Version,
		"endpoints": endpoints,
		"limits": map[string]any{
			"max_steps":         oc.MaxSteps,
			"step_timeout_ms":   oc.StepTimeout.Milliseconds(),
			"failure_policy":    oc.FailurePolicy,
			"completion_marker": oc.Marker(),
			"reset_before_task": oc.Reset.BeforeTask,
			"reset_timeout_ms":  oc.Reset.Timeout.Milliseconds(),
		},
		"selector": selector,
	}
}

func (r *Runtime) Config() *config.Config { return r.cfg }

func (r *Runtime) Store() *conversation.Store { return r.store }

func (r *Runtime) Engine() *orchestrator.Engine { return r.engine }

func (r *Runtime) Observability() *observability.Manager { return r.obs }

// Agents lists the registered agent names.
func (r *Runtime) Agents() []string { return r.agents.Names() }

// Close cancels background conversations, waits for them and shuts down
// observability if the runtime created it.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.cancelAll()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for conversations: %w", ctx.Err())
	}
	return r.shutdownObs(ctx)
}

func (r *Runtime) shutdownObs(ctx context.Context) error {
	if !r.ownsObs {
		return nil
	}
	return r.obs.Shutdown(ctx)
}
