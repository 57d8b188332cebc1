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

// Package agentserver serves a Go agent over the /invoke wire protocol.
//
// The orchestrator talks to every agent through POST /invoke. This package
// implements the agent side: request decoding and validation, dispatch to an
// Actor, and a well-formed Response for every outcome.
//
//	srv, _ := agentserver.New(agentserver.Config{Name: "coder"},
//	    agentserver.ActorFunc(func(ctx context.Context, msgs []protocol.Envelope, _ map[string]any) (agentserver.Result, error) {
//	        return agentserver.Result{Text: "print(2 + 3)"}, nil
//	    }))
//	_ = srv.Start(ctx, ":8000")
//
// Agents without a Resetter answer reset with 501 Not Implemented.
package agentserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conductor/pkg/auth"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

const maxRequestBytes = 8 << 20

// Result is what an Actor produces for one act call.
type Result struct {
	Text string
	// Done asks the orchestrator to end the conversation.
	Done bool
}

// Actor produces one reply from the conversation so far.
type Actor interface {
	Act(ctx context.Context, messages []protocol.Envelope, options map[string]any) (Result, error)
}

type ActorFunc func(ctx context.Context, messages []protocol.Envelope, options map[string]any) (Result, error)

func (f ActorFunc) Act(ctx context.Context, messages []protocol.Envelope, options map[string]any) (Result, error) {
	return f(ctx, messages, options)
}

// Resetter is implemented by actors that hold session state.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ReadyChecker is implemented by actors with dependencies worth probing.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

type Config struct {
	// Name is the source stamped on every reply. Required.
	Name protocol.Source

	Description string

	// Token, when set, is required as a bearer credential on /invoke.
	Token string

	// Info is echoed by GET /health.
	Info map[string]any
}

type Server struct {
	cfg     Config
	actor   Actor
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics observability.Metrics
	router  chi.Router
	server  *http.Server
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

func WithMetrics(metrics observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

func New(cfg Config, actor Actor, opts ...Option) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if actor == nil {
		return nil, fmt.Errorf("agent %s: actor is required", cfg.Name)
	}

	s := &Server{
		cfg:     cfg,
		actor:   actor,
		logger:  slog.Default(),
		tracer:  observability.NoopTracer(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("agent", string(cfg.Name))
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.tracer, s.metrics))
	r.Use(auth.Middleware(s.cfg.Token, "/health", "/ready"))

	r.Post("/invoke", s.handleInvoke)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Agent server starting", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Agent server shutting down")
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		s.logger.Warn("Rejected malformed request", "error", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		s.logger.Warn("Rejected invalid request", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	switch req.Method {
	case protocol.MethodReset:
		s.reset(r.Context(), w, start)
	default:
		s.act(r.Context(), w, req, start)
	}
}

func (s *Server) act(ctx context.Context, w http.ResponseWriter, req protocol.Request, start time.Time) {
	res, err := s.actor.Act(ctx, req.Messages, req.Options)
	if err != nil {
		s.logger.Error("Actor failed", "error", err)
		writeJSON(w, http.StatusOK, s.reply(protocol.StatusFail, err.Error(), false, start))
		return
	}
	s.logger.Debug("Actor replied", "messages", len(req.Messages), "done", res.Done)
	writeJSON(w, http.StatusOK, s.reply(protocol.StatusOK, res.Text, res.Done, start))
}

func (s *Server) reset(ctx context.Context, w http.ResponseWriter, start time.Time) {
	resetter, ok := s.actor.(Resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "reset is not supported by "+string(s.cfg.Name))
		return
	}
	if err := resetter.Reset(ctx); err != nil {
		s.logger.Error("Reset failed", "error", err)
		writeJSON(w, http.StatusOK, s.reply(protocol.StatusFail, err.Error(), false, start))
		return
	}
	s.logger.Info("Agent state reset")
	writeJSON(w, http.StatusOK, s.reply(protocol.StatusOK, "reset", false, start))
}

func (s *Server) reply(status protocol.Status, text string, done bool, start time.Time) protocol.Response {
	result := protocol.NewText(s.cfg.Name, text)
	elapsed := protocol.Elapsed{}
	elapsed.Set(protocol.ElapsedLatency, time.Since(start))
	return protocol.Response{
		Status:  status,
		Result:  &result,
		Elapsed: elapsed,
		Done:    done,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, canReset := s.actor.(Resetter)
	body := map[string]any{
		"status": "ok",
		"name":   s.cfg.Name,
		"reset":  canReset,
	}
	if s.cfg.Description != "" {
		body["description"] = s.cfg.Description
	}
	for k, v := range s.cfg.Info {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if checker, ok := s.actor.(ReadyChecker); ok {
		if err := checker.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
