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

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/conductor/pkg/auth"
	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/conversation"
	"github.com/kadirpekel/conductor/pkg/lifecycle"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/ratelimit"
)

const maxRequestBytes = 8 << 20

// Runtime is what the server needs from a conductor runtime.
// *runtime.Runtime implements it.
type Runtime interface {
	RunTask(ctx context.Context, seed []protocol.Envelope, options map[string]any) orchestrator.Snapshot
	StartTask(seed []protocol.Envelope, options map[string]any) (string, error)
	Cancel(id string) error
	Reset(ctx context.Context) []lifecycle.Outcome
	Ready(ctx context.Context) error
	Health() map[string]any
	Store() *conversation.Store
}

type Server struct {
	cfg     config.ServerConfig
	token   string
	rtMu    sync.RWMutex
	rt      Runtime
	obs     *observability.Manager
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	router  chi.Router
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithObservability adds tracing and metrics middleware and the scrape route.
func WithObservability(m *observability.Manager) Option {
	return func(s *Server) {
		s.obs = m
	}
}

// WithToken requires a bearer credential on every route except health,
// readiness and metrics.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

func New(cfg config.ServerConfig, rt Runtime, opts ...Option) (*Server, error) {
	if rt == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	cfg.SetDefaults()

	s := &Server{
		cfg:    cfg,
		rt:     rt,
		obs:    observability.NoopManager(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.New(cfg.RateLimit, nil)
		if err != nil {
			return nil, err
		}
		s.limiter = limiter
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	metricsPath := s.obs.MetricsPath()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.obs.Tracer("github.com/kadirpekel/conductor/server"), s.obs.Metrics()))
	r.Use(s.requestLogger)
	r.Use(auth.Middleware(s.token, "/health", "/ready", metricsPath))

	limit := ratelimit.Middleware(s.limiter, nil, s.logger)

	r.With(limit).Post("/invoke", s.handleInvoke)
	r.Route("/conversations", func(r chi.Router) {
		r.With(limit).Post("/", s.handleStart)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Delete("/{id}", s.handleCancel)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Get("/{id}/stream", s.handleStream)
	})
	r.Post("/reset", s.handleReset)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	if h := s.obs.MetricsHandler(); h != nil {
		r.Method(http.MethodGet, metricsPath, h)
		s.logger.Info("Metrics endpoint enabled", "path", metricsPath)
	}
	return r
}

func (s *Server) runtime() Runtime {
	s.rtMu.RLock()
	defer s.rtMu.RUnlock()
	return s.rt
}

// Swap installs rt for new requests and returns the previous runtime.
// Requests already in flight finish on the old one.
func (s *Server) Swap(rt Runtime) Runtime {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()
	old := s.rt
	s.rt = rt
	return old
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is canceled, then drains in-flight requests for at
// most the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server starting", "address", srv.Addr, "auth", s.token != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("HTTP server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP shutdown error: %w", err)
		}
		return nil
	})
	if s.limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := s.limiter.Prune(gctx); err != nil {
						s.logger.Warn("Rate limit prune failed", "error", err)
					}
				}
			}
		})
	}
	return g.Wait()
}

// requestLogger logs without wrapping the ResponseWriter, so websocket
// upgrades keep working.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}
