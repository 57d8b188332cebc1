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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/runtime"
	"github.com/kadirpekel/conductor/pkg/server"
)

// ServeCmd starts the orchestrator HTTP service.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch config file for changes and swap in a rebuilt runtime."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rs := &runtimeSet{}
	cfg, loader, err := loadConfig(ctx, cli.Config, config.WithOnChange(rs.reload))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if err := cli.applyConfigLogger(&cfg.Logger); err != nil {
		return err
	}

	if c.Port != 0 {
		cfg.Server.Port = c.Port
		if err := cfg.Server.Validate(); err != nil {
			return err
		}
	}

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	rt, err := runtime.New(ctx, cfg, runtime.WithObservability(obs))
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}

	srv, err := server.New(cfg.Server, rt,
		server.WithToken(cfg.Auth.Token),
		server.WithObservability(obs),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	rs.init(ctx, cfg, obs, srv, rt)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		rs.closeAll(shutdownCtx)
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	if c.Watch {
		if loader == nil {
			slog.Warn("--watch needs --config; ignoring")
		} else {
			go func() {
				if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
					slog.Error("Config watch error", "error", err)
				}
			}()
		}
	}

	printServeInfo(cfg, obs)
	return srv.Start(ctx)
}

func printServeInfo(cfg *config.Config, obs *observability.Manager) {
	addr := cfg.Server.Address()
	fmt.Printf("\nconductor %q ready\n", cfg.Name)
	fmt.Printf("   Invoke:      POST http://%s/invoke\n", addr)
	fmt.Printf("   Health:      http://%s/health\n", addr)
	if obs.MetricsHandler() != nil {
		fmt.Printf("   Metrics:     http://%s%s\n", addr, obs.MetricsPath())
	}
	fmt.Printf("   Selector:    %s\n", cfg.Orchestrator.Selector.Type)
	fmt.Println("\n   Agents:")
	for _, name := range cfg.AgentNames() {
		fmt.Printf("     - %s  %s\n", name, cfg.Agents[name].URL)
	}
	fmt.Println("\nPress Ctrl+C to stop")
}

// runtimeSet owns the serving runtime and the ones it replaced on reload.
// Replaced runtimes keep their background conversations running until
// shutdown.
type runtimeSet struct {
	mu      sync.Mutex
	ctx     context.Context
	current *config.Config
	obs     *observability.Manager
	srv     *server.Server
	all     []*runtime.Runtime
}

func (s *runtimeSet) init(ctx context.Context, cfg *config.Config, obs *observability.Manager, srv *server.Server, rt *runtime.Runtime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.current = cfg
	s.obs = obs
	s.srv = srv
	s.all = append(s.all, rt)
}

func (s *runtimeSet) reload(next *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return
	}

	if next.Server.Address() != s.current.Server.Address() || next.Auth.Token != s.current.Auth.Token {
		slog.Warn("Server address and auth changes apply on restart")
	}
	next.Server = s.current.Server
	next.Auth.Token = s.current.Auth.Token

	rt, err := runtime.New(s.ctx, next, runtime.WithObservability(s.obs))
	if err != nil {
		slog.Error("Reloaded config rejected; keeping current runtime", "error", err)
		return
	}
	s.srv.Swap(rt)
	s.all = append(s.all, rt)
	s.current = next
	slog.Info("Runtime swapped", "agents", len(next.Agents), "selector", next.Orchestrator.Selector.Type)
}

func (s *runtimeSet) closeAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.all {
		if err := rt.Close(ctx); err != nil {
			slog.Warn("Runtime close failed", "error", err)
		}
	}
}
