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

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kadirpekel/conductor/pkg/config/provider"
)

const sampleYAML = `
name: demo
server:
  port: 9000
orchestrator:
  max_steps: 5
  step_timeout: 45s
  selector:
    table:
      user: coder
      coder: computerterminal
      computerterminal: stop
agents:
  coder:
    url: http://coder:8000
    description: Writes Python
    timeout: 10s
  computerterminal:
    url: ${TERMINAL_URL:-http://computerterminal:8000}
    token: $TERMINAL_TOKEN
auth:
  token: shared
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoaderLoad(t *testing.T) {
	t.Setenv("TERMINAL_TOKEN", "term-secret")

	cfg, loader, err := LoadConfigFile(context.Background(), writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.Name != "demo" {
		t.Errorf("expected name demo, got %s", cfg.Name)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxSteps != 5 {
		t.Errorf("expected max_steps 5, got %d", cfg.Orchestrator.MaxSteps)
	}
	if cfg.Orchestrator.StepTimeout != 45*time.Second {
		t.Errorf("expected step_timeout 45s, got %s", cfg.Orchestrator.StepTimeout)
	}
	if cfg.Orchestrator.Selector.Type != SelectorTable {
		t.Errorf("expected table selector, got %s", cfg.Orchestrator.Selector.Type)
	}
	if cfg.Orchestrator.Selector.Default != "stop" {
		t.Errorf("expected default stop, got %s", cfg.Orchestrator.Selector.Default)
	}

	coder := cfg.Agents["coder"]
	if coder.Timeout != 10*time.Second || coder.MaxAttempts != DefaultAgentMaxAttempts {
		t.Errorf("unexpected coder settings: %+v", coder)
	}
	term := cfg.Agents["computerterminal"]
	if term.URL != "http://computerterminal:8000" {
		t.Errorf("expected default-expanded url, got %s", term.URL)
	}
	if got := cfg.TokenFor("computerterminal"); got != "term-secret" {
		t.Errorf("expected agent token, got %q", got)
	}
	if got := cfg.TokenFor("coder"); got != "shared" {
		t.Errorf("expected shared token, got %q", got)
	}
}

func TestLoaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"no_agents", "name: x\n", "at least one agent"},
		{"bad_yaml", "agents: [unclosed\n", "failed to parse"},
		{"bad_url", "agents:\n  coder:\n    url: coder:8000\n", "invalid url"},
		{"reserved_name", "agents:\n  user:\n    url: http://u:1\n", "reserved"},
		{"unknown_route", "orchestrator:\n  selector:\n    route: [coder, ghost]\nagents:\n  coder:\n    url: http://c:1\n", "unknown agent \"ghost\""},
		{"bad_policy", "orchestrator:\n  failure_policy: retry\nagents:\n  coder:\n    url: http://c:1\n", "failure_policy"},
		{"bad_selector", "orchestrator:\n  selector:\n    type: random\nagents:\n  coder:\n    url: http://c:1\n", "invalid type"},
		{"bad_log_level", "logger:\n  level: loud\nagents:\n  coder:\n    url: http://c:1\n", "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoaderFileNotFound(t *testing.T) {
	loader := NewLoader(mustFileProvider(t, "/nonexistent/conductor.yaml"))
	if _, err := loader.Load(context.Background()); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func mustFileProvider(t *testing.T, path string) provider.Provider {
	t.Helper()
	p, err := provider.NewFileProvider(path)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return p
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"agents": {"coder": {"url": "http://coder:8000"}}}`))
	if err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if got := cfg.Orchestrator.Selector.Route; len(got) != 1 || got[0] != "coder" {
		t.Errorf("expected default route [coder], got %v", got)
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	path := writeConfig(t, "agents:\n  coder:\n    url: http://coder:8000\n")
	p, err := provider.NewFileProvider(path, provider.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	reloaded := make(chan *Config, 4)
	loader := NewLoader(p, WithOnChange(func(c *Config) { reloaded <- c }))
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loader.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("orchestrator:\n  max_steps: 3\nagents:\n  coder:\n    url: http://coder:8000\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Orchestrator.MaxSteps != 3 {
			t.Errorf("expected reloaded max_steps 3, got %d", cfg.Orchestrator.MaxSteps)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	<-done
}

func TestStaticProviderDoesNotWatch(t *testing.T) {
	cfg, loader, err := LoadConfig(context.Background(), provider.ProviderConfig{
		Type: provider.TypeStatic,
		Data: []byte("agents:\n  coder:\n    url: http://coder:8000\n"),
	})
	if err != nil {
		t.Fatalf("failed to load static config: %v", err)
	}
	if len(cfg.Agents) != 1 {
		t.Errorf("expected 1 agent, got %d", len(cfg.Agents))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := loader.Watch(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected watch to block until deadline, got %v", err)
	}
}

func TestDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.yaml")
	if err := os.WriteFile(path, []byte("agents:\n  coder:\n    url: ${CODER_URL_FROM_DOTENV}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CODER_URL_FROM_DOTENV=http://dotenv-coder:8000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CODER_URL_FROM_DOTENV") })

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if got := cfg.Agents["coder"].URL; got != "http://dotenv-coder:8000" {
		t.Errorf("expected url from .env, got %s", got)
	}
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_SET", "value")

	tests := []struct {
		in, want string
	}{
		{"${CONDUCTOR_TEST_SET}", "value"},
		{"$CONDUCTOR_TEST_SET", "value"},
		{"${CONDUCTOR_TEST_UNSET:-fallback}", "fallback"},
		{"${CONDUCTOR_TEST_SET:-fallback}", "value"},
		{"prefix-${CONDUCTOR_TEST_UNSET}-suffix", "prefix--suffix"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := expandEnvString(tt.in); got != tt.want {
			t.Errorf("expandEnvString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
