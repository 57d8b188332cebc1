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
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Agents) != 4 {
		t.Fatalf("expected 4 agents, got %d", len(cfg.Agents))
	}
	if got := cfg.Agents["filesurfer"].URL; got != "http://filesurfer:8000" {
		t.Errorf("expected default filesurfer url, got %s", got)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxSteps != 8 {
		t.Errorf("expected 8 steps, got %d", cfg.Orchestrator.MaxSteps)
	}
	if cfg.Orchestrator.Selector.Type != SelectorSequence {
		t.Errorf("expected sequence selector, got %s", cfg.Orchestrator.Selector.Type)
	}
	want := []string{"websurfer", "filesurfer", "coder", "computerterminal"}
	if got := strings.Join(cfg.Orchestrator.Selector.Route, ","); got != strings.Join(want, ",") {
		t.Errorf("expected route %v, got %s", want, got)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(map[string]string{
		"AGENTS":          "coder, computerterminal",
		"URL_CODER":       "http://localhost:8101",
		"REQUEST_TIMEOUT": "12.5",
		"RETRIES":         "2",
		"MAX_STEPS":       "3",
		"AUTH_TOKEN":      "secret",
		"PORT":            "9100",
		"OLLAMA_HOST":     "http://ollama:11434",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %v", cfg.AgentNames())
	}
	coder := cfg.Agents["coder"]
	if coder.URL != "http://localhost:8101" {
		t.Errorf("expected overridden url, got %s", coder.URL)
	}
	if coder.Timeout != 12500*time.Millisecond {
		t.Errorf("expected 12.5s timeout, got %s", coder.Timeout)
	}
	if coder.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", coder.MaxAttempts)
	}
	if cfg.Agents["computerterminal"].URL != "http://computerterminal:8000" {
		t.Errorf("unexpected terminal url %s", cfg.Agents["computerterminal"].URL)
	}
	if cfg.Orchestrator.MaxSteps != 3 || cfg.Server.Port != 9100 {
		t.Errorf("unexpected limits: steps=%d port=%d", cfg.Orchestrator.MaxSteps, cfg.Server.Port)
	}
	if cfg.TokenFor("coder") != "secret" {
		t.Errorf("expected shared token")
	}

	sel := cfg.Orchestrator.Selector
	if sel.Type != SelectorModel {
		t.Fatalf("expected model selector, got %s", sel.Type)
	}
	if sel.Model.Host != "http://ollama:11434" || sel.Model.Model != DefaultOllamaModel {
		t.Errorf("unexpected model settings: %+v", sel.Model)
	}
}

func TestFromEnvRetriesZeroMeansSingleAttempt(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(map[string]string{"RETRIES": "0", "AGENTS": "coder"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Agents["coder"].MaxAttempts; got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestFromEnvInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"timeout":   {"REQUEST_TIMEOUT": "soon"},
		"negative":  {"REQUEST_TIMEOUT": "-1"},
		"retries":   {"RETRIES": "-1"},
		"max_steps": {"MAX_STEPS": "0"},
		"port":      {"PORT": "http"},
		"selector":  {"SELECTOR": "dice"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := fromLookup(lookupFrom(env)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDefaultRoute(t *testing.T) {
	got := DefaultRoute([]string{"zeta", "coder", "alpha", "websurfer"})
	want := "websurfer,coder,alpha,zeta"
	if strings.Join(got, ",") != want {
		t.Errorf("expected %s, got %v", want, got)
	}
}

func TestCompletionMarker(t *testing.T) {
	cfg, err := Parse([]byte("agents:\n  coder:\n    url: http://c:1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Orchestrator.Marker() != "[DONE]" {
		t.Errorf("expected default marker, got %q", cfg.Orchestrator.Marker())
	}

	cfg, err = Parse([]byte("orchestrator:\n  completion_marker: \"\"\nagents:\n  coder:\n    url: http://c:1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Orchestrator.Marker() != "" {
		t.Errorf("expected disabled marker, got %q", cfg.Orchestrator.Marker())
	}
	if ec := cfg.Orchestrator.EngineConfig(); ec.CompletionMarker != "" {
		t.Errorf("expected engine marker disabled, got %q", ec.CompletionMarker)
	}
}

func TestSelectorDefaults(t *testing.T) {
	tests := []struct {
		name string
		sel  SelectorConfig
		want string
	}{
		{"empty", SelectorConfig{}, SelectorSequence},
		{"table", SelectorConfig{Table: map[string]string{"user": "coder"}}, SelectorTable},
		{"fixed", SelectorConfig{Agent: "coder"}, SelectorFixed},
		{"model", SelectorConfig{Model: ModelConfig{Model: "llama3"}}, SelectorModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := tt.sel
			sel.SetDefaults([]string{"coder"})
			if sel.Type != tt.want {
				t.Errorf("expected %s, got %s", tt.want, sel.Type)
			}
			if err := sel.Validate(map[string]*AgentConfig{"coder": {}}); err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSchemaUsesYAMLNames(t *testing.T) {
	data, err := json.Marshal(Schema())
	if err != nil {
		t.Fatalf("failed to marshal schema: %v", err)
	}
	for _, key := range []string{"max_steps", "completion_marker", "max_attempts", "failure_policy"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("schema missing %s", key)
		}
	}
}
