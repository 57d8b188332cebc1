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
	"fmt"
	"sort"
	"time"

	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

// Selector types.
const (
	SelectorSequence = "sequence"
	SelectorTable    = "table"
	SelectorFixed    = "fixed"
	SelectorModel    = "model"
)

const (
	DefaultResetTimeout  = 5 * time.Second
	DefaultRetention     = 100
	DefaultOllamaHost    = "http://localhost:11434"
	DefaultOllamaModel   = "gpt-oss:20b"
	DefaultOllamaTimeout = 60 * time.Second
)

// wellKnownOrder is the default route when none is configured.
var wellKnownOrder = []protocol.Source{
	protocol.SourceWebSurfer,
	protocol.SourceFileSurfer,
	protocol.SourceCoder,
	protocol.SourceComputerTerminal,
}

// OrchestratorConfig configures the step loop.
type OrchestratorConfig struct {
	// MaxSteps is the step ceiling per conversation. Default: 8
	MaxSteps int `yaml:"max_steps,omitempty"`

	// StepTimeout bounds one step including retries. Default: the selected
	// agent's timeout * max_attempts plus its backoff sleeps
	StepTimeout time.Duration `yaml:"step_timeout,omitempty"`

	// FailurePolicy is "continue" (default) or "fail_fast".
	FailurePolicy string `yaml:"failure_policy,omitempty"`

	// CompletionMarker ends a conversation when a reply starts with it.
	// Default: [DONE]. Set to an empty string to disable.
	CompletionMarker *string `yaml:"completion_marker,omitempty"`

	Selector SelectorConfig `yaml:"selector,omitempty"`

	Reset ResetConfig `yaml:"reset,omitempty"`

	// Options are forwarded to agents on every act call.
	Options map[string]any `yaml:"options,omitempty"`

	// Retention caps how many finished conversations stay queryable.
	// Default: 100
	Retention int `yaml:"retention,omitempty"`
}

// SelectorConfig chooses and configures the next-agent strategy.
//
// Examples:
//
//	selector:
//	  type: sequence
//	  route: [coder, computerterminal]
//
//	selector:
//	  type: model
//	  model:
//	    host: http://ollama:11434
//	    model: gpt-oss:20b
//	    fallback: coder
type SelectorConfig struct {
	// Type is sequence, table, fixed or model. Default: sequence
	Type string `yaml:"type,omitempty"`

	// Route is the agent order for the sequence selector. Default: the
	// well-known agents in websurfer, filesurfer, coder, computerterminal
	// order, then the rest by name.
	Route []string `yaml:"route,omitempty"`

	// Cycle restarts the route instead of stopping at its end.
	Cycle bool `yaml:"cycle,omitempty"`

	// Table maps the source of the latest message to the next agent or
	// "stop".
	Table map[string]string `yaml:"table,omitempty"`

	// Default is the table selector's fallback target. Default: stop
	Default string `yaml:"default,omitempty"`

	// Agent is the fixed selector's target.
	Agent string `yaml:"agent,omitempty"`

	Model ModelConfig `yaml:"model,omitempty"`
}

// ModelConfig configures the Ollama-backed selector.
type ModelConfig struct {
	Host    string        `yaml:"host,omitempty"`
	Model   string        `yaml:"model,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Fallback is used when the model errors or names no known agent.
	Fallback string `yaml:"fallback,omitempty"`

	// MaxMessageChars truncates each transcript entry in the prompt.
	MaxMessageChars int `yaml:"max_message_chars,omitempty"`
}

// ResetConfig configures the agent reset controller.
type ResetConfig struct {
	// BeforeTask resets every agent before each new conversation.
	BeforeTask bool `yaml:"before_task,omitempty"`

	// Timeout bounds each agent's reset call. Default: 5s
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

func (c *OrchestratorConfig) SetDefaults(agents []string) {
	if c.MaxSteps == 0 {
		c.MaxSteps = orchestrator.DefaultMaxSteps
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = string(orchestrator.FailurePolicyContinue)
	}
	if c.CompletionMarker == nil {
		marker := orchestrator.DefaultCompletionMarker
		c.CompletionMarker = &marker
	}
	if c.Reset.Timeout == 0 {
		c.Reset.Timeout = DefaultResetTimeout
	}
	if c.Retention == 0 {
		c.Retention = DefaultRetention
	}
	c.Selector.SetDefaults(agents)
}

// Marker returns the effective completion marker.
func (c *OrchestratorConfig) Marker() string {
	if c.CompletionMarker == nil {
		return orchestrator.DefaultCompletionMarker
	}
	return *c.CompletionMarker
}

// EngineConfig converts to the engine's configuration.
func (c *OrchestratorConfig) EngineConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxSteps:         c.MaxSteps,
		StepTimeout:      c.StepTimeout,
		FailurePolicy:    orchestrator.FailurePolicy(c.FailurePolicy),
		CompletionMarker: c.Marker(),
		Options:          c.Options,
	}
}

func (c *OrchestratorConfig) Validate(agents map[string]*AgentConfig) error {
	engineCfg := c.EngineConfig()
	if err := engineCfg.Validate(); err != nil {
		return err
	}
	if c.Reset.Timeout < 0 {
		return fmt.Errorf("reset.timeout must not be negative")
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	if err := c.Selector.Validate(agents); err != nil {
		return fmt.Errorf("selector: %w", err)
	}
	return nil
}

func (c *SelectorConfig) SetDefaults(agents []string) {
	if c.Type == "" {
		switch {
		case len(c.Table) > 0:
			c.Type = SelectorTable
		case c.Agent != "":
			c.Type = SelectorFixed
		case c.Model.Model != "" || c.Model.Host != "":
			c.Type = SelectorModel
		default:
			c.Type = SelectorSequence
		}
	}

	switch c.Type {
	case SelectorSequence:
		if len(c.Route) == 0 {
			c.Route = DefaultRoute(agents)
		}
	case SelectorTable:
		if c.Default == "" {
			c.Default = orchestrator.StopTarget
		}
	case SelectorModel:
		if c.Model.Host == "" {
			c.Model.Host = DefaultOllamaHost
		}
		if c.Model.Model == "" {
			c.Model.Model = DefaultOllamaModel
		}
		if c.Model.Timeout == 0 {
			c.Model.Timeout = DefaultOllamaTimeout
		}
	}
}

func (c *SelectorConfig) Validate(agents map[string]*AgentConfig) error {
	known := func(name string) bool {
		_, ok := agents[name]
		return ok
	}
	target := func(field, name string) error {
		if name == orchestrator.StopTarget || known(name) {
			return nil
		}
		return fmt.Errorf("%s: unknown agent %q", field, name)
	}

	switch c.Type {
	case SelectorSequence:
		if len(c.Route) == 0 {
			return fmt.Errorf("sequence selector requires a route")
		}
		for _, name := range c.Route {
			if !known(name) {
				return fmt.Errorf("route: unknown agent %q", name)
			}
		}
	case SelectorTable:
		if len(c.Table) == 0 {
			return fmt.Errorf("table selector requires a table")
		}
		for from, to := range c.Table {
			switch protocol.Source(from) {
			case protocol.SourceUser, protocol.SourceOrchestrator, protocol.SourceUnknown:
			default:
				if !known(from) {
					return fmt.Errorf("table: unknown source %q", from)
				}
			}
			if err := target("table."+from, to); err != nil {
				return err
			}
		}
		if err := target("default", c.Default); err != nil {
			return err
		}
	case SelectorFixed:
		if !known(c.Agent) {
			return fmt.Errorf("fixed selector: unknown agent %q", c.Agent)
		}
	case SelectorModel:
		if c.Model.Fallback != "" {
			if err := target("model.fallback", c.Model.Fallback); err != nil {
				return err
			}
		}
		if c.Model.Timeout < 0 {
			return fmt.Errorf("model.timeout must not be negative")
		}
	default:
		return fmt.Errorf("invalid type %q (valid: sequence, table, fixed, model)", c.Type)
	}
	return nil
}

// DefaultRoute orders agents with the well-known identities first.
func DefaultRoute(agents []string) []string {
	present := make(map[string]bool, len(agents))
	for _, a := range agents {
		present[a] = true
	}

	route := make([]string, 0, len(agents))
	for _, s := range wellKnownOrder {
		if present[string(s)] {
			route = append(route, string(s))
			delete(present, string(s))
		}
	}
	rest := make([]string, 0, len(present))
	for a := range present {
		rest = append(rest, a)
	}
	sort.Strings(rest)
	return append(route, rest...)
}
