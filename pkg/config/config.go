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

// Package config defines the conductor configuration and its loading
// pipeline: parse YAML, expand environment variables, decode, apply
// defaults, validate.
//
// Example:
//
//	orchestrator:
//	  max_steps: 8
//	  selector:
//	    type: table
//	    table:
//	      user: coder
//	      coder: computerterminal
//	      computerterminal: stop
//	agents:
//	  coder:
//	    url: http://coder:8000
//	  computerterminal:
//	    url: http://computerterminal:8000
package config

import (
	"fmt"
	"sort"

	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

// Config is the root configuration.
type Config struct {
	// Name identifies this deployment in /health.
	Name string `yaml:"name,omitempty"`

	Server ServerConfig `yaml:"server,omitempty"`

	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty"`

	// Agents maps agent identity to its endpoint settings.
	Agents map[string]*AgentConfig `yaml:"agents"`

	Auth AuthConfig `yaml:"auth,omitempty"`

	Logger LoggerConfig `yaml:"logger,omitempty"`

	Observability observability.Config `yaml:"observability,omitempty"`
}

// ProcessConfigPipeline applies defaults and validates cfg.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: config cannot be nil")
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "conductor"
	}
	if c.Agents == nil {
		c.Agents = make(map[string]*AgentConfig)
	}

	c.Server.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()

	for name, agent := range c.Agents {
		if agent == nil {
			agent = &AgentConfig{}
			c.Agents[name] = agent
		}
		agent.SetDefaults()
	}

	c.Orchestrator.SetDefaults(c.AgentNames())
}

func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}

	for _, name := range c.AgentNames() {
		switch protocol.Source(name) {
		case protocol.SourceUser, protocol.SourceOrchestrator, protocol.SourceUnknown:
			return fmt.Errorf("agent name %q is reserved", name)
		}
		if name == orchestrator.StopTarget {
			return fmt.Errorf("agent name %q is reserved", name)
		}
		if err := c.Agents[name].Validate(); err != nil {
			return fmt.Errorf("agent %s: %w", name, err)
		}
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Orchestrator.Validate(c.Agents); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// AgentNames returns the configured agent names, sorted.
func (c *Config) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TokenFor returns the credential forwarded to an agent: its own token,
// else the shared one.
func (c *Config) TokenFor(name string) string {
	if a, ok := c.Agents[name]; ok && a != nil && a.Token != "" {
		return a.Token
	}
	return c.Auth.Token
}

// AuthConfig holds the opaque credential shared by the orchestrator and its
// agents. It is forwarded to agents and, when set, required by the
// orchestrator's own API.
type AuthConfig struct {
	Token string `yaml:"token,omitempty"`
}
