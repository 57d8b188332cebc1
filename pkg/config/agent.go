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
	"net/url"
	"time"

	"github.com/kadirpekel/conductor/pkg/httpclient"
)

const (
	DefaultAgentTimeout     = 30 * time.Second
	DefaultAgentMaxAttempts = 2
	DefaultAgentBaseDelay   = 200 * time.Millisecond
)

// AgentConfig describes one remote agent.
//
// Example:
//
//	agents:
//	  coder:
//	    url: http://coder:8000
//	    description: Writes Python to solve the task
//	    timeout: 30s
//	    max_attempts: 2
type AgentConfig struct {
	// URL is the agent's base URL; requests go to URL/invoke.
	URL string `yaml:"url"`

	// Description is shown to model-driven selectors.
	Description string `yaml:"description,omitempty"`

	// Timeout bounds one HTTP attempt. Default: 30s
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxAttempts is the total attempt budget for transport failures. Default: 2
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// BaseDelay is the linear backoff unit. Default: 200ms
	BaseDelay time.Duration `yaml:"base_delay,omitempty"`

	// Token overrides auth.token for this agent.
	Token string `yaml:"token,omitempty"`

	Headers map[string]string `yaml:"headers,omitempty"`

	TLS *httpclient.TLSConfig `yaml:"tls,omitempty"`
}

func (c *AgentConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultAgentTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultAgentMaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultAgentBaseDelay
	}
}

func (c *AgentConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q (expected http(s)://host[:port])", c.URL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base_delay must not be negative")
	}
	return nil
}
