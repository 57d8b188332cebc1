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
	"time"
)

const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8000
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

// ServerConfig configures the orchestrator's HTTP service.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`

	// Port to listen on. Default: 8000
	Port int `yaml:"port,omitempty"`

	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`

	// WriteTimeout must cover a whole synchronous conversation on /invoke.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// RateLimit caps conversation starts per client on /invoke and
	// /conversations.
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	c.RateLimit.SetDefaults()
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return c.RateLimit.Validate()
}

// Address returns host:port.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
