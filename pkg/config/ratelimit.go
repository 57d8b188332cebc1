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

// Rate limit windows.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

// RateLimitConfig caps how many conversations one client may start.
//
// Example:
//
//	server:
//	  rate_limit:
//	    enabled: true
//	    limits:
//	      - window: minute
//	        limit: 10
//	      - window: day
//	        limit: 500
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// Limits are checked together; a request must fit all of them.
	// Default when enabled: 60 per minute.
	Limits []RateLimitRule `yaml:"limits,omitempty"`
}

// RateLimitRule allows Limit conversation starts per Window.
type RateLimitRule struct {
	Window string `yaml:"window"`
	Limit  int64  `yaml:"limit"`
}

// Duration returns the window length.
func (r RateLimitRule) Duration() time.Duration {
	switch r.Window {
	case WindowMinute:
		return time.Minute
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled && len(c.Limits) == 0 {
		c.Limits = []RateLimitRule{{Window: WindowMinute, Limit: 60}}
	}
}

func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Limits) == 0 {
		return fmt.Errorf("rate_limit.limits is required when rate limiting is enabled")
	}
	seen := make(map[string]bool, len(c.Limits))
	for i, rule := range c.Limits {
		switch rule.Window {
		case WindowMinute, WindowHour, WindowDay:
		default:
			return fmt.Errorf("rate_limit.limits[%d]: invalid window %q (valid: minute, hour, day)", i, rule.Window)
		}
		if seen[rule.Window] {
			return fmt.Errorf("rate_limit.limits[%d]: duplicate window %q", i, rule.Window)
		}
		seen[rule.Window] = true
		if rule.Limit <= 0 {
			return fmt.Errorf("rate_limit.limits[%d]: limit must be positive", i)
		}
	}
	return nil
}
