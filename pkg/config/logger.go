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

import "fmt"

// LoggerConfig configures logging behavior.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-file, --log-format)
//  2. Environment variables (LOG_LEVEL, LOG_FILE, LOG_FORMAT)
//  3. Config file (logger section)
//  4. Defaults (info level, simple format, stderr)
//
// Example:
//
//	logger:
//	  level: debug
//	  file: conductor.log
//	  format: json
type LoggerConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty"`

	// File is the log file path. Empty logs to stderr.
	File string `yaml:"file,omitempty"`

	// Format is simple, verbose or json. Default: simple
	Format string `yaml:"format,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggerConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "", "simple", "verbose", "json":
	default:
		return fmt.Errorf("invalid log format %q (valid: simple, verbose, json)", c.Format)
	}
	return nil
}
