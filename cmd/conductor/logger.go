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
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/logger"
)

const (
	LogFileEnvVar   = "LOG_FILE"
	LogLevelEnvVar  = "LOG_LEVEL"
	LogFormatEnvVar = "LOG_FORMAT"

	DefaultLogLevel  = "info"
	DefaultLogFormat = logger.FormatSimple
)

type logSettings struct {
	Level  string
	File   string
	Format string
}

var logCleanup func()

// resolveLogSettings picks each setting by priority:
// CLI flag > environment > config file > default.
func resolveLogSettings(cliLevel, cliFile, cliFormat string, lookup func(string) (string, bool), cfg *config.LoggerConfig) logSettings {
	if cfg == nil {
		cfg = &config.LoggerConfig{}
	}
	pick := func(flag, env, fromConfig, def string) string {
		if flag != "" {
			return flag
		}
		if v, ok := lookup(env); ok && v != "" {
			return v
		}
		if fromConfig != "" {
			return fromConfig
		}
		return def
	}
	return logSettings{
		Level:  pick(cliLevel, LogLevelEnvVar, cfg.Level, DefaultLogLevel),
		File:   pick(cliFile, LogFileEnvVar, cfg.File, ""),
		Format: pick(cliFormat, LogFormatEnvVar, cfg.Format, DefaultLogFormat),
	}
}

// initLogger installs the default logger, closing any previously opened
// log file.
func initLogger(s logSettings) error {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var (
		output  io.Writer = os.Stderr
		cleanup func()
	)
	if s.File != "" {
		file, closeFn, err := logger.OpenLogFile(s.File)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = closeFn
	}

	logger.Init(level, output, s.Format)

	closeLogger()
	logCleanup = cleanup
	return nil
}

// applyConfigLogger re-initializes the logger once a config file is loaded,
// so its logger section fills whatever flags and environment left unset.
func (cli *CLI) applyConfigLogger(cfg *config.LoggerConfig) error {
	return initLogger(resolveLogSettings(cli.LogLevel, cli.LogFile, cli.LogFormat, os.LookupEnv, cfg))
}

func closeLogger() {
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
}
