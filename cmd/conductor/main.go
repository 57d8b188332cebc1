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

// Command conductor runs a team of remote agents as one conversation.
//
// Usage:
//
//	conductor serve --config conductor.yaml
//	conductor run "sum 2 and 3" --config conductor.yaml
//	AGENTS=coder,computerterminal conductor serve
//	conductor echo-agent --name coder --port 8001
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/conductor"
	"github.com/kadirpekel/conductor/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version   VersionCmd   `cmd:"" help:"Show version information."`
	Serve     ServeCmd     `cmd:"" help:"Start the orchestrator HTTP service."`
	Run       RunCmd       `cmd:"" help:"Run one task and print the transcript."`
	Reset     ResetCmd     `cmd:"" help:"Reset every configured agent."`
	Validate  ValidateCmd  `cmd:"" help:"Validate configuration file."`
	Schema    SchemaCmd    `cmd:"" help:"Generate JSON Schema for the configuration."`
	EchoAgent EchoAgentCmd `cmd:"" name:"echo-agent" help:"Serve a stub agent that echoes the last message."`

	Config    string `short:"c" help:"Path to config file. Without it the configuration comes from the environment." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(conductor.GetVersion())
	return nil
}

// loadConfig reads the config file when one is given, else the environment.
// The loader is nil in environment mode.
func loadConfig(ctx context.Context, path string, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	if path == "" {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build config from environment: %w", err)
		}
		slog.Info("Using environment configuration", "agents", len(cfg.Agents))
		return cfg, nil, nil
	}

	cfg, loader, err := config.LoadConfigFile(ctx, path, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "path", path)
	return cfg, loader, nil
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("conductor"),
		kong.Description("Conductor - orchestrate remote agents over HTTP"),
		kong.UsageOnError(),
	)

	if err := initLogger(resolveLogSettings(cli.LogLevel, cli.LogFile, cli.LogFormat, os.LookupEnv, nil)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLogger()

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
