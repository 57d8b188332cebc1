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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/conductor/pkg/config"
)

// ValidateCmd validates a configuration file, or the environment when no
// file is given.
type ValidateCmd struct {
	File string `arg:"" optional:"" name:"config" help:"Configuration file path (defaults to --config)." placeholder:"PATH"`

	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`

	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration (with defaults applied and env vars resolved)."`
}

const envSourceName = "(environment)"

func (c *ValidateCmd) Run(cli *CLI) error {
	path := c.File
	if path == "" {
		path = cli.Config
	}
	source := path
	if source == "" {
		source = envSourceName
	}

	cfg, loader, err := loadConfig(context.Background(), path)
	if err != nil {
		return printLoadError(os.Stdout, os.Stderr, c.Format, source, err)
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.PrintConfig {
		return printExpandedConfig(os.Stdout, c.Format, source, cfg)
	}
	printSuccess(os.Stdout, c.Format, source)
	return nil
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type jsonOutput struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func printLoadError(stdout, stderr io.Writer, format, file string, err error) error {
	switch format {
	case "json":
		printJSONResult(stdout, false, file, []ValidationError{{Type: "load", Message: err.Error()}})
	case "verbose":
		fmt.Fprintf(stderr, "Configuration Load Error\n")
		fmt.Fprintf(stderr, "========================\n\n")
		fmt.Fprintf(stderr, "File:    %s\n", file)
		fmt.Fprintf(stderr, "Error:   %s\n", err.Error())
	default:
		fmt.Fprintf(stderr, "%s: load error: %s\n", file, err.Error())
	}
	return fmt.Errorf("config load failed")
}

func printSuccess(w io.Writer, format, file string) {
	switch format {
	case "json":
		printJSONResult(w, true, file, nil)
	case "verbose":
		fmt.Fprintf(w, "Configuration Validation Successful\n")
		fmt.Fprintf(w, "===================================\n\n")
		fmt.Fprintf(w, "File:   %s\n", file)
		fmt.Fprintf(w, "Status: OK Valid\n")
	default:
		fmt.Fprintf(w, "%s: valid\n", file)
	}
}

func printExpandedConfig(w io.Writer, format, file string, cfg *config.Config) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as JSON: %w", err)
		}
		return nil
	}

	fmt.Fprintf(w, "# Expanded Configuration from: %s\n", file)
	fmt.Fprintf(w, "# (defaults applied, env vars resolved)\n\n")
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config as YAML: %w", err)
	}
	return nil
}

func printJSONResult(w io.Writer, valid bool, file string, errors []ValidationError) {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(jsonOutput{Valid: valid, File: file, Errors: errors}); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}
