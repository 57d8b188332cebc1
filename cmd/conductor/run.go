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
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/runtime"
)

// RunCmd runs one conversation in-process and prints it.
type RunCmd struct {
	Task   string            `arg:"" help:"Task for the agents, sent as the user message."`
	Option map[string]string `short:"o" help:"Option forwarded to agents on every step (key=value)."`
	JSON   bool              `help:"Print the final snapshot as JSON."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if err := cli.applyConfigLogger(&cfg.Logger); err != nil {
		return err
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Close(closeCtx)
	}()

	var opts map[string]any
	if len(c.Option) > 0 {
		opts = make(map[string]any, len(c.Option))
		for k, v := range c.Option {
			opts[k] = v
		}
	}

	snap := rt.RunTask(ctx, []protocol.Envelope{protocol.NewText(protocol.SourceUser, c.Task)}, opts)

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		printTranscript(os.Stdout, snap)
	}

	if snap.Status == orchestrator.StatusFailed {
		return fmt.Errorf("conversation failed: %s", snap.Reason)
	}
	return nil
}

func printTranscript(w io.Writer, snap orchestrator.Snapshot) {
	for _, msg := range snap.History {
		fmt.Fprintf(w, "[%s]\n%s\n\n", msg.Source, strings.TrimSpace(msg.Text()))
	}

	fmt.Fprintln(w, strings.Repeat("-", 48))
	fmt.Fprintf(w, "Status:  %s (%s)\n", snap.Status, snap.Reason)
	fmt.Fprintf(w, "Steps:   %d/%d\n", snap.StepCount, snap.MaxSteps)
	for _, step := range snap.Steps {
		line := fmt.Sprintf("  %d. %-18s %-5s %6dms", step.Index, step.Agent, step.Status, step.LatencyMS)
		if step.Attempts > 1 {
			line += fmt.Sprintf("  attempts=%d", step.Attempts)
		}
		if step.Failure != nil {
			line += "  " + step.Failure.Error()
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Total:   %dms\n", snap.Elapsed[protocol.ElapsedTotal])
	if snap.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", snap.Error)
	}
}
