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
	"fmt"
	"time"

	"github.com/kadirpekel/conductor/pkg/runtime"
)

// ResetCmd asks every configured agent to clear its session state.
type ResetCmd struct{}

func (c *ResetCmd) Run(cli *CLI) error {
	ctx := context.Background()

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

	failed := 0
	for _, o := range rt.Reset(ctx) {
		switch {
		case o.Unsupported:
			fmt.Printf("  %-18s ok (no reset support)\n", o.Agent)
		case o.OK:
			fmt.Printf("  %-18s ok %dms\n", o.Agent, o.LatencyMS)
		default:
			failed++
			fmt.Printf("  %-18s FAILED %s\n", o.Agent, o.Error)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d agent(s) failed to reset", failed)
	}
	return nil
}
