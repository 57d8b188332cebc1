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
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/conductor/pkg/agentserver"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

// EchoAgentCmd serves a stub agent speaking the invocation contract. It is
// meant for local wiring tests.
type EchoAgentCmd struct {
	Name        string `default:"coder" help:"Agent identity stamped on replies."`
	Host        string `default:"0.0.0.0" help:"Host to bind."`
	Port        int    `default:"8000" help:"Port to listen on."`
	Marker      string `default:"[DONE]" help:"Completion marker prepended once finish-after is reached."`
	FinishAfter int    `name:"finish-after" help:"Prepend the marker from this turn on (0 = never)."`
	Token       string `env:"AUTH_TOKEN" help:"Bearer token required on /invoke."`
}

func (c *EchoAgentCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := protocol.Source(c.Name)
	srv, err := agentserver.New(agentserver.Config{
		Name:        name,
		Description: "Echoes the latest message",
		Token:       c.Token,
		Info:        map[string]any{"finish_after": c.FinishAfter},
	}, &agentserver.Echo{
		Name:        name,
		Marker:      c.Marker,
		FinishAfter: c.FinishAfter,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return srv.Start(ctx, fmt.Sprintf("%s:%d", c.Host, c.Port))
}
