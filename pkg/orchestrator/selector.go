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

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

// StopTarget is the routing target that ends a conversation.
const StopTarget = "stop"

// Decision is a selector's answer: the next agent, or stop.
type Decision struct {
	Agent protocol.Source
	Stop  bool
}

var Stop = Decision{Stop: true}

func Next(agent protocol.Source) Decision {
	return Decision{Agent: agent}
}

// ParseDecision maps a routing target onto a Decision.
func ParseDecision(target string) Decision {
	target = strings.TrimSpace(target)
	if target == "" || strings.EqualFold(target, StopTarget) {
		return Stop
	}
	return Next(protocol.Source(target))
}

func (d Decision) String() string {
	if d.Stop {
		return StopTarget
	}
	return string(d.Agent)
}

// Selector picks the next participant from the conversation so far.
// Implementations must be safe for concurrent use and must not retain or
// modify the history slice.
type Selector interface {
	SelectNext(ctx context.Context, history []protocol.Envelope) (Decision, error)
}

type SelectorFunc func(ctx context.Context, history []protocol.Envelope) (Decision, error)

func (f SelectorFunc) SelectNext(ctx context.Context, history []protocol.Envelope) (Decision, error) {
	return f(ctx, history)
}

// FixedSelector always picks the same agent.
type FixedSelector struct {
	Agent protocol.Source
}

func (s FixedSelector) SelectNext(context.Context, []protocol.Envelope) (Decision, error) {
	return Next(s.Agent), nil
}

// SequenceSelector walks a fixed route. Its position is the number of
// agent-authored envelopes in the history, so it keeps no state of its own.
type SequenceSelector struct {
	Route []protocol.Source
	// Cycle restarts the route instead of stopping at its end.
	Cycle bool
}

func NewSequenceSelector(route []protocol.Source, cycle bool) (*SequenceSelector, error) {
	if len(route) == 0 {
		return nil, fmt.Errorf("sequence selector requires at least one agent")
	}
	return &SequenceSelector{Route: append([]protocol.Source(nil), route...), Cycle: cycle}, nil
}

func (s *SequenceSelector) SelectNext(_ context.Context, history []protocol.Envelope) (Decision, error) {
	if len(s.Route) == 0 {
		return Stop, nil
	}
	pos := agentTurns(history)
	if pos >= len(s.Route) {
		if !s.Cycle {
			return Stop, nil
		}
		pos %= len(s.Route)
	}
	return Next(s.Route[pos]), nil
}

func agentTurns(history []protocol.Envelope) int {
	n := 0
	for _, env := range history {
		if env.Source != protocol.SourceUser && env.Source != protocol.SourceOrchestrator {
			n++
		}
	}
	return n
}

// TableSelector routes on the source of the most recent envelope.
type TableSelector struct {
	Routes  map[protocol.Source]Decision
	Default Decision
}

// NewTableSelector builds a routing table from source -> target strings.
// A target of "stop" ends the conversation.
func NewTableSelector(routes map[string]string, fallback string) *TableSelector {
	table := make(map[protocol.Source]Decision, len(routes))
	for from, to := range routes {
		table[protocol.Source(from)] = ParseDecision(to)
	}
	return &TableSelector{Routes: table, Default: ParseDecision(fallback)}
}

func (s *TableSelector) SelectNext(_ context.Context, history []protocol.Envelope) (Decision, error) {
	if len(history) == 0 {
		return s.Default, nil
	}
	last := history[len(history)-1].Source
	if d, ok := s.Routes[last]; ok {
		return d, nil
	}
	return s.Default, nil
}

// Targets lists every agent the selector can route to.
func (s *TableSelector) Targets() []protocol.Source {
	var out []protocol.Source
	seen := map[protocol.Source]bool{}
	add := func(d Decision) {
		if !d.Stop && !seen[d.Agent] {
			seen[d.Agent] = true
			out = append(out, d.Agent)
		}
	}
	for _, d := range s.Routes {
		add(d)
	}
	add(s.Default)
	return out
}
