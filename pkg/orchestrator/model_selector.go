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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

var ErrUnparseableChoice = errors.New("model reply does not name a known agent")

// Completer is a chat model answering a system prompt plus a user prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// AgentInfo describes a selectable agent to the model.
type AgentInfo struct {
	Name        protocol.Source
	Description string
}

// ModelSelector asks a chat model which agent should act next. The model
// is expected to answer {"next": "<agent>"} or {"next": "stop"}.
type ModelSelector struct {
	model           Completer
	agents          []AgentInfo
	known           map[string]protocol.Source
	fallback        *Decision
	maxMessageChars int
	logger          *slog.Logger
}

type ModelSelectorOption func(*ModelSelector)

// WithFallback is used when the model errors or names no known agent.
func WithFallback(d Decision) ModelSelectorOption {
	return func(s *ModelSelector) {
		s.fallback = &d
	}
}

// WithMaxMessageChars truncates each transcript entry in the prompt.
func WithMaxMessageChars(n int) ModelSelectorOption {
	return func(s *ModelSelector) {
		s.maxMessageChars = n
	}
}

func WithSelectorLogger(logger *slog.Logger) ModelSelectorOption {
	return func(s *ModelSelector) {
		s.logger = logger
	}
}

func NewModelSelector(model Completer, agents []AgentInfo, opts ...ModelSelectorOption) (*ModelSelector, error) {
	if model == nil {
		return nil, fmt.Errorf("model selector requires a model")
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("model selector requires at least one agent")
	}
	s := &ModelSelector{
		model:           model,
		agents:          append([]AgentInfo(nil), agents...),
		known:           make(map[string]protocol.Source, len(agents)),
		maxMessageChars: 2000,
		logger:          slog.Default(),
	}
	for _, a := range agents {
		s.known[strings.ToLower(string(a.Name))] = a.Name
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ModelSelector) SelectNext(ctx context.Context, history []protocol.Envelope) (Decision, error) {
	reply, err := s.model.Complete(ctx, s.systemPrompt(), s.transcript(history))
	if err != nil {
		if s.fallback != nil && ctx.Err() == nil {
			s.logger.Warn("Model selection failed, using fallback", "fallback", s.fallback.String(), "error", err)
			return *s.fallback, nil
		}
		return Decision{}, fmt.Errorf("model selection failed: %w", err)
	}

	d, err := s.parse(reply)
	if err != nil {
		if s.fallback != nil {
			s.logger.Warn("Model named no known agent, using fallback", "reply", reply, "fallback", s.fallback.String())
			return *s.fallback, nil
		}
		return Decision{}, err
	}
	s.logger.Debug("Model selected next participant", "next", d.String())
	return d, nil
}

// Ready checks the backing model when it can be probed.
func (s *ModelSelector) Ready(ctx context.Context) error {
	if p, ok := s.model.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *ModelSelector) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You coordinate a team of agents working on the user's task.\n")
	b.WriteString("Pick the agent that should act next, or stop when the task is complete.\n\n")
	b.WriteString("Agents:\n")
	for _, a := range s.agents {
		b.WriteString("- ")
		b.WriteString(string(a.Name))
		if a.Description != "" {
			b.WriteString(": ")
			b.WriteString(a.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAnswer with JSON only: {\"next\": \"<agent name>\"} or {\"next\": \"stop\"}.")
	return b.String()
}

func (s *ModelSelector) transcript(history []protocol.Envelope) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, env := range history {
		text := truncate(env.Text(), s.maxMessageChars)
		fmt.Fprintf(&b, "[%s] %s\n", env.Source, text)
	}
	b.WriteString("\nWho acts next?")
	return b.String()
}

// truncate keeps the first limit runes of text.
func truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i] + "..."
		}
		n++
	}
	return text
}

func (s *ModelSelector) parse(reply string) (Decision, error) {
	candidate := strings.TrimSpace(reply)

	if i, j := strings.Index(candidate, "{"), strings.LastIndex(candidate, "}"); i >= 0 && j > i {
		var choice struct {
			Next string `json:"next"`
		}
		if err := json.Unmarshal([]byte(candidate[i:j+1]), &choice); err == nil {
			candidate = choice.Next
		}
	}

	candidate = strings.ToLower(strings.Trim(strings.TrimSpace(candidate), `"'.`))
	if candidate == StopTarget {
		return Stop, nil
	}
	if name, ok := s.known[candidate]; ok {
		return Next(name), nil
	}
	return Decision{}, fmt.Errorf("%w: %q", ErrUnparseableChoice, reply)
}
