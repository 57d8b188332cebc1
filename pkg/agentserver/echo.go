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

package agentserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

// Echo is a stateful test agent. It repeats the latest message and counts
// turns since its last reset. After FinishAfter turns it prefixes its reply
// with Marker. Used by the echo-agent command and in tests.
type Echo struct {
	Name        protocol.Source
	Marker      string
	FinishAfter int

	mu    sync.Mutex
	turns int
}

func (e *Echo) Act(_ context.Context, messages []protocol.Envelope, _ map[string]any) (Result, error) {
	e.mu.Lock()
	e.turns++
	turn := e.turns
	e.mu.Unlock()

	last := ""
	if n := len(messages); n > 0 {
		last = messages[n-1].Text()
	}
	text := fmt.Sprintf("%s (turn %d): %s", e.Name, turn, last)
	if e.FinishAfter > 0 && turn >= e.FinishAfter && e.Marker != "" {
		text = e.Marker + " " + text
	}
	return Result{Text: text}, nil
}

func (e *Echo) Reset(context.Context) error {
	e.mu.Lock()
	e.turns = 0
	e.mu.Unlock()
	return nil
}

func (e *Echo) Turns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turns
}
