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

package protocol

import "sort"

// Source identifies the author of an envelope.
type Source string

const (
	SourceUser         Source = "user"
	SourceOrchestrator Source = "orchestrator"
	SourceUnknown      Source = "unknown"

	SourceWebSurfer        Source = "websurfer"
	SourceFileSurfer       Source = "filesurfer"
	SourceCoder            Source = "coder"
	SourceComputerTerminal Source = "computerterminal"
)

// Participants is the closed set of identities allowed in a conversation:
// the built-in user and orchestrator plus every registered agent.
// It is immutable once built.
type Participants struct {
	set map[Source]struct{}
}

// NewParticipants builds the participant set for the given agents.
func NewParticipants(agents ...Source) Participants {
	set := map[Source]struct{}{
		SourceUser:         {},
		SourceOrchestrator: {},
	}
	for _, a := range agents {
		if a == "" || a == SourceUnknown {
			continue
		}
		set[a] = struct{}{}
	}
	return Participants{set: set}
}

func (p Participants) Contains(s Source) bool {
	_, ok := p.set[s]
	return ok
}

// Normalize maps identities outside the set onto SourceUnknown.
func (p Participants) Normalize(s Source) Source {
	if p.Contains(s) {
		return s
	}
	return SourceUnknown
}

// Agents lists the non-built-in participants in sorted order.
func (p Participants) Agents() []Source {
	out := make([]Source, 0, len(p.set))
	for s := range p.set {
		if s == SourceUser || s == SourceOrchestrator {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
