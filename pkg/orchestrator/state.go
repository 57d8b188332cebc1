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
	"time"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Reason explains why a conversation left the running state.
type Reason string

const (
	ReasonStopped         Reason = "stopped"
	ReasonCompleted       Reason = "completed"
	ReasonMaxSteps        Reason = "max_steps"
	ReasonStepFailed      Reason = "step_failed"
	ReasonCanceled        Reason = "canceled"
	ReasonSelectionFailed Reason = "selection_failed"
	ReasonInvalidSeed     Reason = "invalid_seed"
)

// StepRecord summarises one completed step.
type StepRecord struct {
	Index     int               `json:"index"`
	Agent     protocol.Source   `json:"agent"`
	Status    protocol.Status   `json:"status"`
	Attempts  int               `json:"attempts,omitempty"`
	LatencyMS int64             `json:"latency_ms"`
	Failure   *protocol.Failure `json:"failure,omitempty"`
}

// Snapshot is an immutable copy of a conversation taken at a step boundary.
// The final snapshot of a run is its result.
type Snapshot struct {
	ID        string              `json:"id"`
	Status    Status              `json:"status"`
	Reason    Reason              `json:"reason,omitempty"`
	StepCount int                 `json:"step_count"`
	MaxSteps  int                 `json:"max_steps"`
	History   []protocol.Envelope `json:"history"`
	Steps     []StepRecord        `json:"steps"`
	Error     string              `json:"error,omitempty"`
	StartedAt time.Time           `json:"started_at"`
	Elapsed   protocol.Elapsed    `json:"elapsed"`
}

// Terminal reports whether the conversation has finished.
func (s Snapshot) Terminal() bool {
	return s.Status == StatusDone || s.Status == StatusFailed
}

// Last returns the most recent envelope.
func (s Snapshot) Last() (protocol.Envelope, bool) {
	if len(s.History) == 0 {
		return protocol.Envelope{}, false
	}
	return s.History[len(s.History)-1], true
}

// state is owned by exactly one Run call and never shared.
type state struct {
	id        string
	maxSteps  int
	history   []protocol.Envelope
	steps     []StepRecord
	stepCount int
	status    Status
	reason    Reason
	err       string
	started   time.Time
}

func newState(id string, maxSteps int, seed []protocol.Envelope) *state {
	return &state{
		id:       id,
		maxSteps: maxSteps,
		history:  protocol.CloneHistory(seed),
		status:   StatusRunning,
		started:  time.Now(),
	}
}

func (s *state) running() bool {
	return s.status == StatusRunning
}

// appendStep records one step and its single envelope.
func (s *state) appendStep(env protocol.Envelope, rec StepRecord) {
	s.history = append(s.history, env)
	s.stepCount++
	rec.Index = s.stepCount
	s.steps = append(s.steps, rec)
}

func (s *state) finish(status Status, reason Reason, err error) {
	if !s.running() {
		return
	}
	s.status = status
	s.reason = reason
	if err != nil {
		s.err = err.Error()
	}
}

func (s *state) snapshot() Snapshot {
	steps := make([]StepRecord, len(s.steps))
	for i, rec := range s.steps {
		if rec.Failure != nil {
			f := *rec.Failure
			rec.Failure = &f
		}
		steps[i] = rec
	}

	elapsed := protocol.Elapsed{}
	elapsed.Set(protocol.ElapsedTotal, time.Since(s.started))

	history := protocol.CloneHistory(s.history)
	if history == nil {
		history = []protocol.Envelope{}
	}

	return Snapshot{
		ID:        s.id,
		Status:    s.status,
		Reason:    s.reason,
		StepCount: s.stepCount,
		MaxSteps:  s.maxSteps,
		History:   history,
		Steps:     steps,
		Error:     s.err,
		StartedAt: s.started,
		Elapsed:   elapsed,
	}
}
