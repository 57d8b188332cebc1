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

// Package orchestrator drives multi-agent conversations.
//
// A conversation starts from a seed of envelopes and advances one step at a
// time: the Selector names the next agent, the agent is invoked with the full
// history, and exactly one envelope is appended (the agent's result, or a
// diagnostic attributed to the agent when the step failed). The loop ends
// when the selector says stop, a successful reply begins with the
// completion marker, or the step ceiling is reached.
//
// Conversation state is private to a single Run call. Observers receive
// immutable snapshots at step boundaries; nothing else can see or modify a
// running conversation.
package orchestrator
