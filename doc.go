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

// Package conductor runs a fixed team of remote agents as one conversation.
//
// A conversation starts from a seed of user messages. On every step a
// selector picks the next agent, the agent is called over HTTP with the
// whole history, and its reply is appended. The loop ends when the selector
// says stop, a reply starts with the completion marker, or the step ceiling
// is reached.
//
// Packages:
//
//	pkg/protocol      message envelope and invocation contract
//	pkg/remoteagent   HTTP proxy for one agent, with retry and backoff
//	pkg/orchestrator  the step loop and selection strategies
//	pkg/lifecycle     concurrent agent reset
//	pkg/runtime       wires configuration into a running orchestrator
//	pkg/server        HTTP API over a runtime
//	pkg/agentserver   serve an agent that speaks the contract
//
// Start the service:
//
//	conductor serve --config conductor.yaml
package conductor
