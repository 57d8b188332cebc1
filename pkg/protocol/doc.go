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

// Package protocol defines the wire contract shared by the orchestrator and
// remote agents.
//
// Every exchange is a JSON POST to an agent's /invoke endpoint:
//
//	{"method": "act", "messages": [{"kind": "text", "source": "user", "payload": "..."}], "options": {}}
//
// and the agent answers with
//
//	{"status": "ok", "result": {...envelope...}, "elapsed": {"latency_ms": 12}}
//
// Envelopes are validated on the way in: unknown kinds and payloads that do
// not fit their kind are rejected rather than carried through.
package protocol
