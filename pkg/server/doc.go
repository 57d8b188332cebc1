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

// Package server exposes a conductor runtime over HTTP.
//
// Routes:
//
//	POST   /invoke                      run a conversation, reply with its result
//	POST   /conversations               start a conversation in the background
//	GET    /conversations               list running and retained conversations
//	GET    /conversations/{id}          latest snapshot
//	DELETE /conversations/{id}          cancel
//	GET    /conversations/{id}/stream   websocket stream of snapshots
//	POST   /reset                       reset every agent
//	GET    /health                      configuration echo
//	GET    /ready                       503 until agents and selector are usable
//	GET    /metrics                     Prometheus scrape, when enabled
package server
