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

// Package remoteagent provides the local stand-in for an agent served over
// HTTP.
//
// A Proxy turns an invocation into a POST to the agent's /invoke endpoint and
// always returns a protocol.Response, never an error. Failures are classified
// and carried on Response.Failure together with a diagnostic envelope
// attributed to the agent:
//
//	proxy, _ := remoteagent.New(remoteagent.Config{
//	    Name:        "coder",
//	    Description: "Writes and explains code",
//	    URL:         "http://coder:8000",
//	    Timeout:     30 * time.Second,
//	    MaxAttempts: 2,
//	})
//
//	resp := proxy.Invoke(ctx, protocol.MethodAct, history, nil)
//	if !resp.OK() {
//	    log.Println(resp.Failure.Diagnostic())
//	}
//
// Only transport failures are retried. Protocol violations (malformed bodies,
// unknown kinds, status ok without a result) and application failures
// (status fail) are returned after the first attempt.
package remoteagent
