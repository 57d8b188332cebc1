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

package observability

const (
	AttrAgentName      = "agent.name"
	AttrAgentEndpoint  = "agent.endpoint"
	AttrMethod         = "invoke.method"
	AttrAttempts       = "invoke.attempts"
	AttrFailureClass   = "failure.class"
	AttrConversationID = "conversation.id"
	AttrStepIndex      = "conversation.step"
	AttrStepCount      = "conversation.step_count"
	AttrStatus         = "status"
	AttrReason         = "reason"
	AttrErrorType      = "error.type"

	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	SpanConversationRun  = "conversation.run"
	SpanConversationStep = "conversation.step"
	SpanAgentInvoke      = "agent.invoke"
	SpanAgentReset       = "agent.reset"
	SpanHTTPRequest      = "http.request"

	DefaultServiceName  = "conductor"
	DefaultNamespace    = "conductor"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
