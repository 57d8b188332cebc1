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

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrEmptyMessages = errors.New("messages must not be empty")
	ErrInvalidStatus = errors.New("invalid response status")
	ErrMissingResult = errors.New("status ok without result")
)

// Method selects the agent operation for an invocation.
type Method string

const (
	MethodAct   Method = "act"
	MethodReset Method = "reset"
)

// ParseMethod resolves a wire method. The empty string means act.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodAct:
		return MethodAct, nil
	case MethodReset:
		return MethodReset, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// AllowsEmptyMessages reports whether the method may be sent without history.
func (m Method) AllowsEmptyMessages() bool {
	return m == MethodReset
}

// Request is the body of POST /invoke.
type Request struct {
	Method   Method         `json:"method,omitempty"`
	Messages []Envelope     `json:"messages"`
	Options  map[string]any `json:"options,omitempty"`
}

// Validate normalises the method and checks the message list.
func (r *Request) Validate() error {
	m, err := ParseMethod(string(r.Method))
	if err != nil {
		return err
	}
	r.Method = m
	if len(r.Messages) == 0 && !m.AllowsEmptyMessages() {
		return ErrEmptyMessages
	}
	for i, msg := range r.Messages {
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

type Status string

const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"
)

// Elapsed holds named durations in milliseconds.
type Elapsed map[string]int64

const (
	ElapsedLatency = "latency_ms"
	ElapsedTotal   = "total_ms"
)

func (e Elapsed) Set(name string, d time.Duration) {
	e[name] = d.Milliseconds()
}

// Response is the body returned by POST /invoke. Failure and Attempts are
// filled in by the calling side and never sent by agents.
type Response struct {
	Status  Status    `json:"status"`
	Result  *Envelope `json:"result,omitempty"`
	Elapsed Elapsed   `json:"elapsed,omitempty"`
	Done    bool      `json:"done,omitempty"`
	Failure *Failure  `json:"failure,omitempty"`

	Attempts int `json:"-"`
}

// UnmarshalJSON also accepts the reply under "message" or "response", the
// field names used by older agents. "result" wins when several are present.
func (r *Response) UnmarshalJSON(data []byte) error {
	type plain Response
	var w struct {
		plain
		Message  *Envelope `json:"message,omitempty"`
		Response *Envelope `json:"response,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Response(w.plain)
	switch {
	case r.Result != nil:
	case w.Message != nil:
		r.Result = w.Message
	case w.Response != nil:
		r.Result = w.Response
	}
	return nil
}

// Validate enforces the response contract. A result present on a failed
// response is a diagnostic.
func (r *Response) Validate() error {
	switch r.Status {
	case StatusOK:
		if r.Result == nil {
			return ErrMissingResult
		}
	case StatusFail:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	if r.Result != nil {
		if err := r.Result.Validate(); err != nil {
			return fmt.Errorf("result: %w", err)
		}
	}
	return nil
}

func (r *Response) OK() bool {
	return r != nil && r.Status == StatusOK
}

// FailureClass separates failures by how callers must react to them.
type FailureClass string

const (
	// FailureTransport covers unreachable agents, timeouts and non-2xx replies.
	FailureTransport FailureClass = "transport"
	// FailureProtocol covers malformed or contract-violating replies.
	FailureProtocol FailureClass = "protocol"
	// FailureApplication is an agent reporting status=fail.
	FailureApplication FailureClass = "application"
)

// Retryable reports whether the class is retried by the caller.
func (c FailureClass) Retryable() bool {
	return c == FailureTransport
}

// Failure describes why an invocation did not produce a result.
type Failure struct {
	Class      FailureClass `json:"class"`
	Agent      Source       `json:"agent"`
	Endpoint   string       `json:"endpoint,omitempty"`
	Attempts   int          `json:"attempts"`
	StatusCode int          `json:"status_code,omitempty"`
	Message    string       `json:"message"`
}

func (f *Failure) Error() string {
	return f.Diagnostic()
}

// Diagnostic renders the human readable text carried by diagnostic envelopes.
func (f *Failure) Diagnostic() string {
	msg := fmt.Sprintf("agent %s failed (%s)", f.Agent, f.Class)
	if f.Class == FailureTransport {
		msg += fmt.Sprintf(" after %d attempt(s)", f.Attempts)
	}
	if f.Endpoint != "" {
		msg += " calling " + f.Endpoint
	}
	if f.Message != "" {
		msg += ": " + f.Message
	}
	return msg
}

// Unsupported reports whether the agent rejected the method itself.
func (f *Failure) Unsupported() bool {
	switch f.StatusCode {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	}
	return false
}
