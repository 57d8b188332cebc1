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
)

var (
	ErrUnknownKind   = errors.New("unknown envelope kind")
	ErrPayloadShape  = errors.New("payload does not match envelope kind")
	ErrMissingSource = errors.New("envelope source is required")
)

// Kind discriminates the payload carried by an Envelope.
type Kind string

const (
	KindText Kind = "text"
)

// Older agents spell the text kind the way their chat framework names it.
var kindAliases = map[string]Kind{
	"TextMessage": KindText,
}

// ParseKind resolves a wire kind, accepting known aliases.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	k := Kind(s)
	if _, ok := payloadDecoders[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Payload is the content of an envelope.
type Payload interface {
	Kind() Kind
}

// Text is the payload of a text envelope.
type Text string

func (Text) Kind() Kind { return KindText }

type payloadDecoder func(raw json.RawMessage) (Payload, error)

var payloadDecoders = map[Kind]payloadDecoder{
	KindText: decodeText,
}

func decodeText(raw json.RawMessage) (Payload, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: text payload must be a string", ErrPayloadShape)
	}
	return Text(s), nil
}

// Envelope is the unit of communication between the orchestrator and agents.
// Envelopes are values; once appended to a history they are never changed.
type Envelope struct {
	Kind    Kind
	Source  Source
	Payload Payload
}

// NewText builds a text envelope.
func NewText(source Source, text string) Envelope {
	return Envelope{Kind: KindText, Source: source, Payload: Text(text)}
}

// Text returns the text payload, or "" for non-text envelopes.
func (e Envelope) Text() string {
	if t, ok := e.Payload.(Text); ok {
		return string(t)
	}
	return ""
}

// Validate checks that the kind is known and the payload matches it.
func (e Envelope) Validate() error {
	if _, ok := payloadDecoders[e.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.Source == "" {
		return ErrMissingSource
	}
	if e.Payload == nil || e.Payload.Kind() != e.Kind {
		return fmt.Errorf("%w: %q", ErrPayloadShape, e.Kind)
	}
	return nil
}

type wireEnvelope struct {
	Kind    string          `json:"kind,omitempty"`
	Type    string          `json:"type,omitempty"`
	Source  Source          `json:"source"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", e.Kind, err)
	}
	return json.Marshal(wireEnvelope{Kind: string(e.Kind), Source: e.Source, Payload: payload})
}

// UnmarshalJSON rejects unknown kinds and payloads that do not fit the kind.
// The legacy "type"/"content" field names are accepted as well.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	rawKind := w.Kind
	if rawKind == "" {
		rawKind = w.Type
	}
	kind, err := ParseKind(rawKind)
	if err != nil {
		return err
	}
	if w.Source == "" {
		return ErrMissingSource
	}

	raw := w.Payload
	if len(raw) == 0 {
		raw = w.Content
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: %s envelope has no payload", ErrPayloadShape, kind)
	}
	payload, err := payloadDecoders[kind](raw)
	if err != nil {
		return err
	}

	*e = Envelope{Kind: kind, Source: w.Source, Payload: payload}
	return nil
}

// CloneHistory returns a copy of the slice. Payloads are immutable values.
func CloneHistory(history []Envelope) []Envelope {
	if history == nil {
		return nil
	}
	out := make([]Envelope, len(history))
	copy(out, history)
	return out
}
