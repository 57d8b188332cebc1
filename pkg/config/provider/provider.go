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

// Package provider defines where conductor configuration comes from.
//
// A Provider returns raw YAML or JSON bytes and can signal when they change.
package provider

import (
	"context"
	"fmt"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile   Type = "file"
	TypeStatic Type = "static"
)

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	case "static":
		return TypeStatic, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider abstracts config sources.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	Type() Type

	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel whenever the source changes,
	// until ctx is cancelled. A nil channel means watching is unsupported.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// ProviderConfig configures provider creation.
type ProviderConfig struct {
	Type Type

	// Path is the config file path (file provider).
	Path string

	// Data is the raw document (static provider).
	Data []byte
}

// New creates a Provider based on ProviderConfig.
func New(opts ProviderConfig) (Provider, error) {
	switch opts.Type {
	case TypeFile, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("config path is required")
		}
		return NewFileProvider(opts.Path)
	case TypeStatic:
		return NewStaticProvider(opts.Data), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}

// StaticProvider serves a fixed document. It never changes.
type StaticProvider struct {
	data []byte
}

func NewStaticProvider(data []byte) *StaticProvider {
	return &StaticProvider{data: append([]byte(nil), data...)}
}

func (p *StaticProvider) Type() Type { return TypeStatic }

func (p *StaticProvider) Load(context.Context) ([]byte, error) {
	if len(p.data) == 0 {
		return nil, fmt.Errorf("static config is empty")
	}
	return append([]byte(nil), p.data...), nil
}

func (p *StaticProvider) Watch(context.Context) (<-chan struct{}, error) { return nil, nil }

func (p *StaticProvider) Close() error { return nil }

var _ Provider = (*StaticProvider)(nil)
