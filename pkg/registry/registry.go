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

// Package registry holds named components that are registered once at
// startup and read concurrently afterwards.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrSealed   = errors.New("registry is sealed")
	ErrNotFound = errors.New("not found")
)

// Registry maps names to items. It is writable until Seal is called and
// immutable afterwards; sealed reads take no lock.
type Registry[T any] struct {
	mu     sync.RWMutex
	sealed atomic.Bool
	items  map[string]T
}

func New[T any]() *Registry[T] {
	return &Registry[T]{
		items: make(map[string]T),
	}
}

func (r *Registry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return fmt.Errorf("register %q: %w", name, ErrSealed)
	}
	if _, exists := r.items[name]; exists {
		return fmt.Errorf("item with name '%s' already registered", name)
	}

	r.items[name] = item
	return nil
}

// Seal makes the registry read-only. Sealing twice is a no-op.
func (r *Registry[T]) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed.Store(true)
}

func (r *Registry[T]) Sealed() bool {
	return r.sealed.Load()
}

func (r *Registry[T]) Get(name string) (T, bool) {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	item, exists := r.items[name]
	return item, exists
}

// Lookup is Get returning ErrNotFound for missing names.
func (r *Registry[T]) Lookup(name string) (T, error) {
	item, ok := r.Get(name)
	if !ok {
		return item, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return item, nil
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the items ordered by name.
func (r *Registry[T]) List() []T {
	names := r.Names()

	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	items := make([]T, 0, len(names))
	for _, name := range names {
		if item, ok := r.items[name]; ok {
			items = append(items, item)
		}
	}
	return items
}

func (r *Registry[T]) Count() int {
	if !r.sealed.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return len(r.items)
}
