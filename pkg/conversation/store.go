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

// Package conversation keeps the latest snapshot of every conversation the
// process has run, in memory only.
//
// The Store is an orchestrator.Observer: register it on the engine and it
// records each snapshot the engine publishes. Snapshots are shared between
// readers and must be treated as read-only.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kadirpekel/conductor/pkg/orchestrator"
)

const (
	DefaultRetention  = 100
	DefaultBufferSize = 16
)

var (
	ErrNotFound = errors.New("conversation not found")
	ErrExists   = errors.New("conversation already exists")
	ErrTerminal = errors.New("conversation already finished")

	ErrNotCancelable = errors.New("conversation was not started through the store")
)

// Summary is the list view of a conversation.
type Summary struct {
	ID        string              `json:"id"`
	Status    orchestrator.Status `json:"status"`
	Reason    orchestrator.Reason `json:"reason,omitempty"`
	StepCount int                 `json:"step_count"`
	StartedAt time.Time           `json:"started_at"`
}

type entry struct {
	snap   orchestrator.Snapshot
	cancel context.CancelFunc
	subs   map[int]chan orchestrator.Snapshot
}

// Store is an in-memory conversation store. It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	finished   []string
	nextSub    int
	retention  int
	bufferSize int
	logger     *slog.Logger
}

type Option func(*Store)

// WithRetention caps how many finished conversations are kept. The oldest
// finished conversation is evicted first.
func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retention = n
		}
	}
}

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		retention:  DefaultRetention,
		bufferSize: DefaultBufferSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin registers a conversation before its first snapshot so it can be
// looked up and canceled right away.
func (s *Store) Begin(id string, maxSteps int, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return ErrExists
	}
	s.entries[id] = &entry{
		snap: orchestrator.Snapshot{
			ID:        id,
			Status:    orchestrator.StatusRunning,
			MaxSteps:  maxSteps,
			StartedAt: time.Now(),
		},
		cancel: cancel,
		subs:   make(map[int]chan orchestrator.Snapshot),
	}
	return nil
}

// Observe records a snapshot and fans it out to subscribers. Subscribers
// that are not keeping up miss intermediate snapshots; every subscription is
// closed after the terminal snapshot.
func (s *Store) Observe(snap orchestrator.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[snap.ID]
	if !ok {
		e = &entry{subs: make(map[int]chan orchestrator.Snapshot)}
		s.entries[snap.ID] = e
	}
	if e.snap.Terminal() {
		return
	}
	e.snap = snap

	for id, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			s.logger.Debug("Dropping snapshot for slow subscriber", "conversation", snap.ID, "subscriber", id)
		}
	}

	if !snap.Terminal() {
		return
	}
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	s.finished = append(s.finished, snap.ID)
	s.evict()
}

func (s *Store) evict() {
	for len(s.finished) > s.retention {
		oldest := s.finished[0]
		s.finished = s.finished[1:]
		delete(s.entries, oldest)
	}
}

// Get returns the latest snapshot of a conversation.
func (s *Store) Get(id string) (orchestrator.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return orchestrator.Snapshot{}, ErrNotFound
	}
	return e.snap, nil
}

// List returns summaries, newest first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, Summary{
			ID:        id,
			Status:    e.snap.Status,
			Reason:    e.snap.Reason,
			StepCount: e.snap.StepCount,
			StartedAt: e.snap.StartedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Subscribe streams snapshots of a conversation. The current snapshot is
// delivered first. The channel is closed when the conversation finishes or
// when the returned cancel function is called.
func (s *Store) Subscribe(id string) (<-chan orchestrator.Snapshot, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, nil, ErrNotFound
	}

	ch := make(chan orchestrator.Snapshot, s.bufferSize)
	ch <- e.snap
	if e.snap.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	subID := s.nextSub
	s.nextSub++
	e.subs[subID] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := e.subs[subID]; ok {
				close(c)
				delete(e.subs, subID)
			}
		})
	}
	return ch, unsubscribe, nil
}

// Cancel stops a running conversation. The engine records it as canceled.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.snap.Terminal() {
		return ErrTerminal
	}
	if e.cancel == nil {
		return ErrNotCancelable
	}
	e.cancel()
	return nil
}

// Count returns the number of stored conversations.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
