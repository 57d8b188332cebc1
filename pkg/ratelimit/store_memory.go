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

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type usageKey struct {
	identifier string
	window     string
}

type usageRecord struct {
	amount    int64
	windowEnd time.Time
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	data map[usageKey]*usageRecord
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[usageKey]*usageRecord),
		now:  time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, identifier string, window string, length time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.data[usageKey{identifier, window}]
	if !ok || !rec.windowEnd.After(now) {
		return 0, now.Add(length), nil
	}
	return rec.amount, rec.windowEnd, nil
}

func (s *MemoryStore) Increment(_ context.Context, identifier string, window string, length time.Duration, amount int64) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := usageKey{identifier, window}
	rec, ok := s.data[key]
	switch {
	case !ok:
		rec = &usageRecord{amount: amount, windowEnd: now.Add(length)}
		s.data[key] = rec
	case !rec.windowEnd.After(now):
		rec.amount = amount
		rec.windowEnd = now.Add(length)
	default:
		rec.amount += amount
	}
	return rec.amount, rec.windowEnd, nil
}

func (s *MemoryStore) Delete(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.data {
		if key.identifier == identifier {
			delete(s.data, key)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.data {
		if rec.windowEnd.Before(before) {
			delete(s.data, key)
		}
	}
	return nil
}

// Size returns the number of live records.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
