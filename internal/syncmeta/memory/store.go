// Package memory implements syncmeta.Store in-process.
package memory

import (
	"context"
	"sync"
	"time"
)

type key struct {
	refKey, field string
}

// Store is a mutex-guarded, process-local syncmeta.Store.
type Store struct {
	mu   sync.Mutex
	data map[key]time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[key]time.Time)}
}

func (s *Store) Close() error { return nil }

func (s *Store) Record(_ context.Context, refKey, field string, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key{refKey, field}] = syncedAt
	return nil
}

func (s *Store) RecordFields(ctx context.Context, refKey string, fields []string, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		s.data[key{refKey, f}] = syncedAt
	}
	return nil
}

func (s *Store) LastSynced(_ context.Context, refKey, field string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data[key{refKey, field}]
	return t, ok, nil
}

func (s *Store) IsStale(_ context.Context, refKey, field string, maxAge time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data[key{refKey, field}]
	if !ok {
		return true, nil
	}
	return now.Sub(t) > maxAge, nil
}
