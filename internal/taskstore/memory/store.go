// Package memory implements taskstore.Store in-process, for tests and for
// single-node deployments that don't need durability across restarts.
// Grounded on the teacher's memory storage backend (internal/storage/
// memory): a mutex-guarded map stands in for the sqlite backend's rows.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxdata-sh/max-sub001/internal/taskstore"
)

// Store is a mutex-guarded, process-local taskstore.Store.
type Store struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*taskstore.Task
}

// New returns an empty Store.
func New() *Store {
	return &Store{tasks: make(map[int64]*taskstore.Task)}
}

func (s *Store) Close() error { return nil }

func (s *Store) Enqueue(_ context.Context, t taskstore.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(t), nil
}

// insertLocked assigns t a fresh id, stamps CreatedAt if unset, and stores
// it. Caller must hold s.mu.
func (s *Store) insertLocked(t taskstore.Task) int64 {
	s.nextID++
	id := s.nextID
	t.ID = id
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := t
	s.tasks[id] = &cp
	return id
}

func (s *Store) EnqueueGraph(_ context.Context, templates []taskstore.Template) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempToReal := make(map[string]int64, len(templates))

	// Pass 1: assign real ids so forward references (a template blocked by
	// a not-yet-inserted sibling) resolve regardless of input order.
	for _, tmpl := range templates {
		s.nextID++
		tempToReal[tmpl.TempID] = s.nextID
	}

	// Pass 2: materialise tasks with temp references rewritten to real ids.
	for _, tmpl := range templates {
		id := tempToReal[tmpl.TempID]
		t := &taskstore.Task{
			ID:        id,
			SyncID:    tmpl.SyncID,
			State:     tmpl.State,
			Payload:   tmpl.Payload,
			CreatedAt: time.Now().UTC(),
		}
		if tmpl.ParentTemp != "" {
			parentID := tempToReal[tmpl.ParentTemp]
			t.ParentID = &parentID
		}
		if tmpl.BlockedByTemp != "" {
			blockerID := tempToReal[tmpl.BlockedByTemp]
			t.BlockedBy = &blockerID
		}
		s.tasks[id] = t
	}

	return tempToReal, nil
}

func (s *Store) EnqueueChildren(_ context.Context, syncID string, parentID int64, payloads []taskstore.Payload) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, len(payloads))
	for i, p := range payloads {
		id := s.insertLocked(taskstore.Task{
			SyncID:   syncID,
			State:    taskstore.StatePending,
			Payload:  p,
			ParentID: &parentID,
		})
		ids[i] = id
	}
	return ids, nil
}

func (s *Store) Claim(_ context.Context, syncID string) (*taskstore.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, t := range s.tasks {
		if t.SyncID != syncID || t.State != taskstore.StatePending {
			continue
		}
		if t.NotBefore != nil && t.NotBefore.After(now) {
			continue
		}
		t.State = taskstore.StateRunning
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) Complete(_ context.Context, id int64) (*taskstore.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("taskstore/memory: task %d not found", id)
	}
	now := time.Now().UTC()
	t.State = taskstore.StateCompleted
	t.CompletedAt = &now
	cp := *t
	return &cp, nil
}

func (s *Store) SetAwaitingChildren(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("taskstore/memory: task %d not found", id)
	}
	t.State = taskstore.StateAwaitingChildren
	return nil
}

func (s *Store) Fail(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("taskstore/memory: task %d not found", id)
	}
	now := time.Now().UTC()
	t.State = taskstore.StateFailed
	t.Error = errMsg
	t.CompletedAt = &now
	return nil
}

func (s *Store) Reschedule(_ context.Context, id int64, notBefore time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("taskstore/memory: task %d not found", id)
	}
	t.State = taskstore.StatePending
	t.NotBefore = &notBefore
	t.Attempt++
	t.Error = errMsg
	return nil
}

func (s *Store) UnblockDependents(_ context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.tasks {
		if t.BlockedBy != nil && *t.BlockedBy == id && t.State == taskstore.StateNew {
			t.State = taskstore.StatePending
			count++
		}
	}
	return count, nil
}

func (s *Store) AllChildrenComplete(_ context.Context, parentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, t := range s.tasks {
		if t.ParentID == nil || *t.ParentID != parentID {
			continue
		}
		found = true
		if !t.State.IsTerminal() {
			return false, nil
		}
	}
	return found, nil
}

func (s *Store) HasActiveTasks(_ context.Context, syncID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.SyncID == syncID && t.State.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Get(_ context.Context, id int64) (*taskstore.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListBySync(_ context.Context, syncID string) ([]taskstore.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []taskstore.Task
	for _, t := range s.tasks {
		if t.SyncID == syncID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) Pause(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("taskstore/memory: task %d not found", id)
	}
	t.State = taskstore.StatePaused
	return nil
}

func (s *Store) Cancel(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("taskstore/memory: task %d not found", id)
	}
	t.State = taskstore.StateCancelled
	return nil
}

func (s *Store) PauseSync(_ context.Context, syncID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.SyncID == syncID && !t.State.IsTerminal() {
			t.State = taskstore.StatePaused
		}
	}
	return nil
}

func (s *Store) CancelSync(_ context.Context, syncID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.SyncID == syncID && !t.State.IsTerminal() {
			t.State = taskstore.StateCancelled
		}
	}
	return nil
}
