// Package memengine implements a minimal, process-local engine.Engine
// (§4.5 of spec.md / §2 item 9 of the full spec): the default storage
// backend used by tests and by cmd/syncengined when no connector-supplied
// Engine is wired in, so the scheduler is exercisable end-to-end without a
// real connector. Grounded on the teacher's in-memory storage backend
// (internal/storage/memory), the same mutex-guarded-map idiom already used
// for taskstore/memory and syncmeta/memory.
package memengine

import (
	"context"
	"sort"
	"sync"

	"github.com/maxdata-sh/max-sub001/pkg/engine"
	"github.com/maxdata-sh/max-sub001/pkg/ref"
)

// Engine is a mutex-guarded, process-local engine.Engine.
type Engine struct {
	mu      sync.Mutex
	entries map[string]engine.EntityInput // keyed by ref.Key()
	byType  map[string][]ref.Ref          // entityType -> insertion-ordered refs
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{entries: make(map[string]engine.EntityInput), byType: make(map[string][]ref.Ref)}
}

func (e *Engine) Load(_ context.Context, r ref.Ref) (engine.EntityInput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	input, ok := e.entries[r.Key()]
	if !ok {
		return nil, nil
	}
	return cloneInput(input), nil
}

func (e *Engine) LoadField(_ context.Context, r ref.Ref, field string) (any, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.entries[r.Key()][field]
	return v, ok, nil
}

// LoadCollection always returns no refs: this reference engine does not
// record collection membership per parent ref and field. Items a
// collection loader returned are stored as refs of their own entity type
// and can be listed through LoadPage, not through LoadCollection.
func (e *Engine) LoadCollection(_ context.Context, r ref.Ref, field string) ([]ref.Ref, error) {
	return nil, nil
}

func (e *Engine) Store(_ context.Context, r ref.Ref, input engine.EntityInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.entries[r.Key()]
	if !ok {
		existing = engine.EntityInput{}
		e.byType[r.EntityType] = append(e.byType[r.EntityType], r)
	}
	for k, v := range input {
		existing[k] = v
	}
	e.entries[r.Key()] = existing
	return nil
}

func (e *Engine) LoadPage(_ context.Context, entityType string, projection engine.Projection, page engine.PageRequest) (engine.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	all := e.byType[entityType]
	limit := page.Limit
	if limit <= 0 {
		limit = len(all)
	}

	start := 0
	if page.Cursor != "" {
		for i, r := range all {
			if r.Key() == page.Cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start > end {
		start = end
	}

	items := append([]ref.Ref(nil), all[start:end]...)
	hasMore := end < len(all)
	cursor := ""
	if hasMore && len(items) > 0 {
		cursor = items[len(items)-1].Key()
	}
	return engine.Page{Items: items, HasMore: hasMore, Cursor: cursor}, nil
}

// Query is out of scope for the core (§1 Non-goals: query language); this
// reference engine exposes a single deterministic behavior for tests that
// exercise the interface without caring about results: it returns the
// sorted list of stored ref keys for the entityType given as query.
func (e *Engine) Query(_ context.Context, query string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	refs := e.byType[query]
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, r.Key())
	}
	sort.Strings(keys)
	return keys, nil
}

func cloneInput(in engine.EntityInput) engine.EntityInput {
	out := make(engine.EntityInput, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
