package taskstore

import (
	"context"
	"time"
)

// Store is the Task Store contract (§4.1). Implementations: taskstore/
// memory (process-local) and taskstore/sqlite (durable, WAL-mode SQLite
// via the teacher's ncruces/go-sqlite3 driver). Both satisfy this single
// interface so the executor never branches on backend.
type Store interface {
	// Enqueue appends a single task (no id set) and assigns it a monotonic
	// id.
	Enqueue(ctx context.Context, t Task) (int64, error)

	// EnqueueGraph atomically inserts every template, rewriting TempID
	// references (ParentTemp/BlockedByTemp) into real ids, in a single
	// transaction. Returns the tempID -> real id mapping.
	EnqueueGraph(ctx context.Context, templates []Template) (map[string]int64, error)

	// EnqueueChildren atomically inserts payloads as children of parentID,
	// all starting in state=pending, returning their assigned ids in order.
	// Used by the Sync Executor (§4.4 step 4c) when a completed task
	// returns child templates of its own.
	EnqueueChildren(ctx context.Context, syncID string, parentID int64, payloads []Payload) ([]int64, error)

	// Claim atomically selects one task with state=pending and
	// (notBefore is null or notBefore <= now) for syncID, flips it to
	// running, and returns it. Returns (nil, nil) if none is claimable.
	Claim(ctx context.Context, syncID string) (*Task, error)

	// Complete marks a task completed.
	Complete(ctx context.Context, id int64) (*Task, error)

	// SetAwaitingChildren marks a task awaiting_children.
	SetAwaitingChildren(ctx context.Context, id int64) error

	// Fail marks a task failed with the given error message.
	Fail(ctx context.Context, id int64, errMsg string) error

	// Reschedule returns a task to pending with notBefore pushed out and
	// attempt incremented, for a Retryable loader error (§4.4, §7). The
	// task must still be claimable by Claim once notBefore has passed.
	Reschedule(ctx context.Context, id int64, notBefore time.Time, errMsg string) error

	// UnblockDependents flips every task with blockedBy=id and state=new
	// to pending, returning the count flipped.
	UnblockDependents(ctx context.Context, id int64) (int, error)

	// AllChildrenComplete reports whether parentID has at least one child
	// and every child is in a terminal state.
	AllChildrenComplete(ctx context.Context, parentID int64) (bool, error)

	// HasActiveTasks reports whether any task of syncID is in
	// pending|running|awaiting_children|new.
	HasActiveTasks(ctx context.Context, syncID string) (bool, error)

	// Get reads one task by id. Returns (nil, nil) if not found.
	Get(ctx context.Context, id int64) (*Task, error)

	// ListBySync returns every task belonging to syncID, for aggregate
	// stats and cancellation sweeps.
	ListBySync(ctx context.Context, syncID string) ([]Task, error)

	// Pause marks a single task paused; the scheduler must not claim it.
	Pause(ctx context.Context, id int64) error

	// Cancel marks a single task cancelled; terminal for parent-completeness
	// accounting.
	Cancel(ctx context.Context, id int64) error

	// PauseSync marks every non-terminal task of syncID paused (§4.4
	// handle.pause()).
	PauseSync(ctx context.Context, syncID string) error

	// CancelSync marks every non-terminal task of syncID cancelled (§4.4
	// handle.cancel()).
	CancelSync(ctx context.Context, syncID string) error

	// Close releases any resources (connections, files) held by the store.
	Close() error
}
