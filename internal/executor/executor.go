// Package executor implements the Sync Executor (§4.4): the outer
// scheduler that turns a declarative plan.Plan into a task graph, drives
// concurrent claim/execute loops against the Task Store, cascades
// completion up through parent/child and blockedBy edges, and publishes a
// SyncHandle for status/pause/cancel/completion.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/maxdata-sh/max-sub001/internal/runner"
	"github.com/maxdata-sh/max-sub001/internal/taskstore"
	"github.com/maxdata-sh/max-sub001/pkg/errs"
	"github.com/maxdata-sh/max-sub001/pkg/plan"
)

// DefaultWorkers is the number of concurrent runner loops spawned per sync
// (§4.4 step 4: "N configurable, default a small constant like 8").
const DefaultWorkers = 8

const maxPollBackoff = 250 * time.Millisecond

// maxRetryAttempts caps how many times a Retryable loader error reschedules
// the same task before it's treated as a hard failure (§4.4, §7).
const maxRetryAttempts = 5

const retryBaseBackoff = 500 * time.Millisecond
const maxRetryBackoff = 30 * time.Second

// retryDelay computes the notBefore backoff for the (attempt+1)th retry,
// doubling from retryBaseBackoff and capping at maxRetryBackoff.
func retryDelay(attempt int) time.Duration {
	d := retryBaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return d
}

// Options configures an Executor.
type Options struct {
	Workers int
}

// Executor materialises plans and drives their execution. It holds a Task
// Runner and a Task Store; it does not own storage itself (§4.4).
type Executor struct {
	runner  *runner.Runner
	store   taskstore.Store
	workers int

	mu    sync.Mutex
	syncs map[string]*SyncHandle
}

// New builds an Executor over the given Task Runner and Task Store.
func New(r *runner.Runner, store taskstore.Store, opts Options) *Executor {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Executor{runner: r, store: store, workers: workers, syncs: make(map[string]*SyncHandle)}
}

// Status is a SyncHandle's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Completion is the terminal result delivered exactly once through
// SyncHandle.Completion().
type Completion struct {
	Status         Status
	TasksCompleted int
	TasksFailed    int
	Duration       time.Duration
}

// SyncHandle is the observable handle to one in-flight (or finished) sync
// run (§3 "SyncHandle").
type SyncHandle struct {
	ID        string
	Plan      plan.Plan
	StartedAt time.Time

	status     atomic.Value // Status
	cancelled  atomic.Bool
	paused     atomic.Bool
	done       chan struct{}
	completion Completion
}

func newHandle(id string, p plan.Plan) *SyncHandle {
	h := &SyncHandle{ID: id, Plan: p, StartedAt: time.Now().UTC(), done: make(chan struct{})}
	h.status.Store(StatusRunning)
	return h
}

// StatusNow returns the handle's current status.
func (h *SyncHandle) StatusNow() Status {
	return h.status.Load().(Status)
}

// Completion blocks until the sync resolves, then returns its result. Safe
// to call from multiple goroutines; all callers observe the same value.
func (h *SyncHandle) Completion(ctx context.Context) (Completion, error) {
	select {
	case <-h.done:
		return h.completion, nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

// Pause stops further claiming; in-flight tasks are allowed to finish
// (§4.4 "Pause"). Resume is not supported.
func (h *SyncHandle) Pause() {
	h.paused.Store(true)
}

// Cancel marks the handle cancelled; the executor flips every non-terminal
// task to cancelled and claim loops stop making progress on this sync
// (§4.4 "Cancellation").
func (h *SyncHandle) Cancel() {
	h.cancelled.Store(true)
}

func (h *SyncHandle) resolve(c Completion) {
	h.completion = c
	h.status.Store(c.Status)
	close(h.done)
}

// Get returns the live handle for syncID, if this executor instance
// started it (§4.5 "syncs.get").
func (e *Executor) Get(syncID string) (*SyncHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.syncs[syncID]
	return h, ok
}

// List returns every handle this executor instance knows about (§4.5
// "syncs.list").
func (e *Executor) List() []*SyncHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*SyncHandle, 0, len(e.syncs))
	for _, h := range e.syncs {
		out = append(out, h)
	}
	return out
}

// Execute materialises p as a task graph under a fresh syncId, spawns the
// worker loops, and returns a handle immediately; the handle's Completion
// resolves once every task is terminal (§4.4 "execute(plan)").
func (e *Executor) Execute(ctx context.Context, p plan.Plan) (*SyncHandle, error) {
	syncID := uuid.NewString()

	templates := materialize(syncID, p)
	if _, err := e.store.EnqueueGraph(ctx, templates); err != nil {
		return nil, fmt.Errorf("executor: enqueueGraph: %w", err)
	}

	handle := newHandle(syncID, p)
	e.mu.Lock()
	e.syncs[syncID] = handle
	e.mu.Unlock()

	go e.drive(ctx, handle)
	return handle, nil
}

// drive spawns e.workers claim/execute loops and waits for them all to
// exit before resolving the handle's completion future.
func (e *Executor) drive(ctx context.Context, handle *SyncHandle) {
	var wg sync.WaitGroup
	wg.Add(e.workers)
	for i := 0; i < e.workers; i++ {
		go func() {
			defer wg.Done()
			e.workerLoop(ctx, handle)
		}()
	}
	wg.Wait()
	e.finish(ctx, handle)
}

// workerLoop repeats claim/dispatch/cascade until no task can be claimed
// and the sync has no active tasks left (§4.4 step 4).
//
// Pause never claims again, but pending tasks still count as active, so a
// paused sync with any pending task left sleeps here indefinitely instead
// of exiting — Completion never resolves for it. Resume isn't supported in
// v1, so the only way out of a pause today is Cancel.
func (e *Executor) workerLoop(ctx context.Context, handle *SyncHandle) {
	backoff := 5 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return
		}
		if handle.cancelled.Load() {
			e.cancelNonTerminal(ctx, handle.ID)
		}
		if handle.paused.Load() {
			active, err := e.store.HasActiveTasks(ctx, handle.ID)
			if err != nil || !active {
				return
			}
			time.Sleep(backoff)
			continue
		}

		task, err := e.store.Claim(ctx, handle.ID)
		if err != nil {
			return
		}
		if task == nil {
			active, err := e.store.HasActiveTasks(ctx, handle.ID)
			if err != nil || !active {
				return
			}
			time.Sleep(jitter(backoff))
			if backoff < maxPollBackoff {
				backoff *= 2
				if backoff > maxPollBackoff {
					backoff = maxPollBackoff
				}
			}
			continue
		}
		backoff = 5 * time.Millisecond

		e.execute(ctx, handle, task)
	}
}

// execute dispatches one claimed task to the Task Runner and applies its
// result to the Task Store, cascading completion as needed (§4.4 step 4
// b-d). sync-group tasks never reach the runner: they were placed
// directly into awaiting_children at materialisation time.
func (e *Executor) execute(ctx context.Context, handle *SyncHandle, task *taskstore.Task) {
	children, err := e.runner.Run(ctx, task)
	if err != nil {
		if !handle.cancelled.Load() && errs.Has(err, errs.Retryable) && task.Attempt < maxRetryAttempts {
			notBefore := time.Now().UTC().Add(retryDelay(task.Attempt))
			_ = e.store.Reschedule(ctx, task.ID, notBefore, err.Error())
			return
		}
		if failErr := e.store.Fail(ctx, task.ID, err.Error()); failErr != nil {
			return
		}
		e.cascadeTerminal(ctx, task.ID, task.ParentID)
		return
	}

	if handle.cancelled.Load() {
		// Best-effort: the runner's engine writes have already landed; record
		// completion, but discard any children so a cancelled sync fans out
		// no further work.
		_, _ = e.store.Complete(ctx, task.ID)
		e.cascadeTerminal(ctx, task.ID, task.ParentID)
		return
	}

	if len(children) > 0 {
		if _, err := e.store.EnqueueChildren(ctx, handle.ID, task.ID, children); err != nil {
			_ = e.store.Fail(ctx, task.ID, err.Error())
			e.cascadeTerminal(ctx, task.ID, task.ParentID)
			return
		}
		if err := e.store.SetAwaitingChildren(ctx, task.ID); err != nil {
			return
		}
		return
	}

	if _, err := e.store.Complete(ctx, task.ID); err != nil {
		return
	}
	e.cascadeTerminal(ctx, task.ID, task.ParentID)
}

// cascadeTerminal runs the shared tail of both success and failure (§4.4
// step 4c/d): unblock dependents, then walk up through parents completing
// any whose children are all now terminal.
func (e *Executor) cascadeTerminal(ctx context.Context, taskID int64, parentID *int64) {
	if _, err := e.store.UnblockDependents(ctx, taskID); err != nil {
		return
	}

	for parentID != nil {
		done, err := e.store.AllChildrenComplete(ctx, *parentID)
		if err != nil || !done {
			return
		}
		parent, err := e.store.Complete(ctx, *parentID)
		if err != nil || parent == nil {
			return
		}
		if _, err := e.store.UnblockDependents(ctx, parent.ID); err != nil {
			return
		}
		parentID = parent.ParentID
	}
}

// cancelNonTerminal flips every non-terminal task of syncID to cancelled.
// Idempotent: PauseSync/CancelSync only touch non-terminal rows.
func (e *Executor) cancelNonTerminal(ctx context.Context, syncID string) {
	_ = e.store.CancelSync(ctx, syncID)
}

// finish computes aggregate stats once every worker loop has exited and
// resolves the handle's completion future (§4.4 step 5).
func (e *Executor) finish(ctx context.Context, handle *SyncHandle) {
	tasks, err := e.store.ListBySync(ctx, handle.ID)
	status := StatusCompleted
	completed, failed := 0, 0
	if err == nil {
		for _, t := range tasks {
			switch t.State {
			case taskstore.StateCompleted:
				completed++
			case taskstore.StateFailed:
				failed++
			}
		}
	}
	if completed == 0 && failed > 0 {
		status = StatusFailed
	}

	handle.resolve(Completion{
		Status:         status,
		TasksCompleted: completed,
		TasksFailed:    failed,
		Duration:       time.Since(handle.StartedAt),
	})
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}
