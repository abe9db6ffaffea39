package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/maxdata-sh/max-sub001/internal/taskstore"
)

func TestClaimMutualExclusion(t *testing.T) {
	store := New()
	ctx := context.Background()

	id, err := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StatePending})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	claims := make(chan *taskstore.Task, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := store.Claim(ctx, "s1")
			if err != nil {
				t.Errorf("Claim failed: %v", err)
				return
			}
			claims <- task
		}()
	}
	wg.Wait()
	close(claims)

	successes := 0
	for task := range claims {
		if task != nil {
			successes++
			if task.ID != id {
				t.Errorf("unexpected claimed id %d", task.ID)
			}
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", successes)
	}
}

func TestEnqueueGraphRewritesTempIDs(t *testing.T) {
	store := New()
	ctx := context.Background()

	templates := []taskstore.Template{
		{TempID: "group", State: taskstore.StateAwaitingChildren, Payload: taskstore.Payload{Kind: taskstore.PayloadSyncGroup}, SyncID: "s1"},
		{TempID: "a", ParentTemp: "group", State: taskstore.StatePending, Payload: taskstore.Payload{Kind: taskstore.PayloadSyncStep}, SyncID: "s1"},
		{TempID: "b", ParentTemp: "group", BlockedByTemp: "a", State: taskstore.StateNew, Payload: taskstore.Payload{Kind: taskstore.PayloadSyncStep}, SyncID: "s1"},
	}

	ids, err := store.EnqueueGraph(ctx, templates)
	if err != nil {
		t.Fatalf("EnqueueGraph failed: %v", err)
	}

	groupTask, _ := store.Get(ctx, ids["group"])
	bTask, _ := store.Get(ctx, ids["b"])

	if *bTask.ParentID != ids["group"] {
		t.Errorf("expected b.ParentID == group id, got %d want %d", *bTask.ParentID, ids["group"])
	}
	if *bTask.BlockedBy != ids["a"] {
		t.Errorf("expected b.BlockedBy == a id, got %d want %d", *bTask.BlockedBy, ids["a"])
	}
	if groupTask.State != taskstore.StateAwaitingChildren {
		t.Errorf("expected group state awaiting_children, got %s", groupTask.State)
	}
}

func TestUnblockDependentsOnlyFlipsNew(t *testing.T) {
	store := New()
	ctx := context.Background()

	blockerID, _ := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StatePending})
	dependentID, _ := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StateNew, BlockedBy: &blockerID})
	alreadyRunningID, _ := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StateRunning, BlockedBy: &blockerID})

	count, err := store.UnblockDependents(ctx, blockerID)
	if err != nil {
		t.Fatalf("UnblockDependents failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 unblocked, got %d", count)
	}

	dependent, _ := store.Get(ctx, dependentID)
	if dependent.State != taskstore.StatePending {
		t.Errorf("expected dependent pending, got %s", dependent.State)
	}
	stillRunning, _ := store.Get(ctx, alreadyRunningID)
	if stillRunning.State != taskstore.StateRunning {
		t.Errorf("running task should be untouched, got %s", stillRunning.State)
	}
}

func TestAllChildrenCompleteRequiresAtLeastOneChild(t *testing.T) {
	store := New()
	ctx := context.Background()

	parentID, _ := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StateAwaitingChildren})

	done, err := store.AllChildrenComplete(ctx, parentID)
	if err != nil {
		t.Fatalf("AllChildrenComplete failed: %v", err)
	}
	if done {
		t.Fatal("expected false with zero children")
	}

	childID, _ := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StateRunning, ParentID: &parentID})
	done, _ = store.AllChildrenComplete(ctx, parentID)
	if done {
		t.Fatal("expected false while child still running")
	}

	_, _ = store.Complete(ctx, childID)
	done, err = store.AllChildrenComplete(ctx, parentID)
	if err != nil {
		t.Fatalf("AllChildrenComplete failed: %v", err)
	}
	if !done {
		t.Fatal("expected true once the only child completed")
	}
}

func TestHasActiveTasks(t *testing.T) {
	store := New()
	ctx := context.Background()

	active, err := store.HasActiveTasks(ctx, "s1")
	if err != nil {
		t.Fatalf("HasActiveTasks failed: %v", err)
	}
	if active {
		t.Fatal("expected no active tasks in empty sync")
	}

	id, _ := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StatePending})
	active, _ = store.HasActiveTasks(ctx, "s1")
	if !active {
		t.Fatal("expected active tasks after enqueue")
	}

	_, _ = store.Claim(ctx, "s1")
	_, _ = store.Complete(ctx, id)
	active, _ = store.HasActiveTasks(ctx, "s1")
	if active {
		t.Fatal("expected no active tasks once completed")
	}
}

func TestCancelSyncMarksOnlyNonTerminal(t *testing.T) {
	store := New()
	ctx := context.Background()

	pendingID, _ := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StatePending})
	completedID, _ := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StateCompleted})

	if err := store.CancelSync(ctx, "s1"); err != nil {
		t.Fatalf("CancelSync failed: %v", err)
	}

	pending, _ := store.Get(ctx, pendingID)
	if pending.State != taskstore.StateCancelled {
		t.Errorf("expected cancelled, got %s", pending.State)
	}
	completed, _ := store.Get(ctx, completedID)
	if completed.State != taskstore.StateCompleted {
		t.Errorf("completed task must stay completed, got %s", completed.State)
	}
}
