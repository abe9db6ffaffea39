package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/maxdata-sh/max-sub001/internal/taskstore"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestClaimIsRaceFree(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StatePending})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan *taskstore.Task, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := store.Claim(ctx, "s1")
			if err != nil {
				t.Errorf("Claim failed: %v", err)
				return
			}
			results <- task
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for task := range results {
		if task != nil {
			successes++
			if task.ID != id || task.State != taskstore.StateRunning {
				t.Errorf("unexpected claimed task: %+v", task)
			}
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", successes)
	}
}

func TestEnqueueGraphAtomicity(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	templates := []taskstore.Template{
		{TempID: "a", State: taskstore.StatePending, SyncID: "s1", Payload: taskstore.Payload{Kind: taskstore.PayloadSyncStep}},
		{TempID: "b", BlockedByTemp: "a", State: taskstore.StateNew, SyncID: "s1", Payload: taskstore.Payload{Kind: taskstore.PayloadSyncStep}},
	}
	ids, err := store.EnqueueGraph(ctx, templates)
	if err != nil {
		t.Fatalf("EnqueueGraph failed: %v", err)
	}

	b, err := store.Get(ctx, ids["b"])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if b.BlockedBy == nil || *b.BlockedBy != ids["a"] {
		t.Fatalf("expected b.BlockedBy == a's real id")
	}
}

func TestEnqueueGraphRejectsUnknownReference(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, err := store.EnqueueGraph(ctx, []taskstore.Template{
		{TempID: "a", ParentTemp: "missing", SyncID: "s1", State: taskstore.StateNew},
	})
	if err == nil {
		t.Fatal("expected error for dangling parent reference")
	}

	rows, err := store.ListBySync(ctx, "s1")
	if err != nil {
		t.Fatalf("ListBySync failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected rollback to leave no rows, got %d", len(rows))
	}
}

func TestRestartResumesIDGenerationAboveMax(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.db")

	first, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()
	var lastID int64
	for i := 0; i < 3; i++ {
		lastID, err = first.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StatePending})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("re-Open failed: %v", err)
	}
	defer func() { _ = second.Close() }()

	newID, err := second.Enqueue(ctx, taskstore.Task{SyncID: "s2", State: taskstore.StatePending})
	if err != nil {
		t.Fatalf("Enqueue after reopen failed: %v", err)
	}
	if newID <= lastID {
		t.Fatalf("expected new id %d to be strictly greater than previous max %d", newID, lastID)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected db file to exist at %s: %v", path, err)
	}
}

func TestUnblockDependentsOnlyFlipsNewState(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	blocker, _ := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StatePending})
	newDependent, _ := store.Enqueue(ctx, taskstore.Task{SyncID: "s1", State: taskstore.StateNew, BlockedBy: &blocker})

	count, err := store.UnblockDependents(ctx, blocker)
	if err != nil {
		t.Fatalf("UnblockDependents failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}

	task, err := store.Get(ctx, newDependent)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.State != taskstore.StatePending {
		t.Fatalf("expected pending, got %s", task.State)
	}
}
