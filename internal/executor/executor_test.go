package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxdata-sh/max-sub001/internal/flowcontrol"
	memorystore "github.com/maxdata-sh/max-sub001/internal/taskstore/memory"
	"github.com/maxdata-sh/max-sub001/internal/registry"
	"github.com/maxdata-sh/max-sub001/internal/runner"
	syncmemory "github.com/maxdata-sh/max-sub001/internal/syncmeta/memory"
	"github.com/maxdata-sh/max-sub001/pkg/engine"
	"github.com/maxdata-sh/max-sub001/pkg/errs"
	"github.com/maxdata-sh/max-sub001/pkg/plan"
	"github.com/maxdata-sh/max-sub001/pkg/ref"
)

// testEngine is a minimal concurrency-safe engine.Engine stand-in, shared
// with the runner package's test helper in spirit but kept local so this
// package's tests don't depend on runner's unexported test file.
type testEngine struct {
	mu     sync.Mutex
	stored map[string]engine.EntityInput
	refs   map[string][]ref.Ref
}

func newTestEngine() *testEngine {
	return &testEngine{stored: make(map[string]engine.EntityInput), refs: make(map[string][]ref.Ref)}
}

func (e *testEngine) Load(ctx context.Context, r ref.Ref) (engine.EntityInput, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stored[r.Key()], nil
}

func (e *testEngine) LoadField(ctx context.Context, r ref.Ref, field string) (any, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.stored[r.Key()][field]
	return v, ok, nil
}

func (e *testEngine) LoadCollection(ctx context.Context, r ref.Ref, field string) ([]ref.Ref, error) {
	return nil, nil
}

func (e *testEngine) Store(ctx context.Context, r ref.Ref, input engine.EntityInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, ok := e.stored[r.Key()]
	if !ok {
		existing = engine.EntityInput{}
		e.refs[r.EntityType] = append(e.refs[r.EntityType], r)
	}
	for k, v := range input {
		existing[k] = v
	}
	e.stored[r.Key()] = existing
	return nil
}

func (e *testEngine) LoadPage(ctx context.Context, entityType string, projection engine.Projection, page engine.PageRequest) (engine.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.refs[entityType]
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
	items := all[start:end]
	hasMore := end < len(all)
	cursor := ""
	if hasMore {
		cursor = items[len(items)-1].Key()
	}
	return engine.Page{Items: items, HasMore: hasMore, Cursor: cursor}, nil
}

func (e *testEngine) Query(ctx context.Context, query string) (any, error) { return nil, nil }

func (e *testEngine) count(entityType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.refs[entityType])
}

// buildHappyPathExecutor wires a registry that seeds 3 AcmeUser refs via a
// "users" collection loader on AcmeWorkspace, then lets a forAll loadFields
// step populate displayName/email.
func buildHappyPathExecutor(t *testing.T, userIDs []string, pageSize int, failListUsers bool) (*Executor, *testEngine) {
	t.Helper()
	eng := newTestEngine()

	reg := registry.New(
		[]registry.EntityDef{{EntityType: "AcmeWorkspace"}, {EntityType: "AcmeUser"}},
		[]registry.Resolver{
			{EntityType: "AcmeWorkspace", FieldLoaders: map[string]string{"users": "listUsers"}},
			{EntityType: "AcmeUser", FieldLoaders: map[string]string{"displayName": "getUser", "email": "getUser"}},
		},
		[]registry.Loader{
			{
				Name: "listUsers",
				Kind: registry.KindCollection,
				Collection: func(ctx context.Context, r ref.Ref, page engine.PageRequest) (engine.Page, error) {
					if failListUsers {
						return engine.Page{}, context.DeadlineExceeded
					}
					limit := page.Limit
					if limit <= 0 {
						limit = len(userIDs)
					}
					start := 0
					if page.Cursor != "" {
						for i, id := range userIDs {
							if id == page.Cursor {
								start = i + 1
								break
							}
						}
					}
					end := start + limit
					if end > len(userIDs) {
						end = len(userIDs)
					}
					var items []ref.Ref
					for _, id := range userIDs[start:end] {
						items = append(items, ref.New("AcmeUser", id))
					}
					hasMore := end < len(userIDs)
					cursor := ""
					if hasMore {
						cursor = userIDs[end-1]
					}
					return engine.Page{Items: items, HasMore: hasMore, Cursor: cursor}, nil
				},
			},
			{
				Name: "getUser",
				Kind: registry.KindEntity,
				Entity: func(ctx context.Context, r ref.Ref) (engine.EntityInput, error) {
					return engine.EntityInput{"displayName": "user-" + r.ID, "email": r.ID + "@example.com"}, nil
				},
			},
		},
		flowcontrol.NoOp{},
	)

	meta := syncmemory.New()
	run := runner.New(reg, eng, meta, runner.WithPageSize(pageSize))
	store := memorystore.New()
	ex := New(run, store, Options{Workers: 4})
	return ex, eng
}

func happyPathPlan() plan.Plan {
	workspace := ref.New("AcmeWorkspace", "ws1")
	return plan.New(
		plan.ForRootStep(workspace, plan.LoadCollectionOp("users")),
		plan.ForAllStep("AcmeUser", plan.LoadFieldsOp("displayName", "email")),
	)
}

func TestExecuteHappyPath(t *testing.T) {
	ex, eng := buildHappyPathExecutor(t, []string{"u1", "u2", "u3"}, 100, false)

	handle, err := ex.Execute(context.Background(), happyPathPlan())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := handle.Completion(ctx)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, result.Status)
	require.Zero(t, result.TasksFailed)
	require.Equal(t, 3, eng.count("AcmeUser"))

	for _, id := range []string{"u1", "u2", "u3"} {
		v, err := eng.Load(context.Background(), ref.New("AcmeUser", id))
		require.NoError(t, err)
		require.Equal(t, "user-"+id, v["displayName"])
	}
}

func TestExecutePagination(t *testing.T) {
	ex, eng := buildHappyPathExecutor(t, []string{"u1", "u2", "u3"}, 2, false)

	handle, err := ex.Execute(context.Background(), happyPathPlan())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := handle.Completion(ctx)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, 3, eng.count("AcmeUser"))
}

func TestExecuteLoaderFailureDoesNotHang(t *testing.T) {
	ex, eng := buildHappyPathExecutor(t, []string{"u1", "u2", "u3"}, 100, true)

	handle, err := ex.Execute(context.Background(), happyPathPlan())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := handle.Completion(ctx)
	require.NoError(t, err)

	require.GreaterOrEqual(t, result.TasksFailed, 1)
	require.Equal(t, 0, eng.count("AcmeUser"))
}

// TestExecuteRetriesRetryableLoaderError drives a loader that fails once
// with a Retryable error and succeeds on the second attempt, asserting the
// sync still completes with no failed tasks once the reschedule's backoff
// elapses (§4.4, §7).
func TestExecuteRetriesRetryableLoaderError(t *testing.T) {
	eng := newTestEngine()
	var failed atomic.Bool

	reg := registry.New(
		[]registry.EntityDef{{EntityType: "AcmeUser"}},
		[]registry.Resolver{
			{EntityType: "AcmeUser", FieldLoaders: map[string]string{"displayName": "getUser"}},
		},
		[]registry.Loader{
			{
				Name: "getUser",
				Kind: registry.KindEntity,
				Entity: func(ctx context.Context, r ref.Ref) (engine.EntityInput, error) {
					if !failed.Swap(true) {
						return nil, errs.New(errs.LoaderRetryable, "simulated transient upstream error")
					}
					return engine.EntityInput{"displayName": "user-" + r.ID}, nil
				},
			},
		},
		flowcontrol.NoOp{},
	)

	meta := syncmemory.New()
	run := runner.New(reg, eng, meta)
	store := memorystore.New()
	ex := New(run, store, Options{Workers: 2})

	target := ref.New("AcmeUser", "u1")
	p := plan.New(plan.ForOneStep(target, plan.LoadFieldsOp("displayName")))

	handle, err := ex.Execute(context.Background(), p)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := handle.Completion(ctx)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, result.Status)
	require.Zero(t, result.TasksFailed)
	require.Equal(t, 1, eng.count("AcmeUser"))
}

func TestExecuteSequentialOrdering(t *testing.T) {
	eng := newTestEngine()
	var mu sync.Mutex
	var order []string

	reg := registry.New(
		[]registry.EntityDef{{EntityType: "AcmeWorkspace"}},
		[]registry.Resolver{{EntityType: "AcmeWorkspace", FieldLoaders: map[string]string{"a": "loadA", "b": "loadB"}}},
		[]registry.Loader{
			{Name: "loadA", Kind: registry.KindEntity, Entity: func(ctx context.Context, r ref.Ref) (engine.EntityInput, error) {
				mu.Lock()
				order = append(order, "A")
				mu.Unlock()
				return engine.EntityInput{"a": 1}, nil
			}},
			{Name: "loadB", Kind: registry.KindEntity, Entity: func(ctx context.Context, r ref.Ref) (engine.EntityInput, error) {
				mu.Lock()
				order = append(order, "B")
				mu.Unlock()
				return engine.EntityInput{"b": 1}, nil
			}},
		},
		flowcontrol.NoOp{},
	)
	meta := syncmemory.New()
	run := runner.New(reg, eng, meta)
	store := memorystore.New()
	ex := New(run, store, Options{Workers: 4})

	ws := ref.New("AcmeWorkspace", "ws1")
	p := plan.New(
		plan.ForRootStep(ws, plan.LoadFieldsOp("a")),
		plan.ForRootStep(ws, plan.LoadFieldsOp("b")),
	)

	handle, err := ex.Execute(context.Background(), p)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = handle.Completion(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{"A", "B"}, order)
}

func TestExecuteConcurrentGroup(t *testing.T) {
	eng := newTestEngine()
	reg := registry.New(
		[]registry.EntityDef{{EntityType: "AcmeWorkspace"}},
		[]registry.Resolver{{EntityType: "AcmeWorkspace", FieldLoaders: map[string]string{"a": "loadA", "b": "loadB", "c": "loadC"}}},
		[]registry.Loader{
			{Name: "loadA", Kind: registry.KindEntity, Entity: func(ctx context.Context, r ref.Ref) (engine.EntityInput, error) {
				return engine.EntityInput{"a": 1}, nil
			}},
			{Name: "loadB", Kind: registry.KindEntity, Entity: func(ctx context.Context, r ref.Ref) (engine.EntityInput, error) {
				return engine.EntityInput{"b": 1}, nil
			}},
			{Name: "loadC", Kind: registry.KindEntity, Entity: func(ctx context.Context, r ref.Ref) (engine.EntityInput, error) {
				return engine.EntityInput{"c": 1}, nil
			}},
		},
		flowcontrol.NoOp{},
	)
	meta := syncmemory.New()
	run := runner.New(reg, eng, meta)
	store := memorystore.New()
	ex := New(run, store, Options{Workers: 4})

	ws := ref.New("AcmeWorkspace", "ws1")
	p := plan.New(plan.ConcurrentStep(
		plan.ForRootStep(ws, plan.LoadFieldsOp("a")),
		plan.ForRootStep(ws, plan.LoadFieldsOp("b")),
		plan.ForRootStep(ws, plan.LoadFieldsOp("c")),
	))

	handle, err := ex.Execute(context.Background(), p)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := handle.Completion(ctx)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, result.Status)
	got, err := eng.Load(context.Background(), ws)
	require.NoError(t, err)
	require.Equal(t, 1, got["a"])
	require.Equal(t, 1, got["b"])
	require.Equal(t, 1, got["c"])
}
