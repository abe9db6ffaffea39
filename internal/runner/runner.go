// Package runner implements the Task Runner (§4.3): stateless execution of
// one task. Given a payload, it calls the appropriate loader(s), writes
// results to the Engine, records sync metadata, and returns zero or more
// child payloads for the Sync Executor to enqueue.
package runner

import (
	"context"
	"time"

	"github.com/maxdata-sh/max-sub001/internal/registry"
	"github.com/maxdata-sh/max-sub001/internal/syncmeta"
	"github.com/maxdata-sh/max-sub001/internal/taskstore"
	"github.com/maxdata-sh/max-sub001/pkg/engine"
	"github.com/maxdata-sh/max-sub001/pkg/errs"
	"github.com/maxdata-sh/max-sub001/pkg/ref"
)

// DefaultPageSize is PAGE_SIZE from §4.3: the page width used for every
// forAll/cursor-driven query the runner issues against the Engine.
const DefaultPageSize = 100

// wrapLoaderErr wraps a connector loader's own error, preserving its
// Retryable facet (§7) when present instead of collapsing every loader
// failure into the same non-retryable code — a Retryable cause (e.g. a
// rate limit or timeout) is what lets the Sync Executor reschedule the
// task instead of hard-failing it.
func wrapLoaderErr(cause error, msg string) error {
	if errs.Has(cause, errs.Retryable) {
		return errs.Wrap(errs.LoaderRetryable, cause, msg)
	}
	return errs.Wrap(errs.LoaderResultNotAvailable, cause, msg)
}

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithPageSize overrides DefaultPageSize, for tests that want to exercise
// pagination without 100 fixtures.
func WithPageSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// Runner executes one task at a time. It is stateless and safe for
// concurrent use by many scheduler loops against the same registry/engine.
type Runner struct {
	registry *registry.Registry
	engine   engine.Engine
	meta     syncmeta.Store
	pageSize int
}

// New builds a Runner over the given collaborators.
func New(reg *registry.Registry, eng engine.Engine, meta syncmeta.Store, opts ...Option) *Runner {
	r := &Runner{registry: reg, engine: eng, meta: meta, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes task and returns the child payloads it produces (empty for
// most leaf work; non-empty for forAll continuations and group expansion).
// Errors are always *errs.Error so the scheduler can branch on facets.
func (r *Runner) Run(ctx context.Context, task *taskstore.Task) ([]taskstore.Payload, error) {
	switch task.Payload.Kind {
	case taskstore.PayloadSyncGroup:
		// Synthetic: never executes. The executor places sync-group tasks
		// directly into awaiting_children without calling Run; reaching
		// here is a caller error.
		return nil, errs.New(errs.FieldNotLoaded, "sync-group tasks are not runnable")
	case taskstore.PayloadSyncStep:
		return r.runSyncStep(ctx, task)
	case taskstore.PayloadLoadFields:
		return r.runLoadFields(ctx, task)
	case taskstore.PayloadLoadCollection:
		return r.runLoadCollection(ctx, task)
	default:
		return nil, errs.Newf(errs.FieldNotLoaded, "unknown payload kind %q", task.Payload.Kind)
	}
}

func (r *Runner) runSyncStep(ctx context.Context, task *taskstore.Task) ([]taskstore.Payload, error) {
	p := task.Payload

	if !p.Target.IsAll {
		target, err := ref.Parse(p.Target.RefKey)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidRefKey, err, "sync-step target")
		}
		if p.OpIsCollection {
			return r.executeLoadCollectionForRef(ctx, task.SyncID, target, p.Field, "")
		}
		return nil, r.processLoadFieldsForRef(ctx, target, p.Fields)
	}

	// forAll: query one page of refs of the entity type and fan out.
	page, err := r.engine.LoadPage(ctx, p.Target.EntityType, engine.RefsProjection(), engine.PageRequest{Cursor: p.Cursor, Limit: r.pageSize})
	if err != nil {
		return nil, errs.Wrap(errs.LoaderResultNotAvailable, err, "forAll loadPage")
	}

	if p.OpIsCollection {
		return r.fanOutCollectionPage(page, p), nil
	}

	for _, target := range page.Items {
		if err := r.processLoadFieldsForRef(ctx, target, p.Fields); err != nil {
			return nil, err
		}
	}
	var children []taskstore.Payload
	if page.HasMore {
		children = append(children, taskstore.Payload{
			Kind:   taskstore.PayloadLoadFields,
			Cursor: page.Cursor,
			Fields: p.Fields,
			Target: p.Target,
		})
	}
	return children, nil
}

// runLoadFields handles a forAll continuation: either a direct ref-list
// payload (§4.3 "load-fields ... ref-list payload: execute directly") or a
// cursor payload that re-queries the next page.
func (r *Runner) runLoadFields(ctx context.Context, task *taskstore.Task) ([]taskstore.Payload, error) {
	p := task.Payload

	if len(p.RefKeys) > 0 {
		for _, key := range p.RefKeys {
			target, err := ref.Parse(key)
			if err != nil {
				return nil, errs.Wrap(errs.InvalidRefKey, err, "load-fields ref-list")
			}
			if err := r.processLoadFieldsForRef(ctx, target, p.Fields); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	page, err := r.engine.LoadPage(ctx, p.Target.EntityType, engine.RefsProjection(), engine.PageRequest{Cursor: p.Cursor, Limit: r.pageSize})
	if err != nil {
		return nil, errs.Wrap(errs.LoaderResultNotAvailable, err, "load-fields cursor loadPage")
	}
	for _, target := range page.Items {
		if err := r.processLoadFieldsForRef(ctx, target, p.Fields); err != nil {
			return nil, err
		}
	}
	if !page.HasMore {
		return nil, nil
	}
	return []taskstore.Payload{{
		Kind:   taskstore.PayloadLoadFields,
		Cursor: page.Cursor,
		Fields: p.Fields,
		Target: p.Target,
	}}, nil
}

// runLoadCollection handles a single load-collection task: one page of one
// parent ref's collection field.
func (r *Runner) runLoadCollection(ctx context.Context, task *taskstore.Task) ([]taskstore.Payload, error) {
	p := task.Payload
	target, err := ref.Parse(p.Target.RefKey)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidRefKey, err, "load-collection target")
	}
	return r.executeLoadCollectionForRef(ctx, task.SyncID, target, p.Field, p.Cursor)
}

// fanOutCollectionPage turns one page of parent refs into one
// load-collection child per ref, plus a continuation child if the parent
// page itself has more pages (§4.3 forAll+loadCollection). The
// continuation replays the same sync-step payload with the next cursor,
// so it re-enters runSyncStep's forAll branch on its own turn.
func (r *Runner) fanOutCollectionPage(page engine.Page, p taskstore.Payload) []taskstore.Payload {
	children := make([]taskstore.Payload, 0, len(page.Items)+1)
	for _, parent := range page.Items {
		children = append(children, taskstore.Payload{
			Kind:   taskstore.PayloadLoadCollection,
			Target: taskstore.RefTarget{RefKey: parent.Key()},
			Field:  p.Field,
		})
	}
	if page.HasMore {
		children = append(children, taskstore.Payload{
			Kind:           taskstore.PayloadSyncStep,
			Target:         p.Target,
			OpIsCollection: true,
			Field:          p.Field,
			Cursor:         page.Cursor,
		})
	}
	return children
}

// executeLoadCollectionForRef (§4.3): acquire a flow token for the
// collection loader, fetch one page, store every item, record sync meta,
// and emit a continuation child if more pages remain.
func (r *Runner) executeLoadCollectionForRef(ctx context.Context, syncID string, target ref.Ref, field, cursor string) ([]taskstore.Payload, error) {
	resolver, ok := r.registry.GetResolver(target.EntityType)
	if !ok {
		return nil, errs.Newf(errs.NoResolver, "no resolver for entity type %q", target.EntityType)
	}
	loaderName, ok := resolver.FieldLoaders[field]
	if !ok {
		return nil, errs.Newf(errs.NoCollectionLoader, "no loader for %s.%s", target.EntityType, field)
	}
	loader, ok := r.registry.GetLoader(loaderName)
	if !ok || loader.Kind != registry.KindCollection {
		return nil, errs.Newf(errs.NoCollectionLoader, "loader %q is not a collection loader", loaderName)
	}
	if len(loader.DependsOn) > 0 {
		return nil, errs.Newf(errs.LoaderDepsNotSupported, "loader %q declares dependsOn, unsupported", loaderName)
	}

	release, err := r.registry.Flow().Acquire(ctx, loaderName)
	if err != nil {
		return nil, errs.Wrap(errs.ContextBuildFailed, err, "flow acquire")
	}
	defer release()

	page, err := loader.Collection(ctx, target, engine.PageRequest{Cursor: cursor, Limit: r.pageSize})
	if err != nil {
		return nil, wrapLoaderErr(err, "collection loader")
	}

	now := time.Now().UTC()
	for _, item := range page.Items {
		if err := r.engine.Store(ctx, item, engine.EntityInput{}); err != nil {
			return nil, errs.Wrap(errs.LoaderResultNotAvailable, err, "engine.store collection item")
		}
	}
	if err := r.meta.RecordFields(ctx, target.Key(), []string{field}, now); err != nil {
		return nil, errs.Wrap(errs.LoaderResultNotAvailable, err, "record sync meta")
	}

	if !page.HasMore {
		return nil, nil
	}
	return []taskstore.Payload{{
		Kind:   taskstore.PayloadLoadCollection,
		Target: taskstore.RefTarget{RefKey: target.Key()},
		Field:  field,
		Cursor: page.Cursor,
	}}, nil
}

// processLoadFieldsForRef implements the field-processing algorithm shared
// by every loadFields code path (§4.3 "Field processing (shared)", steps
// 1-7).
func (r *Runner) processLoadFieldsForRef(ctx context.Context, target ref.Ref, fields []string) error {
	resolver, ok := r.registry.GetResolver(target.EntityType)
	if !ok {
		return errs.Newf(errs.NoResolver, "no resolver for entity type %q", target.EntityType)
	}

	// Steps 1-2: drop fields with no loader, group the rest by loader name.
	byLoader := make(map[string][]string)
	for _, field := range fields {
		loaderName, ok := resolver.FieldLoaders[field]
		if !ok {
			continue
		}
		byLoader[loaderName] = append(byLoader[loaderName], field)
	}

	for loaderName, groupFields := range byLoader {
		if err := r.runFieldGroup(ctx, target, loaderName, groupFields); err != nil {
			return err
		}
	}
	return nil
}

// runFieldGroup executes steps 3-7 of the field-processing algorithm for
// one loader and the fields grouped under it.
func (r *Runner) runFieldGroup(ctx context.Context, target ref.Ref, loaderName string, fields []string) error {
	loader, ok := r.registry.GetLoader(loaderName)
	if !ok {
		return errs.Newf(errs.NoResolver, "no such loader %q", loaderName)
	}
	if len(loader.DependsOn) > 0 {
		return errs.Newf(errs.LoaderDepsNotSupported, "loader %q declares dependsOn, unsupported", loaderName)
	}

	release, err := r.registry.Flow().Acquire(ctx, loaderName)
	if err != nil {
		return errs.Wrap(errs.ContextBuildFailed, err, "flow acquire")
	}
	defer release()

	now := time.Now().UTC()

	switch loader.Kind {
	case registry.KindEntityBatched:
		batch, err := loader.EntityBatched(ctx, []ref.Ref{target})
		if err != nil {
			return wrapLoaderErr(err, "entityBatched loader")
		}
		input, ok := batch.Get(target)
		if !ok {
			return errs.Newf(errs.BatchKeyMissing, "batch result missing key %s", target.Key())
		}
		if err := r.engine.Store(ctx, target, input); err != nil {
			return errs.Wrap(errs.LoaderResultNotAvailable, err, "engine.store")
		}
		// Record sync meta for the full requested field group, not just the
		// fields actually present — absence means "not present upstream".
		if err := r.meta.RecordFields(ctx, target.Key(), fields, now); err != nil {
			return errs.Wrap(errs.LoaderResultNotAvailable, err, "record sync meta")
		}
		return nil

	case registry.KindEntity:
		input, err := loader.Entity(ctx, target)
		if err != nil {
			return wrapLoaderErr(err, "entity loader")
		}
		if err := r.engine.Store(ctx, target, input); err != nil {
			return errs.Wrap(errs.LoaderResultNotAvailable, err, "engine.store")
		}
		if err := r.meta.RecordFields(ctx, target.Key(), fields, now); err != nil {
			return errs.Wrap(errs.LoaderResultNotAvailable, err, "record sync meta")
		}
		return nil

	default:
		return errs.Newf(errs.NoResolver, "loader %q is not an entity/entityBatched loader", loaderName)
	}
}
