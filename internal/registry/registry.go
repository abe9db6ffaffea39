// Package registry implements the Execution Registry (§4.2): a built-once
// index over a connector's resolvers, mapping (entityType, fieldName) to
// the loader that owns it, and entityType to its resolver.
package registry

import (
	"context"

	"github.com/maxdata-sh/max-sub001/internal/flowcontrol"
	"github.com/maxdata-sh/max-sub001/pkg/engine"
	"github.com/maxdata-sh/max-sub001/pkg/ref"
)

// LoaderKind discriminates the four loader variants (§4.2, design notes:
// tagged union with a single kind discriminator, dispatch by switch — no
// dynamic inheritance).
type LoaderKind int

const (
	KindEntity LoaderKind = iota
	KindEntityBatched
	KindCollection
	KindRaw
)

// Batch is the result of an entityBatched loader call: keyed by ref, may
// omit refs the upstream API didn't return.
type Batch struct {
	items map[string]engine.EntityInput // keyed by ref.Key()
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch {
	return &Batch{items: make(map[string]engine.EntityInput)}
}

// Set stores the input for r.
func (b *Batch) Set(r ref.Ref, input engine.EntityInput) {
	b.items[r.Key()] = input
}

// Get returns the input stored for r, if any.
func (b *Batch) Get(r ref.Ref) (engine.EntityInput, bool) {
	v, ok := b.items[r.Key()]
	return v, ok
}

// Loader is a single unit of external data-fetching. Exactly one of the
// Entity/EntityBatched/Collection/Raw functions is set, selected by Kind.
type Loader struct {
	Name string
	Kind LoaderKind

	// DependsOn names other loaders this loader's result depends on.
	// Non-empty is rejected by the runner (§4.3 step 3): loader-to-loader
	// dependency isn't supported in this implementation.
	DependsOn []string

	Entity         func(ctx context.Context, r ref.Ref) (engine.EntityInput, error)
	EntityBatched  func(ctx context.Context, refs []ref.Ref) (*Batch, error)
	Collection     func(ctx context.Context, r ref.Ref, page engine.PageRequest) (engine.Page, error)
	Raw            func(ctx context.Context) (any, error)
}

// Resolver maps each field of one entity type to the loader that owns it.
type Resolver struct {
	EntityType string
	// FieldLoaders maps field name -> loader name.
	FieldLoaders map[string]string
}

// EntityDef is the connector-declared shape of one entity type. The core
// only needs its name; the full field schema is a connector-module
// concern kept out of scope (§1).
type EntityDef struct {
	EntityType string
}

// Registry is the built-once index over one connector's resolvers and
// loaders.
type Registry struct {
	entities  map[string]EntityDef
	resolvers map[string]Resolver
	loaders   map[string]Loader
	flow      flowcontrol.Controller
}

// New builds a Registry from the connector's declared entities, resolvers
// and loaders. Cyclic entity references (e.g. Channel<->Team) are fine:
// entities are stored in a flat, name-keyed arena rather than nested
// structurally, so no late-binding step is required (design notes).
func New(entities []EntityDef, resolvers []Resolver, loaders []Loader, flow flowcontrol.Controller) *Registry {
	if flow == nil {
		flow = flowcontrol.NoOp{}
	}
	r := &Registry{
		entities:  make(map[string]EntityDef, len(entities)),
		resolvers: make(map[string]Resolver, len(resolvers)),
		loaders:   make(map[string]Loader, len(loaders)),
		flow:      flow,
	}
	for _, e := range entities {
		r.entities[e.EntityType] = e
	}
	for _, res := range resolvers {
		r.resolvers[res.EntityType] = res
	}
	for _, l := range loaders {
		r.loaders[l.Name] = l
	}
	return r
}

// GetEntity looks up an entity definition by type name.
func (r *Registry) GetEntity(entityType string) (EntityDef, bool) {
	e, ok := r.entities[entityType]
	return e, ok
}

// GetResolver looks up the resolver for an entity type.
func (r *Registry) GetResolver(entityType string) (Resolver, bool) {
	res, ok := r.resolvers[entityType]
	return res, ok
}

// GetLoader looks up a loader by name.
func (r *Registry) GetLoader(loaderName string) (Loader, bool) {
	l, ok := r.loaders[loaderName]
	return l, ok
}

// Flow returns the registry's Flow Controller, for the runner to acquire
// tokens against before calling a loader.
func (r *Registry) Flow() flowcontrol.Controller {
	return r.flow
}

// Entities lists every registered entity definition, for the federation
// boundary's schema() introspection call (§4.5).
func (r *Registry) Entities() []EntityDef {
	out := make([]EntityDef, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	return out
}

// Resolvers lists every registered resolver, for schema() introspection.
func (r *Registry) Resolvers() []Resolver {
	out := make([]Resolver, 0, len(r.resolvers))
	for _, res := range r.resolvers {
		out = append(out, res)
	}
	return out
}
