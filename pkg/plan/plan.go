// Package plan implements the declarative SyncPlan: the ordered sequence
// of Steps a seeder produces up front, before any task exists. The
// executor (internal/executor) walks a Plan once to materialise the root
// task graph; nothing in this package talks to storage.
package plan

import "github.com/maxdata-sh/max-sub001/pkg/ref"

// OperationKind discriminates the two leaf operations a Step can carry.
// Represented as a tagged union with a single kind field, per the design
// notes, rather than an interface hierarchy.
type OperationKind int

const (
	LoadFields OperationKind = iota
	LoadCollection
)

// Operation is the unit of work a leaf Step targets: a tagged union,
// selected by Kind. Exactly one of Fields/Field is meaningful.
type Operation struct {
	Kind   OperationKind
	Fields []string // meaningful iff Kind == LoadFields
	Field  string    // meaningful iff Kind == LoadCollection
}

// LoadFieldsOp builds a loadFields(field, ...) operation.
func LoadFieldsOp(fields ...string) Operation {
	return Operation{Kind: LoadFields, Fields: fields}
}

// LoadCollectionOp builds a loadCollection(field) operation.
func LoadCollectionOp(field string) Operation {
	return Operation{Kind: LoadCollection, Field: field}
}

// StepKind discriminates the four Step forms.
type StepKind int

const (
	ForRoot StepKind = iota
	ForOne
	ForAll
	Concurrent
)

// Step is one node of a SyncPlan. Exactly one field group is meaningful,
// selected by Kind — a tagged union, not a type hierarchy, so the
// executor can dispatch with a single switch (design notes, Loader
// variants / polymorphic refs guidance applied to plan Steps too).
type Step struct {
	Kind StepKind

	// Meaningful iff Kind is ForRoot or ForOne.
	Ref ref.Ref

	// Meaningful iff Kind is ForAll.
	EntityType string

	// Meaningful iff Kind is ForRoot, ForOne, or ForAll: the operation to
	// run against the targeted ref(s).
	Op Operation

	// Meaningful iff Kind == Concurrent: the sibling steps that run in
	// parallel and must all complete for this step to complete.
	Children []Step
}

// ForRootStep targets a single root entity known up front.
func ForRootStep(r ref.Ref, op Operation) Step {
	return Step{Kind: ForRoot, Ref: r, Op: op}
}

// ForOneStep targets one specific entity.
func ForOneStep(r ref.Ref, op Operation) Step {
	return Step{Kind: ForOne, Ref: r, Op: op}
}

// ForAllStep targets every entity of entityType currently in the store.
func ForAllStep(entityType string, op Operation) Step {
	return Step{Kind: ForAll, EntityType: entityType, Op: op}
}

// ConcurrentStep groups sibling steps that run in parallel.
func ConcurrentStep(children ...Step) Step {
	return Step{Kind: Concurrent, Children: children}
}

// Plan is an ordered sequence of top-level Steps, executed sequentially
// (each blocked on the previous one's completion); the children of a
// Concurrent step run in parallel with each other.
type Plan struct {
	Steps []Step
}

// New builds a Plan from an ordered step list.
func New(steps ...Step) Plan {
	return Plan{Steps: steps}
}
