// Package engine declares the storage collaborator's interface. The
// sync execution engine treats it as a black box: this package has no
// implementation, only the contract the Task Runner is written against.
// A real implementation lives outside the core (the federation layer's
// per-installation store); tests use a minimal in-memory stand-in under
// internal/executor's test files.
package engine

import (
	"context"

	"github.com/maxdata-sh/max-sub001/pkg/ref"
)

// EntityInput is a bag of field values a loader produced for one entity,
// keyed by field name. The Task Runner writes it through Store without
// interpreting it further.
type EntityInput map[string]any

// ProjectionKind discriminates what a Page request asks the Engine for.
type ProjectionKind int

const (
	// ProjectRefs asks for bare refs (e.g. "every AcmeUser id").
	ProjectRefs ProjectionKind = iota
	// ProjectSelect asks for specific fields alongside each ref.
	ProjectSelect
	// ProjectAll asks for every known field alongside each ref.
	ProjectAll
)

// Projection selects what loadPage returns per item.
type Projection struct {
	Kind   ProjectionKind
	Fields []string // meaningful iff Kind == ProjectSelect
}

// RefsProjection requests bare refs.
func RefsProjection() Projection { return Projection{Kind: ProjectRefs} }

// SelectProjection requests the given fields.
func SelectProjection(fields ...string) Projection {
	return Projection{Kind: ProjectSelect, Fields: fields}
}

// AllProjection requests every known field.
func AllProjection() Projection { return Projection{Kind: ProjectAll} }

// PageRequest is a single page of a paginated query.
type PageRequest struct {
	Cursor string // empty on the first page
	Limit  int
}

// Page is one page of results, keyed by ref.
type Page struct {
	Items   []ref.Ref
	HasMore bool
	Cursor  string // opaque continuation token, meaningful iff HasMore
}

// Engine is the storage collaborator. All methods are safe for concurrent
// use; Store on the same ref by disjoint field sets from different
// goroutines is expected and need not serialise beyond last-writer-wins
// on overlapping fields (§5).
type Engine interface {
	// Load returns the full stored entity for r, or (nil, nil) if unknown.
	Load(ctx context.Context, r ref.Ref) (EntityInput, error)

	// LoadField returns one field's stored value for r.
	LoadField(ctx context.Context, r ref.Ref, field string) (any, bool, error)

	// LoadCollection returns the stored child refs for a collection field.
	LoadCollection(ctx context.Context, r ref.Ref, field string) ([]ref.Ref, error)

	// Store upserts the given fields for r. Concurrent stores targeting
	// disjoint field sets on the same ref are safe; overlapping fields
	// are last-writer-wins.
	Store(ctx context.Context, r ref.Ref, input EntityInput) error

	// LoadPage returns one page of refs of entityType (entityType == "" is
	// invalid), honoring projection and the requested page.
	LoadPage(ctx context.Context, entityType string, projection Projection, page PageRequest) (Page, error)

	// Query resolves an opaque, connector-defined query string. Out of
	// scope for the core (§1 Non-goals: query language); the core never
	// calls this itself, it exists so the interface matches the
	// federation boundary's describe/schema/engine surface.
	Query(ctx context.Context, query string) (any, error)
}
