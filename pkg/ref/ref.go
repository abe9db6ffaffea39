// Package ref implements the entity reference address space: a tagged
// (entityType, id, scope) triple plus its stable string form (RefKey).
package ref

import (
	"fmt"
	"strings"
)

// Scope distinguishes a ref that lives in the caller's own store from one
// that crosses an installation boundary. Scope is metadata, not identity:
// two refs are equal iff EntityType and ID match, regardless of Scope.
type Scope struct {
	// InstallationID is non-empty iff this is an installation-scoped ref.
	InstallationID string
}

// IsLocal reports whether the scope is the local (no installation) scope.
func (s Scope) IsLocal() bool {
	return s.InstallationID == ""
}

// Local is the zero-value local scope, kept as a named constant for callers
// that want to be explicit.
var Local = Scope{}

// Installation builds a scope tagged with the given installation id.
func Installation(installationID string) Scope {
	return Scope{InstallationID: installationID}
}

// Ref identifies one entity by type and id. Scope records where the ref
// was produced but never participates in equality.
type Ref struct {
	EntityType string
	ID         string
	Scope      Scope
}

// New builds a local-scope ref.
func New(entityType, id string) Ref {
	return Ref{EntityType: entityType, ID: id}
}

// NewInstallation builds an installation-scoped ref.
func NewInstallation(entityType, id, installationID string) Ref {
	return Ref{EntityType: entityType, ID: id, Scope: Installation(installationID)}
}

// Equal reports whether two refs name the same entity. Scope is ignored.
func (r Ref) Equal(other Ref) bool {
	return r.EntityType == other.EntityType && r.ID == other.ID
}

// Key renders the ref as its stable RefKey string:
//
//	"{entityType}:{id}"               for local scope
//	"{entityType}:{id}@{installationId}" for installation scope
func (r Ref) Key() string {
	if r.Scope.IsLocal() {
		return fmt.Sprintf("%s:%s", r.EntityType, r.ID)
	}
	return fmt.Sprintf("%s:%s@%s", r.EntityType, r.ID, r.Scope.InstallationID)
}

// String implements fmt.Stringer as the RefKey form.
func (r Ref) String() string {
	return r.Key()
}

// Parse is the total inverse of Key: it reconstructs a Ref from its RefKey
// string form. Returns an error wrapping ErrInvalidRefKey if key is not a
// well-formed RefKey.
func Parse(key string) (Ref, error) {
	typeAndRest, installationID, hasInstallation := cutLast(key, '@')

	entityType, id, ok := cutFirst(typeAndRest, ':')
	if !ok || entityType == "" || id == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRefKey, key)
	}

	if hasInstallation && installationID == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRefKey, key)
	}

	scope := Scope{}
	if hasInstallation {
		scope = Installation(installationID)
	}

	return Ref{EntityType: entityType, ID: id, Scope: scope}, nil
}

// ErrInvalidRefKey is returned by Parse when the input is not a valid
// RefKey. Wrapped into the pkg/errs taxonomy (BadInput, code InvalidRefKey)
// at call sites closer to the RPC/runner boundary.
var ErrInvalidRefKey = fmt.Errorf("invalid ref key")

func cutFirst(s string, sep byte) (before, after string, found bool) {
	i := strings.IndexByte(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

func cutLast(s string, sep byte) (before, after string, found bool) {
	i := strings.LastIndexByte(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}
