// Package errs implements the core error taxonomy: every error carries a
// boundary (the producer) and one or more facets (semantic traits), so
// callers can catch by exact code or by facet across process and RPC
// boundaries. Modeled after the teacher's plain fmt.Errorf/%w style, not a
// generic "errors" framework: Error is a concrete struct, not an interface
// hierarchy.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Facet is a reusable semantic trait attached to an error code.
type Facet string

const (
	BadInput       Facet = "BadInput"
	NotFound       Facet = "NotFound"
	NotImplemented Facet = "NotImplemented"
	Invariant      Facet = "Invariant"
	Retryable      Facet = "Retryable"
)

// Boundary names the subsystem that produced an error.
type Boundary string

const (
	BoundaryRef      Boundary = "ref"
	BoundaryRunner   Boundary = "runner"
	BoundaryRegistry Boundary = "registry"
	BoundaryTaskRun  Boundary = "taskrun"
	BoundaryRPC      Boundary = "rpc"
	BoundaryStore    Boundary = "store"
)

// Code uniquely names an error definition within its boundary.
type Code string

const (
	InvalidRefKey           Code = "InvalidRefKey"
	FieldNotLoaded          Code = "FieldNotLoaded"
	LoaderResultNotAvailable Code = "LoaderResultNotAvailable"
	BatchKeyMissing         Code = "BatchKeyMissing"
	BatchEmpty              Code = "BatchEmpty"
	ContextBuildFailed      Code = "ContextBuildFailed"
	UnknownEntityType       Code = "UnknownEntityType"
	NoResolver              Code = "NoResolver"
	NoCollectionLoader      Code = "NoCollectionLoader"
	LoaderDepsNotSupported  Code = "LoaderDepsNotSupported"
	UnknownSync             Code = "UnknownSync"
	InvalidPlan             Code = "InvalidPlan"
	InvalidRequest          Code = "InvalidRequest"
	LoaderRetryable         Code = "LoaderRetryable"
)

// definition is the static, registered shape of a Code: its boundary and
// the facets it carries. Enrichment (below) never changes these.
type definition struct {
	boundary Boundary
	facets   []Facet
}

var registry = map[Code]definition{
	InvalidRefKey:            {BoundaryRef, []Facet{BadInput}},
	FieldNotLoaded:           {BoundaryTaskRun, []Facet{Invariant}},
	LoaderResultNotAvailable: {BoundaryTaskRun, []Facet{NotFound}},
	BatchKeyMissing:          {BoundaryTaskRun, []Facet{Invariant}},
	BatchEmpty:               {BoundaryTaskRun, []Facet{Invariant}},
	ContextBuildFailed:       {BoundaryRunner, []Facet{BadInput}},
	UnknownEntityType:        {BoundaryRegistry, []Facet{BadInput}},
	NoResolver:               {BoundaryRegistry, []Facet{NotFound}},
	NoCollectionLoader:       {BoundaryRegistry, []Facet{NotFound}},
	LoaderDepsNotSupported:   {BoundaryRunner, []Facet{NotImplemented}},
	UnknownSync:              {BoundaryRPC, []Facet{NotFound}},
	InvalidPlan:              {BoundaryRPC, []Facet{BadInput}},
	InvalidRequest:           {BoundaryRPC, []Facet{BadInput}},
	LoaderRetryable:          {BoundaryRunner, []Facet{Retryable}},
}

// Error is the concrete type carried by this package: the error type of
// the core's taxonomy. Loader-supplied and storage errors are wrapped via
// Wrap where they cross a core boundary, so boundary/facet checks still
// work on them.
type Error struct {
	code     Code
	boundary Boundary
	facets   []Facet
	message  string
	data     map[string]any
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Unwrap exposes the cause chain to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Code returns the error's code.
func (e *Error) Code() Code { return e.code }

// Boundary returns the producing subsystem.
func (e *Error) Boundary() Boundary { return e.boundary }

// Facets returns the semantic traits attached to this error's code.
func (e *Error) Facets() []Facet { return e.facets }

// Data returns the enrichment map (never nil).
func (e *Error) Data() map[string]any {
	if e.data == nil {
		e.data = map[string]any{}
	}
	return e.data
}

// New constructs a registered error by code. Panics if code is unregistered
// — a programmer error, since Code values are a closed enum defined above.
func New(code Code, message string) *Error {
	def, ok := registry[code]
	if !ok {
		panic(fmt.Sprintf("errs: unregistered code %q", code))
	}
	return &Error{code: code, boundary: def.boundary, facets: def.facets, message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a registered code/boundary/facets to an arbitrary cause —
// typically a loader or storage error surfacing at a core boundary — while
// preserving the original error in the cause chain.
func Wrap(code Code, cause error, message string) *Error {
	e := New(code, message)
	e.cause = cause
	return e
}

// WithData enriches the error with a key/value fact (e.g. installation id,
// ref key) and returns the same error for chaining. Mutates in place, as
// with the teacher's registry-carries-fact enrichment model.
func (e *Error) WithData(key string, value any) *Error {
	e.Data()[key] = value
	return e
}

// Is reports whether err (or any error in its cause chain) is an *Error
// with the given code.
func Is(err error, code Code) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.code == code {
			return true
		}
		err = e.cause
	}
	return false
}

// Has reports whether err (or any error in its cause chain) carries the
// given facet.
func Has(err error, facet Facet) bool {
	var e *Error
	for errors.As(err, &e) {
		for _, f := range e.facets {
			if f == facet {
				return true
			}
		}
		err = e.cause
	}
	return false
}

// wireError is the JSON shape exchanged across the RPC boundary (§6/§7).
type wireError struct {
	Code     Code           `json:"code"`
	Boundary Boundary       `json:"boundary"`
	Facets   []Facet        `json:"facets"`
	Data     map[string]any `json:"data,omitempty"`
	Message  string         `json:"message"`
	Cause    *wireError     `json:"cause,omitempty"`
}

// Serialize renders err into the RPC wire error shape. Non-*Error causes in
// the chain are flattened into a plain message-only wireError leaf.
func Serialize(err error) json.RawMessage {
	raw, _ := json.Marshal(toWire(err))
	return raw
}

func toWire(err error) *wireError {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return &wireError{Message: err.Error()}
	}
	w := &wireError{
		Code:     e.code,
		Boundary: e.boundary,
		Facets:   e.facets,
		Data:     e.data,
		Message:  e.message,
	}
	if e.cause != nil {
		w.Cause = toWire(e.cause)
	}
	return w
}

// Reconstitute parses a wire error back into an *Error whose Is/Has checks
// behave exactly as they did on the producing side. The cause chain is
// preserved.
func Reconstitute(raw json.RawMessage) (*Error, error) {
	var w wireError
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("errs: malformed wire error: %w", err)
	}
	return fromWire(&w), nil
}

func fromWire(w *wireError) *Error {
	if w == nil {
		return nil
	}
	e := &Error{
		code:     w.Code,
		boundary: w.Boundary,
		facets:   w.Facets,
		message:  w.Message,
		data:     w.Data,
	}
	if w.Cause != nil {
		e.cause = fromWire(w.Cause)
	}
	return e
}
