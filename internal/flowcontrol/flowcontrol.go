// Package flowcontrol implements the Flow Controller (§4.3): acquire/
// release tokens for rate-limited operation classes, keyed by loader
// name. Pluggable; the default is a no-op so the core never forces a
// connector to think about rate limiting it doesn't need.
package flowcontrol

import "context"

// Release is returned by Acquire and must be called exactly once, on
// every exit path (including errors), to give the token back.
type Release func()

// Controller gates concurrent access to a named operation class. Tokens
// are refcounts, never held across a suspension point other than the
// gated call itself (§5).
type Controller interface {
	// Acquire blocks until a token for key is available or ctx is done,
	// then returns a Release to call when the gated operation finishes.
	Acquire(ctx context.Context, key string) (Release, error)
}

// NoOp is a Controller that never blocks — the default when a connector
// declares no flow-control policy.
type NoOp struct{}

func (NoOp) Acquire(context.Context, string) (Release, error) {
	return func() {}, nil
}
