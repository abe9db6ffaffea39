// Package syncmeta implements the Sync Metadata Store (§4.2): per-entity,
// per-field last-sync timestamps and the staleness query built on top of
// them. Persists across sync runs, unlike the Task Store.
package syncmeta

import (
	"context"
	"time"
)

// Record is one (refKey, field) -> lastSyncedAt fact.
type Record struct {
	RefKey     string
	Field      string
	SyncedAt time.Time
}

// Store is the Sync Metadata Store contract.
type Store interface {
	// Record upserts the last-synced timestamp for (refKey, field).
	Record(ctx context.Context, refKey, field string, syncedAt time.Time) error

	// RecordFields is Record for every field in one call, sharing a
	// single syncedAt timestamp — the common case when a loader populates
	// several fields from one API response.
	RecordFields(ctx context.Context, refKey string, fields []string, syncedAt time.Time) error

	// LastSynced returns the last-synced timestamp for (refKey, field), or
	// (zero, false) if never synced.
	LastSynced(ctx context.Context, refKey, field string) (time.Time, bool, error)

	// IsStale reports whether (refKey, field) is stale: never synced, or
	// now-lastSyncedAt > maxAge.
	IsStale(ctx context.Context, refKey, field string, maxAge time.Duration, now time.Time) (bool, error)

	// Close releases any resources held by the store.
	Close() error
}
