// Package sqlite implements taskstore.Store on SQLite, using the
// teacher's driver of choice (github.com/ncruces/go-sqlite3, a pure-Go/
// WASM build with no cgo dependency) and its connection-setup idiom:
// WAL journalling, a bounded connection pool, and a busy-timeout pragma
// so concurrent claimers block briefly instead of erroring under
// contention.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/maxdata-sh/max-sub001/internal/dbconn"
)

// Store is a SQLite-backed taskstore.Store.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens (creating if necessary) the sqlite database at path and
// applies schema migrations. path may be ":memory:" for an ephemeral,
// single-connection store used by tests.
func Open(ctx context.Context, path string) (*Store, error) {
	return OpenWithTimeout(ctx, path, 30*time.Second)
}

// OpenWithTimeout is Open with a configurable SQLITE_BUSY retry window.
func OpenWithTimeout(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	db, err := dbconn.Open(ctx, path, "syncengine-taskstore", busyTimeout)
	if err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		return s.db.Close()
	}
	return nil
}
