// Package sqlite implements syncmeta.Store on SQLite, sharing the
// connection-opening helper with taskstore/sqlite (internal/dbconn).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/maxdata-sh/max-sub001/internal/dbconn"
)

// Store is a SQLite-backed syncmeta.Store.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_meta (
	ref_key   TEXT NOT NULL,
	field     TEXT NOT NULL,
	synced_at INTEGER NOT NULL,
	PRIMARY KEY (ref_key, field)
)`

// Open opens (creating if necessary) the sqlite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	return OpenWithTimeout(ctx, path, 30*time.Second)
}

// OpenWithTimeout is Open with a configurable SQLITE_BUSY retry window.
func OpenWithTimeout(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	db, err := dbconn.Open(ctx, path, "syncengine-syncmeta", busyTimeout)
	if err != nil {
		return nil, fmt.Errorf("syncmeta/sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("syncmeta/sqlite: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Record(ctx context.Context, refKey, field string, syncedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (ref_key, field, synced_at) VALUES (?, ?, ?)
		ON CONFLICT(ref_key, field) DO UPDATE SET synced_at = excluded.synced_at
	`, refKey, field, syncedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("syncmeta/sqlite: record: %w", err)
	}
	return nil
}

func (s *Store) RecordFields(ctx context.Context, refKey string, fields []string, syncedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("syncmeta/sqlite: recordFields begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_meta (ref_key, field, synced_at) VALUES (?, ?, ?)
		ON CONFLICT(ref_key, field) DO UPDATE SET synced_at = excluded.synced_at
	`)
	if err != nil {
		return fmt.Errorf("syncmeta/sqlite: recordFields prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, field := range fields {
		if _, err := stmt.ExecContext(ctx, refKey, field, syncedAt.UnixMilli()); err != nil {
			return fmt.Errorf("syncmeta/sqlite: recordFields exec(%s): %w", field, err)
		}
	}
	return tx.Commit()
}

func (s *Store) LastSynced(ctx context.Context, refKey, field string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `
		SELECT synced_at FROM sync_meta WHERE ref_key = ? AND field = ?
	`, refKey, field).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("syncmeta/sqlite: lastSynced: %w", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (s *Store) IsStale(ctx context.Context, refKey, field string, maxAge time.Duration, now time.Time) (bool, error) {
	syncedAt, ok, err := s.LastSynced(ctx, refKey, field)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return now.Sub(syncedAt) > maxAge, nil
}
