// Package dbconn centralises the SQLite connection-opening idiom shared
// by taskstore/sqlite and syncmeta/sqlite: both need the same WAL/
// busy-timeout/pool-sizing setup, grounded on the teacher's
// internal/storage/sqlite connection bring-up. Schema is left to the
// caller so each store still owns its own migrations.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	sqlite3 "github.com/ncruces/go-sqlite3"
)

var cacheOnce sync.Once

func ensureWASMCache() {
	cacheOnce.Do(func() {
		cacheDir := ""
		if userCache, err := os.UserCacheDir(); err == nil {
			cacheDir = filepath.Join(userCache, "syncengine", "wasm")
		}
		var cache wazero.CompilationCache
		if cacheDir != "" {
			if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
				cache = c
			}
		}
		if cache == nil {
			cache = wazero.NewCompilationCache()
		}
		sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	})
}

// Open opens path (or a private, single-connection in-memory database for
// ":memory:") with the teacher's pool-sizing and WAL conventions applied.
func Open(ctx context.Context, path string, dbName string, busyTimeout time.Duration) (*sql.DB, error) {
	ensureWASMCache()

	timeoutMs := int64(busyTimeout / time.Millisecond)

	var connStr string
	isInMemory := path == ":memory:"
	if isInMemory {
		connStr = fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(%d)", dbName, timeoutMs)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("dbconn: create directory: %w", err)
		}
		connStr = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, timeoutMs)
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("dbconn: open: %w", err)
	}

	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		maxConns := runtime.NumCPU() + 1
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(2)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("dbconn: enable WAL: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("dbconn: ping: %w", err)
	}
	return db, nil
}
