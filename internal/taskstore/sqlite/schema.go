package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order, once each, tracked in
// schema_migrations. Each is a single idempotent-on-replay statement
// block, matching the teacher's one-file-per-migration convention
// collapsed here into one ordered slice since the schema is small.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`,

	// §6 example row schema, plus an auto-assigned monotonic id and an
	// attempt counter for notBefore-gated retries (SPEC_FULL §3).
	`CREATE TABLE IF NOT EXISTS tasks (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		sync_id      TEXT NOT NULL,
		state        TEXT NOT NULL,
		payload      TEXT NOT NULL,
		parent_id    INTEGER,
		blocked_by   INTEGER,
		not_before   INTEGER,
		attempt      INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL,
		completed_at INTEGER,
		error        TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks (sync_id, state, not_before)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_blocked_by ON tasks (blocked_by)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks (parent_id, state)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, migrations[0]); err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("count applied migrations: %w", err)
	}

	for i := applied + 1; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, i); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i, err)
		}
	}
	return nil
}
