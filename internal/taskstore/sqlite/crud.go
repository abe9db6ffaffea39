package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maxdata-sh/max-sub001/internal/taskstore"
)

func (s *Store) Enqueue(ctx context.Context, t taskstore.Task) (int64, error) {
	payload, err := encodePayload(t.Payload)
	if err != nil {
		return 0, err
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (sync_id, state, payload, parent_id, blocked_by, not_before, attempt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.SyncID, t.State, payload, nullableID(t.ParentID), nullableID(t.BlockedBy), nullableTime(t.NotBefore), t.Attempt, unixMillis(createdAt))
	if err != nil {
		return 0, fmt.Errorf("taskstore/sqlite: enqueue: %w", err)
	}
	return res.LastInsertId()
}

// EnqueueGraph inserts every template in a single transaction, rewriting
// TempID references into real ids as each row is inserted — mirroring the
// teacher's RunInTransaction pattern (internal/storage Transaction
// interface) where a whole batch either lands atomically or not at all.
//
// Single-pass: a template can only reference a TempID already inserted
// earlier in the slice, unlike taskstore/memory's two-pass resolve which
// tolerates forward references. materialize always orders blockers and
// parents ahead of their dependents, so this holds today, but the two
// backends diverge if a future template shape stops guaranteeing that order.
func (s *Store) EnqueueGraph(ctx context.Context, templates []taskstore.Template) (map[string]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: enqueueGraph begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tempToReal := make(map[string]int64, len(templates))
	now := unixMillis(time.Now().UTC())

	for _, tmpl := range templates {
		payload, err := encodePayload(tmpl.Payload)
		if err != nil {
			return nil, err
		}

		var parentID, blockedBy sql.NullInt64
		if tmpl.ParentTemp != "" {
			real, ok := tempToReal[tmpl.ParentTemp]
			if !ok {
				return nil, fmt.Errorf("taskstore/sqlite: enqueueGraph: %s references unknown parent temp %s", tmpl.TempID, tmpl.ParentTemp)
			}
			parentID = sql.NullInt64{Int64: real, Valid: true}
		}
		if tmpl.BlockedByTemp != "" {
			real, ok := tempToReal[tmpl.BlockedByTemp]
			if !ok {
				return nil, fmt.Errorf("taskstore/sqlite: enqueueGraph: %s references unknown blockedBy temp %s", tmpl.TempID, tmpl.BlockedByTemp)
			}
			blockedBy = sql.NullInt64{Int64: real, Valid: true}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (sync_id, state, payload, parent_id, blocked_by, not_before, attempt, created_at)
			VALUES (?, ?, ?, ?, ?, NULL, 0, ?)
		`, tmpl.SyncID, tmpl.State, payload, parentID, blockedBy, now)
		if err != nil {
			return nil, fmt.Errorf("taskstore/sqlite: enqueueGraph insert %s: %w", tmpl.TempID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("taskstore/sqlite: enqueueGraph last insert id: %w", err)
		}
		tempToReal[tmpl.TempID] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: enqueueGraph commit: %w", err)
	}
	return tempToReal, nil
}

// EnqueueChildren inserts payloads as children of parentID in one
// transaction, all starting pending — the atomic insert the scheduler
// needs at step 4c of plan execution (§4.4).
func (s *Store) EnqueueChildren(ctx context.Context, syncID string, parentID int64, payloads []taskstore.Payload) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: enqueueChildren begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := unixMillis(time.Now().UTC())
	ids := make([]int64, len(payloads))
	for i, p := range payloads {
		payload, err := encodePayload(p)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (sync_id, state, payload, parent_id, blocked_by, not_before, attempt, created_at)
			VALUES (?, ?, ?, ?, NULL, NULL, 0, ?)
		`, syncID, taskstore.StatePending, payload, parentID, now)
		if err != nil {
			return nil, fmt.Errorf("taskstore/sqlite: enqueueChildren insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("taskstore/sqlite: enqueueChildren last insert id: %w", err)
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: enqueueChildren commit: %w", err)
	}
	return ids, nil
}

// Claim uses the teacher's compare-and-swap UPDATE pattern (ClaimIssue in
// internal/storage/dolt/issues.go): a single conditional UPDATE either
// flips exactly one row or affects zero rows, so no explicit transaction
// or row lock is needed to make concurrent claimers race-free.
func (s *Store) Claim(ctx context.Context, syncID string) (*taskstore.Task, error) {
	now := unixMillis(time.Now().UTC())

	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM tasks
		WHERE sync_id = ? AND state = ? AND (not_before IS NULL OR not_before <= ?)
		ORDER BY id
		LIMIT 1
	`, syncID, taskstore.StatePending, now)

	var id int64
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("taskstore/sqlite: claim select: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ? WHERE id = ? AND state = ?
	`, taskstore.StateRunning, id, taskstore.StatePending)
	if err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: claim update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: claim rows affected: %w", err)
	}
	if affected == 0 {
		// Lost the race to another claimer between select and update;
		// the caller's poll loop will try again.
		return nil, nil
	}

	return s.Get(ctx, id)
}

func (s *Store) Complete(ctx context.Context, id int64) (*taskstore.Task, error) {
	now := unixMillis(time.Now().UTC())
	if _, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, completed_at = ? WHERE id = ?
	`, taskstore.StateCompleted, now, id); err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: complete: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *Store) SetAwaitingChildren(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET state = ? WHERE id = ?`, taskstore.StateAwaitingChildren, id)
	if err != nil {
		return fmt.Errorf("taskstore/sqlite: setAwaitingChildren: %w", err)
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, id int64, errMsg string) error {
	now := unixMillis(time.Now().UTC())
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, error = ?, completed_at = ? WHERE id = ?
	`, taskstore.StateFailed, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("taskstore/sqlite: fail: %w", err)
	}
	return nil
}

func (s *Store) Reschedule(ctx context.Context, id int64, notBefore time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, not_before = ?, attempt = attempt + 1, error = ? WHERE id = ?
	`, taskstore.StatePending, unixMillis(notBefore), errMsg, id)
	if err != nil {
		return fmt.Errorf("taskstore/sqlite: reschedule: %w", err)
	}
	return nil
}

func (s *Store) UnblockDependents(ctx context.Context, id int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ? WHERE blocked_by = ? AND state = ?
	`, taskstore.StatePending, id, taskstore.StateNew)
	if err != nil {
		return 0, fmt.Errorf("taskstore/sqlite: unblockDependents: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("taskstore/sqlite: unblockDependents rows affected: %w", err)
	}
	return int(affected), nil
}

func (s *Store) AllChildrenComplete(ctx context.Context, parentID int64) (bool, error) {
	var total, terminal int
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN state IN (?, ?, ?) THEN 1 ELSE 0 END)
		FROM tasks WHERE parent_id = ?
	`, taskstore.StateCompleted, taskstore.StateFailed, taskstore.StateCancelled, parentID)
	if err := row.Scan(&total, &terminal); err != nil {
		return false, fmt.Errorf("taskstore/sqlite: allChildrenComplete: %w", err)
	}
	return total > 0 && total == terminal, nil
}

func (s *Store) HasActiveTasks(ctx context.Context, syncID string) (bool, error) {
	var count int
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE sync_id = ? AND state IN (?, ?, ?, ?)
	`, syncID, taskstore.StatePending, taskstore.StateRunning, taskstore.StateAwaitingChildren, taskstore.StateNew)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("taskstore/sqlite: hasActiveTasks: %w", err)
	}
	return count > 0, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*taskstore.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: get: %w", err)
	}
	return t, nil
}

func (s *Store) ListBySync(ctx context.Context, syncID string) ([]taskstore.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE sync_id = ? ORDER BY id`, syncID)
	if err != nil {
		return nil, fmt.Errorf("taskstore/sqlite: listBySync: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []taskstore.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("taskstore/sqlite: listBySync scan: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) Pause(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET state = ? WHERE id = ?`, taskstore.StatePaused, id)
	if err != nil {
		return fmt.Errorf("taskstore/sqlite: pause: %w", err)
	}
	return nil
}

func (s *Store) Cancel(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET state = ? WHERE id = ?`, taskstore.StateCancelled, id)
	if err != nil {
		return fmt.Errorf("taskstore/sqlite: cancel: %w", err)
	}
	return nil
}

func (s *Store) PauseSync(ctx context.Context, syncID string) error {
	return s.bulkSetState(ctx, syncID, taskstore.StatePaused)
}

func (s *Store) CancelSync(ctx context.Context, syncID string) error {
	return s.bulkSetState(ctx, syncID, taskstore.StateCancelled)
}

func (s *Store) bulkSetState(ctx context.Context, syncID string, newState taskstore.State) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?
		WHERE sync_id = ? AND state NOT IN (?, ?, ?)
	`, newState, syncID, taskstore.StateCompleted, taskstore.StateFailed, taskstore.StateCancelled)
	if err != nil {
		return fmt.Errorf("taskstore/sqlite: bulkSetState(%s): %w", newState, err)
	}
	return nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: unixMillis(*t), Valid: true}
}
