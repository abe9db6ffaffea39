package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maxdata-sh/max-sub001/internal/taskstore"
)

// encodePayload/decodePayload round-trip taskstore.Payload through the
// tasks.payload JSON column. Payload is already a tagged union (see
// taskstore.Task), so this is a direct marshal/unmarshal, no translation
// layer.
func encodePayload(p taskstore.Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(raw string) (taskstore.Payload, error) {
	var p taskstore.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func unixMillis(t time.Time) int64 { return t.UnixMilli() }

func fromUnixMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// scanTask scans one row from a `SELECT id, sync_id, state, payload,
// parent_id, blocked_by, not_before, attempt, created_at, completed_at,
// error` query into a taskstore.Task.
func scanTask(row interface {
	Scan(dest ...any) error
}) (*taskstore.Task, error) {
	var (
		t           taskstore.Task
		payloadRaw  string
		parentID    sql.NullInt64
		blockedBy   sql.NullInt64
		notBefore   sql.NullInt64
		createdAt   int64
		completedAt sql.NullInt64
		errMsg      sql.NullString
	)

	if err := row.Scan(&t.ID, &t.SyncID, &t.State, &payloadRaw, &parentID, &blockedBy, &notBefore, &t.Attempt, &createdAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}

	payload, err := decodePayload(payloadRaw)
	if err != nil {
		return nil, err
	}
	t.Payload = payload
	t.CreatedAt = fromUnixMillis(createdAt)

	if parentID.Valid {
		v := parentID.Int64
		t.ParentID = &v
	}
	if blockedBy.Valid {
		v := blockedBy.Int64
		t.BlockedBy = &v
	}
	if notBefore.Valid {
		v := fromUnixMillis(notBefore.Int64)
		t.NotBefore = &v
	}
	if completedAt.Valid {
		v := fromUnixMillis(completedAt.Int64)
		t.CompletedAt = &v
	}
	if errMsg.Valid {
		t.Error = errMsg.String
	}

	return &t, nil
}

const taskColumns = `id, sync_id, state, payload, parent_id, blocked_by, not_before, attempt, created_at, completed_at, error`
