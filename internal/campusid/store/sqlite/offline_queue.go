package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	dbpkg "github.com/BrandonDHaskell/campusid/internal/db"
)

// OfflineQueue is the scanner-local durable queue. Rows move from pending
// to synced or rejected and are never deleted.
type OfflineQueue struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewOfflineQueue(db *sql.DB, writer *dbpkg.Worker) *OfflineQueue {
	return &OfflineQueue{db: db, writer: writer}
}

func (q *OfflineQueue) Append(ctx context.Context, a types.AccessAttempt) (int64, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return 0, fmt.Errorf("Append encode: %w", err)
	}
	nowMs := time.Now().UTC().UnixMilli()

	var seq int64
	err = q.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO offline_queue(attempt_json, status, enqueued_at_ms, updated_at_ms)
VALUES (?, 'pending', ?, ?);
`, string(b), nowMs, nowMs)
		if err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		seq, err = res.LastInsertId()
		return err
	})
	return seq, err
}

func (q *OfflineQueue) Pending(ctx context.Context, limit int) ([]store.QueuedAttempt, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT seq, attempt_json, status, status_reason, enqueued_at_ms
FROM offline_queue
WHERE status = 'pending'
ORDER BY seq
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("Pending query: %w", err)
	}
	defer rows.Close()

	var out []store.QueuedAttempt
	for rows.Next() {
		var (
			e           store.QueuedAttempt
			raw, status string
			enqueuedMs  int64
		)
		if err := rows.Scan(&e.Seq, &raw, &status, &e.Reason, &enqueuedMs); err != nil {
			return nil, fmt.Errorf("Pending scan: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Attempt); err != nil {
			return nil, fmt.Errorf("Pending decode seq %d: %w", e.Seq, err)
		}
		e.Status = store.QueueStatus(status)
		e.EnqueuedAt = time.UnixMilli(enqueuedMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *OfflineQueue) MarkSynced(ctx context.Context, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}
	args := []any{time.Now().UTC().UnixMilli()}
	for _, s := range seqs {
		args = append(args, s)
	}
	return q.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE offline_queue
SET status = 'synced', status_reason = '', updated_at_ms = ?
WHERE seq IN (`+placeholders(len(seqs))+`);
`, args...); err != nil {
			return fmt.Errorf("MarkSynced: %w", err)
		}
		return nil
	})
}

func (q *OfflineQueue) MarkRejected(ctx context.Context, seq int64, reason string) error {
	nowMs := time.Now().UTC().UnixMilli()
	return q.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE offline_queue
SET status = 'rejected', status_reason = ?, updated_at_ms = ?
WHERE seq = ?;
`, reason, nowMs, seq); err != nil {
			return fmt.Errorf("MarkRejected: %w", err)
		}
		return nil
	})
}

func (q *OfflineQueue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM offline_queue WHERE status = 'pending';
`).Scan(&n); err != nil {
		return 0, fmt.Errorf("Depth: %w", err)
	}
	return n, nil
}
