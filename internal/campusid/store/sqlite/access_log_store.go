package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	dbpkg "github.com/BrandonDHaskell/campusid/internal/db"
)

// AccessLogStore is the append-only access log. The dedup key
// (subject, facility, occurred_at_ms, session) is a UNIQUE index, so
// concurrent reconciliations stay idempotent.
type AccessLogStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessLogStore(db *sql.DB, writer *dbpkg.Worker) *AccessLogStore {
	return &AccessLogStore{db: db, writer: writer}
}

func (s *AccessLogStore) AppendIfAbsent(ctx context.Context, a types.AccessAttempt) (bool, error) {
	flags := make([]string, len(a.SecurityFlags))
	for i, f := range a.SecurityFlags {
		flags[i] = string(f)
	}
	nowMs := time.Now().UTC().UnixMilli()

	var inserted bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO access_attempts(
  attempt_id, subject_id, credential_id, facility_id, result, reason,
  scanner_id, scanner_type, session_id, location,
  occurred_at_ms, offline, snapshot_generated_at_ms, security_flags, recorded_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(subject_id, facility_id, occurred_at_ms, session_id) DO NOTHING;
`,
			a.ID, a.SubjectID, a.CredentialID, a.FacilityID, string(a.Result), string(a.Reason),
			a.Device.ScannerID, a.Device.ScannerType, a.Device.SessionID, a.Device.Location,
			a.OccurredAt.UTC().UnixMilli(), boolToInt(a.Offline), nullableMs(a.SnapshotGeneratedAt),
			strings.Join(flags, ","), nowMs,
		)
		if err != nil {
			return fmt.Errorf("AppendIfAbsent insert: %w", mapConstraint(err))
		}
		n, _ := res.RowsAffected()
		inserted = n == 1
		return nil
	})
	return inserted, err
}

func (s *AccessLogStore) ListBySubject(ctx context.Context, subjectID string, limit int) ([]types.AccessAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT attempt_id, subject_id, credential_id, facility_id, result, reason,
       scanner_id, scanner_type, session_id, location,
       occurred_at_ms, offline, snapshot_generated_at_ms, security_flags
FROM access_attempts
WHERE subject_id = ?
ORDER BY occurred_at_ms DESC
LIMIT ?;
`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListBySubject query: %w", err)
	}
	defer rows.Close()

	var out []types.AccessAttempt
	for rows.Next() {
		var (
			a              types.AccessAttempt
			result, reason string
			occurredMs     int64
			offline        int
			snapMs         sql.NullInt64
			flags          string
		)
		if err := rows.Scan(
			&a.ID, &a.SubjectID, &a.CredentialID, &a.FacilityID, &result, &reason,
			&a.Device.ScannerID, &a.Device.ScannerType, &a.Device.SessionID, &a.Device.Location,
			&occurredMs, &offline, &snapMs, &flags,
		); err != nil {
			return nil, fmt.Errorf("ListBySubject scan: %w", err)
		}
		a.Result = types.Result(result)
		a.Reason = types.Reason(reason)
		a.OccurredAt = time.UnixMilli(occurredMs).UTC()
		a.Offline = offline == 1
		if snapMs.Valid {
			t := time.UnixMilli(snapMs.Int64).UTC()
			a.SnapshotGeneratedAt = &t
		}
		if flags != "" {
			for _, f := range strings.Split(flags, ",") {
				a.SecurityFlags = append(a.SecurityFlags, types.SecurityFlag(f))
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
