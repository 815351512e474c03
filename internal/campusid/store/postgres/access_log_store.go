package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// AccessLogStore implements store.AccessLogStore on Postgres. Deduplication
// rides on the access_attempts_dedup unique index.
type AccessLogStore struct {
	db DB
}

func NewAccessLogStore(db DB) *AccessLogStore {
	return &AccessLogStore{db: db}
}

func (s *AccessLogStore) AppendIfAbsent(ctx context.Context, a types.AccessAttempt) (bool, error) {
	flags := make([]string, len(a.SecurityFlags))
	for i, f := range a.SecurityFlags {
		flags[i] = string(f)
	}
	var snap *time.Time
	if a.SnapshotGeneratedAt != nil {
		t := a.SnapshotGeneratedAt.UTC()
		snap = &t
	}

	tag, err := s.db.Exec(ctx, `
INSERT INTO access_attempts (
  attempt_id, subject_id, credential_id, facility_id, result, reason,
  scanner_id, scanner_type, session_id, location,
  occurred_at, offline, snapshot_generated_at, security_flags
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (subject_id, facility_id, occurred_at, session_id) DO NOTHING`,
		a.ID, a.SubjectID, a.CredentialID, a.FacilityID, string(a.Result), string(a.Reason),
		a.Device.ScannerID, a.Device.ScannerType, a.Device.SessionID, a.Device.Location,
		a.OccurredAt.UTC().Truncate(time.Millisecond), a.Offline, snap, flags,
	)
	if err != nil {
		return false, fmt.Errorf("AppendIfAbsent insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *AccessLogStore) ListBySubject(ctx context.Context, subjectID string, limit int) ([]types.AccessAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT attempt_id, subject_id, credential_id, facility_id, result, reason,
       scanner_id, scanner_type, session_id, location,
       occurred_at, offline, snapshot_generated_at, security_flags
FROM access_attempts
WHERE subject_id = $1
ORDER BY occurred_at DESC
LIMIT $2`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListBySubject query: %w", err)
	}
	defer rows.Close()

	var out []types.AccessAttempt
	for rows.Next() {
		var (
			a              types.AccessAttempt
			result, reason string
			snap           *time.Time
			flags          []string
		)
		if err := rows.Scan(
			&a.ID, &a.SubjectID, &a.CredentialID, &a.FacilityID, &result, &reason,
			&a.Device.ScannerID, &a.Device.ScannerType, &a.Device.SessionID, &a.Device.Location,
			&a.OccurredAt, &a.Offline, &snap, &flags,
		); err != nil {
			return nil, fmt.Errorf("ListBySubject scan: %w", err)
		}
		a.Result = types.Result(result)
		a.Reason = types.Reason(reason)
		a.OccurredAt = a.OccurredAt.UTC()
		if snap != nil {
			t := snap.UTC()
			a.SnapshotGeneratedAt = &t
		}
		for _, f := range flags {
			a.SecurityFlags = append(a.SecurityFlags, types.SecurityFlag(f))
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListBySubject rows: %w", err)
	}
	return out, nil
}
