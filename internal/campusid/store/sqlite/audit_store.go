package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	dbpkg "github.com/BrandonDHaskell/campusid/internal/db"
)

type EmergencyAuditStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewEmergencyAuditStore(db *sql.DB, writer *dbpkg.Worker) *EmergencyAuditStore {
	return &EmergencyAuditStore{db: db, writer: writer}
}

func (s *EmergencyAuditStore) Record(ctx context.Context, a types.EmergencyAction) error {
	crit, err := json.Marshal(a.Criteria)
	if err != nil {
		return fmt.Errorf("Record encode criteria: %w", err)
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO emergency_actions(
  action_id, action, criteria_json, facility_id, reason, actor,
  affected, expired, failed, occurred_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, a.ID, string(a.Action), string(crit), a.FacilityID, a.Reason, a.Actor,
			a.Affected, a.Expired, a.Failed, a.OccurredAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("Record emergency action: %w", err)
		}
		return nil
	})
}

func (s *EmergencyAuditStore) Recent(ctx context.Context, limit int) ([]types.EmergencyAction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT action_id, action, criteria_json, facility_id, reason, actor,
       affected, expired, failed, occurred_at_ms
FROM emergency_actions
ORDER BY occurred_at_ms DESC, action_id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("Recent query: %w", err)
	}
	defer rows.Close()

	var out []types.EmergencyAction
	for rows.Next() {
		var (
			a            types.EmergencyAction
			action, crit string
			atMs         int64
		)
		if err := rows.Scan(&a.ID, &action, &crit, &a.FacilityID, &a.Reason, &a.Actor,
			&a.Affected, &a.Expired, &a.Failed, &atMs); err != nil {
			return nil, fmt.Errorf("Recent scan: %w", err)
		}
		if err := json.Unmarshal([]byte(crit), &a.Criteria); err != nil {
			return nil, fmt.Errorf("Recent decode criteria: %w", err)
		}
		a.Action = types.EmergencyActionKind(action)
		a.OccurredAt = time.UnixMilli(atMs).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
