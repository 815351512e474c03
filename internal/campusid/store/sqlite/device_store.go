package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/campusid/internal/db"
)

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

// IsKnown treats a scanner as known when it is commissioned, enabled and
// not revoked.
func (s *DeviceStore) IsKnown(ctx context.Context, scannerID string) (bool, error) {
	scannerID = strings.TrimSpace(scannerID)
	if scannerID == "" {
		return false, nil
	}

	var enabled int
	var commissioned sql.NullInt64
	var revoked sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
SELECT enabled, commissioned_at_ms, revoked_at_ms
FROM scanners
WHERE scanner_id = ?;
`, scannerID).Scan(&enabled, &commissioned, &revoked)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("IsKnown query: %w", err)
	}

	return enabled == 1 && commissioned.Valid && !revoked.Valid, nil
}

// MarkSeen records the scanner (even if unknown) and bumps last_seen.
func (s *DeviceStore) MarkSeen(ctx context.Context, scannerID string, _ bool, t time.Time) error {
	scannerID = strings.TrimSpace(scannerID)
	if scannerID == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := t.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureScanner(ctx, tx, scannerID, ms); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE scanners
SET last_seen_at_ms = ?,
    updated_at_ms   = ?
WHERE scanner_id = ?;
`, ms, ms, scannerID); err != nil {
			return fmt.Errorf("MarkSeen update scanner: %w", err)
		}
		return nil
	})
}

// Commission enables a scanner and optionally binds it to a facility.
func (s *DeviceStore) Commission(ctx context.Context, scannerID, facilityID string) error {
	ms := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureScanner(ctx, tx, scannerID, ms); err != nil {
			return err
		}
		var fac any
		if facilityID != "" {
			fac = facilityID
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE scanners
SET enabled = 1,
    facility_id = COALESCE(?, facility_id),
    commissioned_at_ms = COALESCE(commissioned_at_ms, ?),
    revoked_at_ms = NULL,
    updated_at_ms = ?
WHERE scanner_id = ?;
`, fac, ms, ms, scannerID); err != nil {
			return fmt.Errorf("Commission scanner: %w", err)
		}
		return nil
	})
}
