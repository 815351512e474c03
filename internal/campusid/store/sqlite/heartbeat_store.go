package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	dbpkg "github.com/BrandonDHaskell/campusid/internal/db"
)

type HeartbeatStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewHeartbeatStore(db *sql.DB, writer *dbpkg.Worker) *HeartbeatStore {
	return &HeartbeatStore{db: db, writer: writer}
}

func (s *HeartbeatStore) UpsertHeartbeat(ctx context.Context, scannerID string, rec store.HeartbeatRecord) error {
	scannerID = strings.TrimSpace(scannerID)
	if scannerID == "" {
		return nil
	}

	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	recvMs := rec.ReceivedAt.UTC().UnixMilli()

	fw := strings.TrimSpace(rec.Request.FirmwareVersion)
	ip := strings.TrimSpace(rec.Request.IP)

	var uptimeMs any
	if rec.Request.UptimeSeconds != 0 {
		uptimeMs = int64(rec.Request.UptimeSeconds) * 1000
	}
	snapMs := nullableMs(rec.Request.SnapshotGeneratedAt)

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureScanner(ctx, tx, scannerID, recvMs); err != nil {
			return err
		}

		// Append-only history.
		if _, err := tx.ExecContext(ctx, `
INSERT INTO scanner_heartbeats(
  scanner_id, received_at_ms, uptime_ms, fw_version, ip, snapshot_generated_at_ms, queue_depth
) VALUES (?, ?, ?, ?, ?, ?, ?);
`, scannerID, recvMs, uptimeMs, fw, ip, snapMs, rec.Request.QueueDepth); err != nil {
			return fmt.Errorf("UpsertHeartbeat insert heartbeat: %w", err)
		}

		// Current-status columns on the scanner row.
		if _, err := tx.ExecContext(ctx, `
UPDATE scanners
SET last_seen_at_ms = ?,
    last_ip = ?,
    last_fw_version = ?,
    last_snapshot_ms = ?,
    last_queue_depth = ?,
    updated_at_ms = ?
WHERE scanner_id = ?;
`, recvMs, ip, fw, snapMs, rec.Request.QueueDepth, recvMs, scannerID); err != nil {
			return fmt.Errorf("UpsertHeartbeat update scanner: %w", err)
		}

		return nil
	})
}

// PruneOlderThan deletes heartbeat rows received before cutoff and returns
// the number removed. Uses idx_heartbeats_time.
func (s *HeartbeatStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM scanner_heartbeats
WHERE received_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
