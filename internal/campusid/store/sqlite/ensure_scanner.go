package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// ensureScanner guarantees a scanners row exists so heartbeat foreign keys
// hold. New rows start disabled and uncommissioned. Must be called inside
// an existing transaction.
func ensureScanner(ctx context.Context, tx *sql.Tx, scannerID string, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO scanners(
  scanner_id, enabled, created_at_ms, updated_at_ms
) VALUES (?, 0, ?, ?);
`, scannerID, nowMs, nowMs); err != nil {
		return fmt.Errorf("ensureScanner %s: %w", scannerID, err)
	}
	return nil
}
