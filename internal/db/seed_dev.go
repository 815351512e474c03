package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	// KnownScanners are commissioned against the main library in dev.
	KnownScanners []string
}

// SeedDev inserts the demo facilities used by the default role policy and
// commissions the configured scanners. It is idempotent.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	facilities := []struct {
		id, name, location, hours string
		capacity                  int
	}{
		{"library-main", "Main Library", "North Quad", `{"startTime":"06:00","endTime":"23:59"}`, 400},
		{"gym", "Recreation Center", "East Campus", "", 150},
		{"dining-hall", "Dining Hall", "Student Union", `{"startTime":"06:30","endTime":"21:00"}`, 0},
		{"research-lab", "Research Laboratory", "Science Building", "", 0},
	}

	for _, f := range facilities {
		var hours any
		if f.hours != "" {
			hours = f.hours
		}
		tracking := 0
		if f.capacity > 0 {
			tracking = 1
		}
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO facilities(
  facility_id, name, location, operating_hours_json,
  capacity, capacity_tracking, active, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?);`,
			f.id, f.name, f.location, hours, f.capacity, tracking, now, now); err != nil {
			return fmt.Errorf("seed facility %s: %w", f.id, err)
		}
	}

	for _, sid := range opt.KnownScanners {
		sid = strings.TrimSpace(sid)
		if sid == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, `
INSERT INTO scanners(
  scanner_id, facility_id, display_name,
  enabled, commissioned_at_ms,
  created_at_ms, updated_at_ms
) VALUES (?, 'library-main', ?, 1, ?, ?, ?)
ON CONFLICT(scanner_id) DO UPDATE SET
  enabled = 1,
  commissioned_at_ms = COALESCE(scanners.commissioned_at_ms, excluded.commissioned_at_ms),
  updated_at_ms = excluded.updated_at_ms;
`, sid, sid, now, now, now); err != nil {
			return fmt.Errorf("seed scanner %s: %w", sid, err)
		}
	}

	return nil
}
