package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	dbpkg "github.com/BrandonDHaskell/campusid/internal/db"
)

type FacilityStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewFacilityStore(db *sql.DB, writer *dbpkg.Worker) *FacilityStore {
	return &FacilityStore{db: db, writer: writer}
}

const facilityColumns = `
  facility_id, name, location, operating_hours_json, capacity, capacity_tracking, active`

func (s *FacilityStore) Get(ctx context.Context, id string) (types.Facility, error) {
	f, err := scanFacility(s.db.QueryRowContext(ctx, `SELECT`+facilityColumns+`
FROM facilities
WHERE facility_id = ?;
`, id))
	if err != nil {
		return types.Facility{}, fmt.Errorf("Get facility: %w", err)
	}
	return f, nil
}

func (s *FacilityStore) List(ctx context.Context, ids []string) ([]types.Facility, error) {
	q := `SELECT` + facilityColumns + `
FROM facilities
WHERE active = 1
ORDER BY facility_id;`
	args := []any{}
	if len(ids) > 0 {
		q = `SELECT` + facilityColumns + `
FROM facilities
WHERE facility_id IN (` + placeholders(len(ids)) + `)
ORDER BY facility_id;`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("List facilities: %w", err)
	}
	defer rows.Close()

	var out []types.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("List facilities scan: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *FacilityStore) Upsert(ctx context.Context, f types.Facility) error {
	var hours any
	if f.OperatingHours != nil {
		b, err := json.Marshal(f.OperatingHours)
		if err != nil {
			return fmt.Errorf("Upsert facility encode hours: %w", err)
		}
		hours = string(b)
	}
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO facilities(
  facility_id, name, location, operating_hours_json,
  capacity, capacity_tracking, active, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(facility_id) DO UPDATE SET
  name = excluded.name,
  location = excluded.location,
  operating_hours_json = excluded.operating_hours_json,
  capacity = excluded.capacity,
  capacity_tracking = excluded.capacity_tracking,
  active = excluded.active,
  updated_at_ms = excluded.updated_at_ms;
`, f.ID, f.Name, f.Location, hours, f.Capacity, boolToInt(f.CapacityTracking),
			boolToInt(f.Active), nowMs, nowMs); err != nil {
			return fmt.Errorf("Upsert facility: %w", err)
		}
		return nil
	})
}

func scanFacility(r rowScanner) (types.Facility, error) {
	var (
		f                types.Facility
		hours            sql.NullString
		tracking, active int
	)
	err := r.Scan(&f.ID, &f.Name, &f.Location, &hours, &f.Capacity, &tracking, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Facility{}, store.ErrNotFound
	}
	if err != nil {
		return types.Facility{}, err
	}
	if hours.Valid && hours.String != "" {
		var tr types.TimeRestriction
		if err := json.Unmarshal([]byte(hours.String), &tr); err != nil {
			return types.Facility{}, fmt.Errorf("decode operating hours for %s: %w", f.ID, err)
		}
		f.OperatingHours = &tr
	}
	f.CapacityTracking = tracking == 1
	f.Active = active == 1
	return f, nil
}
