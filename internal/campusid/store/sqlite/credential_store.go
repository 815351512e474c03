package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	dbpkg "github.com/BrandonDHaskell/campusid/internal/db"
)

type CredentialStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCredentialStore(db *sql.DB, writer *dbpkg.Worker) *CredentialStore {
	return &CredentialStore{db: db, writer: writer}
}

const credentialColumns = `
  credential_id, subject_id, role, access_level, permissions_json,
  issued_at_ms, expires_at_ms, active, tamper_secret,
  revocation_reason, emergency_lockdown, suspended_by, updated_at_ms`

func (s *CredentialStore) Get(ctx context.Context, id string) (types.DigitalCredential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+credentialColumns+`
FROM credentials
WHERE credential_id = ?;
`, id)
	c, err := scanCredential(row)
	if err != nil {
		return types.DigitalCredential{}, fmt.Errorf("Get credential: %w", err)
	}
	return c, nil
}

func (s *CredentialStore) ActiveBySubject(ctx context.Context, subjectID string) (types.DigitalCredential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+credentialColumns+`
FROM credentials
WHERE subject_id = ? AND active = 1;
`, subjectID)
	c, err := scanCredential(row)
	if err != nil {
		return types.DigitalCredential{}, fmt.Errorf("ActiveBySubject: %w", err)
	}
	return c, nil
}

func (s *CredentialStore) LatestBySubject(ctx context.Context, subjectID string) (types.DigitalCredential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+credentialColumns+`
FROM credentials
WHERE subject_id = ?
ORDER BY issued_at_ms DESC, credential_id DESC
LIMIT 1;
`, subjectID)
	c, err := scanCredential(row)
	if err != nil {
		return types.DigitalCredential{}, fmt.Errorf("LatestBySubject: %w", err)
	}
	return c, nil
}

func (s *CredentialStore) Issue(ctx context.Context, next types.DigitalCredential, supersedeID string) error {
	perms, err := json.Marshal(next.Permissions)
	if err != nil {
		return fmt.Errorf("Issue encode permissions: %w", err)
	}
	issuedMs := next.IssuedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if supersedeID != "" {
			res, err := tx.ExecContext(ctx, `
UPDATE credentials
SET active = 0,
    revocation_reason = ?,
    superseded_by = ?,
    updated_at_ms = ?
WHERE credential_id = ?;
`, store.RevocationSuperseded, next.ID, issuedMs, supersedeID)
			if err != nil {
				return fmt.Errorf("Issue supersede: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("Issue supersede %s: %w", supersedeID, store.ErrNotFound)
			}
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO credentials(`+credentialColumns+`
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			next.ID, next.SubjectID, next.Role, string(next.AccessLevel), string(perms),
			issuedMs, next.ExpiresAt.UTC().UnixMilli(), boolToInt(next.Active), next.TamperSecret,
			next.RevocationReason, boolToInt(next.EmergencyLockdown), next.SuspendedBy,
			next.UpdatedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Issue insert: %w", mapConstraint(err))
		}
		return nil
	})
}

func (s *CredentialStore) Update(ctx context.Context, c types.DigitalCredential) error {
	perms, err := json.Marshal(c.Permissions)
	if err != nil {
		return fmt.Errorf("Update encode permissions: %w", err)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE credentials
SET access_level = ?,
    permissions_json = ?,
    active = ?,
    revocation_reason = ?,
    emergency_lockdown = ?,
    suspended_by = ?,
    updated_at_ms = ?
WHERE credential_id = ?;
`, string(c.AccessLevel), string(perms), boolToInt(c.Active), c.RevocationReason,
			boolToInt(c.EmergencyLockdown), c.SuspendedBy, c.UpdatedAt.UTC().UnixMilli(), c.ID)
		if err != nil {
			return fmt.Errorf("Update credential: %w", mapConstraint(err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("Update credential %s: %w", c.ID, store.ErrNotFound)
		}
		return nil
	})
}

func (s *CredentialStore) List(ctx context.Context, f store.CredentialFilter) ([]types.DigitalCredential, error) {
	var (
		where []string
		args  []any
	)
	addIn := func(col string, vals []string) {
		if len(vals) == 0 {
			return
		}
		where = append(where, col+" IN ("+placeholders(len(vals))+")")
		for _, v := range vals {
			args = append(args, v)
		}
	}
	addIn("subject_id", f.SubjectIDs)
	addIn("role", f.Roles)
	levels := make([]string, len(f.AccessLevels))
	for i, l := range f.AccessLevels {
		levels[i] = string(l)
	}
	addIn("access_level", levels)
	if f.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolToInt(*f.Active))
	}
	if f.EmergencyLockdown != nil {
		where = append(where, "emergency_lockdown = ?")
		args = append(args, boolToInt(*f.EmergencyLockdown))
	}

	q := `SELECT` + credentialColumns + `
FROM credentials`
	if len(where) > 0 {
		q += "\nWHERE " + strings.Join(where, " AND ")
	}
	q += "\nORDER BY issued_at_ms, credential_id;"

	return s.query(ctx, "List", q, args...)
}

func (s *CredentialStore) ListExpiring(ctx context.Context, from, to time.Time) ([]types.DigitalCredential, error) {
	return s.query(ctx, "ListExpiring", `SELECT`+credentialColumns+`
FROM credentials
WHERE active = 1 AND expires_at_ms BETWEEN ? AND ?
ORDER BY expires_at_ms;
`, from.UTC().UnixMilli(), to.UTC().UnixMilli())
}

func (s *CredentialStore) ListValid(ctx context.Context, now time.Time, limit int) ([]types.DigitalCredential, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, "ListValid", `SELECT`+credentialColumns+`
FROM credentials
WHERE active = 1 AND expires_at_ms >= ?
ORDER BY issued_at_ms, credential_id
LIMIT ?;
`, now.UTC().UnixMilli(), limit)
}

func (s *CredentialStore) query(ctx context.Context, op, q string, args ...any) ([]types.DigitalCredential, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	var out []types.DigitalCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(r rowScanner) (types.DigitalCredential, error) {
	var (
		c                              types.DigitalCredential
		level, perms                   string
		issuedMs, expiresMs, updatedMs int64
		active, emergency              int
	)
	err := r.Scan(
		&c.ID, &c.SubjectID, &c.Role, &level, &perms,
		&issuedMs, &expiresMs, &active, &c.TamperSecret,
		&c.RevocationReason, &emergency, &c.SuspendedBy, &updatedMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DigitalCredential{}, store.ErrNotFound
	}
	if err != nil {
		return types.DigitalCredential{}, err
	}
	if err := json.Unmarshal([]byte(perms), &c.Permissions); err != nil {
		return types.DigitalCredential{}, fmt.Errorf("decode permissions for %s: %w", c.ID, err)
	}
	c.AccessLevel = types.AccessLevel(level)
	c.IssuedAt = time.UnixMilli(issuedMs).UTC()
	c.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	c.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	c.Active = active == 1
	c.EmergencyLockdown = emergency == 1
	return c, nil
}
