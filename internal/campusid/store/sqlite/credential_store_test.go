package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	sqlitestore "github.com/BrandonDHaskell/campusid/internal/campusid/store/sqlite"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newCred(id, subject, role string, issued time.Time) types.DigitalCredential {
	return types.DigitalCredential{
		ID:           id,
		SubjectID:    subject,
		Role:         role,
		AccessLevel:  types.AccessLevelStandard,
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(30 * 24 * time.Hour),
		Active:       true,
		TamperSecret: "secret-" + id,
		UpdatedAt:    issued,
		Permissions: []types.FacilityPermission{{
			FacilityID:   "library-main",
			FacilityName: "Main Library",
			AccessType:   types.AccessTimeLimited,
			TimeRestriction: &types.TimeRestriction{
				StartTime: "07:00", EndTime: "22:00", DaysOfWeek: []int{1, 2, 3, 4, 5},
			},
		}},
	}
}

func newCredentialStore(t *testing.T) *sqlitestore.CredentialStore {
	conn := openTestDB(t)
	return sqlitestore.NewCredentialStore(conn, newTestWriter(t, conn))
}

// ═══════════════════════════════════════════════════════════════════════════
// Issue / Get
// ═══════════════════════════════════════════════════════════════════════════

func TestCredentialStore_IssueAndGet(t *testing.T) {
	s := newCredentialStore(t)
	ctx := context.Background()

	want := newCred("c1", "s1", "student", t0)
	require.NoError(t, s.Issue(ctx, want, ""))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, want.SubjectID, got.SubjectID)
	assert.Equal(t, want.TamperSecret, got.TamperSecret)
	assert.True(t, want.IssuedAt.Equal(got.IssuedAt))
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	require.Len(t, got.Permissions, 1)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got.Permissions[0].TimeRestriction.DaysOfWeek)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCredentialStore_SecondActiveConflicts(t *testing.T) {
	s := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, s.Issue(ctx, newCred("c1", "s1", "student", t0), ""))
	err := s.Issue(ctx, newCred("c2", "s1", "student", t0.Add(time.Hour)), "")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCredentialStore_SupersedeIsAtomic(t *testing.T) {
	s := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, s.Issue(ctx, newCred("c1", "s1", "student", t0), ""))
	require.NoError(t, s.Issue(ctx, newCred("c2", "s1", "student", t0.Add(time.Hour)), "c1"))

	old, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, old.Active)
	assert.Equal(t, store.RevocationSuperseded, old.RevocationReason)

	active, err := s.ActiveBySubject(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "c2", active.ID)

	latest, err := s.LatestBySubject(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "c2", latest.ID)

	// A missing supersede target rolls the insert back.
	err = s.Issue(ctx, newCred("c3", "s1", "student", t0.Add(2*time.Hour)), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, "c3")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ═══════════════════════════════════════════════════════════════════════════
// Update / List
// ═══════════════════════════════════════════════════════════════════════════

func TestCredentialStore_UpdateSuspend(t *testing.T) {
	s := newCredentialStore(t)
	ctx := context.Background()
	c := newCred("c1", "s1", "student", t0)
	require.NoError(t, s.Issue(ctx, c, ""))

	c.Active = false
	c.EmergencyLockdown = true
	c.RevocationReason = "fire drill"
	c.SuspendedBy = "admin-1"
	c.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, s.Update(ctx, c))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.True(t, got.EmergencyLockdown)
	assert.Equal(t, "admin-1", got.SuspendedBy)

	_, err = s.ActiveBySubject(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	missing := newCred("zz", "s9", "student", t0)
	assert.ErrorIs(t, s.Update(ctx, missing), store.ErrNotFound)
}

func TestCredentialStore_ListByCriteria(t *testing.T) {
	s := newCredentialStore(t)
	ctx := context.Background()

	require.NoError(t, s.Issue(ctx, newCred("c1", "s1", "student", t0), ""))
	require.NoError(t, s.Issue(ctx, newCred("c2", "s2", "student", t0.Add(time.Second)), ""))
	staff := newCred("c3", "s3", "staff", t0)
	staff.AccessLevel = types.AccessLevelPremium
	require.NoError(t, s.Issue(ctx, staff, ""))

	active := true
	got, err := s.List(ctx, store.CredentialFilter{Roles: []string{"student"}, Active: &active})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)

	got, err = s.List(ctx, store.CredentialFilter{
		Roles:        []string{"student", "staff"},
		AccessLevels: []types.AccessLevel{types.AccessLevelPremium},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c3", got[0].ID)
}

func TestCredentialStore_ExpiringAndValid(t *testing.T) {
	s := newCredentialStore(t)
	ctx := context.Background()

	soon := newCred("c1", "s1", "student", t0)
	soon.ExpiresAt = t0.Add(3 * 24 * time.Hour)
	later := newCred("c2", "s2", "student", t0)
	later.ExpiresAt = t0.Add(60 * 24 * time.Hour)
	gone := newCred("c3", "s3", "student", t0.Add(-48*time.Hour))
	gone.ExpiresAt = t0.Add(-time.Hour)
	for _, c := range []types.DigitalCredential{soon, later, gone} {
		require.NoError(t, s.Issue(ctx, c, ""))
	}

	expiring, err := s.ListExpiring(ctx, t0, t0.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "c1", expiring[0].ID)

	valid, err := s.ListValid(ctx, t0, 0)
	require.NoError(t, err)
	assert.Len(t, valid, 2)

	valid, err = s.ListValid(ctx, t0, 1)
	require.NoError(t, err)
	assert.Len(t, valid, 1)
}
