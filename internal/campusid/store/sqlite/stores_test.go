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

// ═══════════════════════════════════════════════════════════════════════════
// FacilityStore
// ═══════════════════════════════════════════════════════════════════════════

func TestFacilityStore_UpsertGetList(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewFacilityStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	lib := types.Facility{
		ID: "library-main", Name: "Main Library", Active: true,
		OperatingHours: &types.TimeRestriction{StartTime: "06:00", EndTime: "23:00"},
		Capacity:       400, CapacityTracking: true,
	}
	gym := types.Facility{ID: "gym", Name: "Gym", Active: false}
	require.NoError(t, s.Upsert(ctx, lib))
	require.NoError(t, s.Upsert(ctx, gym))

	got, err := s.Get(ctx, "library-main")
	require.NoError(t, err)
	require.NotNil(t, got.OperatingHours)
	assert.Equal(t, "23:00", got.OperatingHours.EndTime)
	assert.True(t, got.CapacityTracking)

	all, err := s.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1, "inactive facilities are skipped by default")

	named, err := s.List(ctx, []string{"gym", "library-main", "nope"})
	require.NoError(t, err)
	assert.Len(t, named, 2)

	lib.Capacity = 10
	require.NoError(t, s.Upsert(ctx, lib))
	got, err = s.Get(ctx, "library-main")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Capacity)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ═══════════════════════════════════════════════════════════════════════════
// AccessLogStore
// ═══════════════════════════════════════════════════════════════════════════

func TestAccessLogStore_AppendIfAbsentDedups(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewAccessLogStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	snap := t0.Add(-time.Hour)

	a := types.AccessAttempt{
		ID: "a1", SubjectID: "s1", CredentialID: "c1", FacilityID: "gym",
		Result: types.ResultDenied, Reason: types.ReasonTamperDetected,
		Device:     types.DeviceInfo{ScannerID: "sc-1", ScannerType: "handheld", SessionID: "sess-1"},
		OccurredAt: t0, Offline: true, SnapshotGeneratedAt: &snap,
		SecurityFlags: []types.SecurityFlag{types.FlagTamperDetected, types.FlagOffline},
	}

	ok, err := s.AppendIfAbsent(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := a
	dup.ID = "a2"
	ok, err = s.AppendIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, ok, "same dedup key must not insert twice")

	other := a
	other.ID = "a3"
	other.Device.SessionID = "sess-2"
	ok, err = s.AppendIfAbsent(ctx, other)
	require.NoError(t, err)
	assert.True(t, ok)

	var count int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM access_attempts`).Scan(&count))
	assert.Equal(t, 2, count)

	list, err := s.ListBySubject(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Offline)
	require.NotNil(t, list[0].SnapshotGeneratedAt)
	assert.True(t, snap.Equal(*list[0].SnapshotGeneratedAt))
	assert.ElementsMatch(t, a.SecurityFlags, list[0].SecurityFlags)
}

// ═══════════════════════════════════════════════════════════════════════════
// OfflineQueue
// ═══════════════════════════════════════════════════════════════════════════

func TestOfflineQueue_Lifecycle(t *testing.T) {
	conn := openTestDB(t)
	q := sqlitestore.NewOfflineQueue(conn, newTestWriter(t, conn))
	ctx := context.Background()

	var seqs []int64
	for _, sub := range []string{"s1", "s2", "s3"} {
		seq, err := q.Append(ctx, types.AccessAttempt{SubjectID: sub, FacilityID: "gym", OccurredAt: t0})
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "s1", pending[0].Attempt.SubjectID)
	assert.True(t, t0.Equal(pending[0].Attempt.OccurredAt))

	require.NoError(t, q.MarkSynced(ctx, seqs[0], seqs[1]))
	require.NoError(t, q.MarkRejected(ctx, seqs[2], "malformed"))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	var total int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM offline_queue`).Scan(&total))
	assert.Equal(t, 3, total, "rows are marked, not deleted")
}

// ═══════════════════════════════════════════════════════════════════════════
// EmergencyAuditStore
// ═══════════════════════════════════════════════════════════════════════════

func TestEmergencyAuditStore_RecordRecent(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewEmergencyAuditStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, types.EmergencyAction{
		ID: "e1", Action: types.ActionLockdown, Actor: "admin",
		Criteria: types.EmergencyCriteria{Roles: []string{"student"}},
		Reason:   "drill", Affected: 3, OccurredAt: t0,
	}))
	require.NoError(t, s.Record(ctx, types.EmergencyAction{
		ID: "e2", Action: types.ActionUnlock, Actor: "admin",
		Criteria: types.EmergencyCriteria{Roles: []string{"student"}},
		Affected: 2, Expired: 1, OccurredAt: t0.Add(time.Hour),
	}))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.ActionUnlock, got[0].Action)
	assert.Equal(t, 1, got[0].Expired)
	assert.Equal(t, []string{"student"}, got[1].Criteria.Roles)
}

// ═══════════════════════════════════════════════════════════════════════════
// DeviceStore / HeartbeatStore
// ═══════════════════════════════════════════════════════════════════════════

func TestDeviceStore_UnknownUntilCommissioned(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	require.NoError(t, s.MarkSeen(ctx, "sc-1", false, t0))
	known, err := s.IsKnown(ctx, "sc-1")
	require.NoError(t, err)
	assert.False(t, known, "seen scanners start uncommissioned")

	require.NoError(t, s.Commission(ctx, "sc-1", "gym"))
	known, err = s.IsKnown(ctx, "sc-1")
	require.NoError(t, err)
	assert.True(t, known)

	known, err = s.IsKnown(ctx, " ")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestHeartbeatStore_UpsertAndPrune(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewHeartbeatStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	snap := t0.Add(-2 * time.Hour)

	require.NoError(t, s.UpsertHeartbeat(ctx, "sc-1", store.HeartbeatRecord{
		ReceivedAt: t0.AddDate(0, 0, -40),
		Request:    types.HeartbeatRequest{ScannerID: "sc-1", UptimeSeconds: 10},
	}))
	require.NoError(t, s.UpsertHeartbeat(ctx, "sc-1", store.HeartbeatRecord{
		ReceivedAt: t0,
		Request: types.HeartbeatRequest{
			ScannerID: "sc-1", FirmwareVersion: "1.2.0", QueueDepth: 7, SnapshotGeneratedAt: &snap,
		},
	}))

	var depth int
	var fw string
	require.NoError(t, conn.QueryRow(
		`SELECT last_queue_depth, last_fw_version FROM scanners WHERE scanner_id = 'sc-1'`,
	).Scan(&depth, &fw))
	assert.Equal(t, 7, depth)
	assert.Equal(t, "1.2.0", fw)

	deleted, err := s.PruneOlderThan(ctx, t0.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var left int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM scanner_heartbeats`).Scan(&left))
	assert.Equal(t, 1, left)
}
