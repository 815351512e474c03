package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/service"
	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/store/memory"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// ── HeartbeatService ────────────────────────────────────────────────────────

type fixedSnapshot struct{ snap *types.OfflineSnapshot }

func (f fixedSnapshot) Current() *types.OfflineSnapshot { return f.snap }

func TestHeartbeat_RecordsAndReportsStaleness(t *testing.T) {
	ctx := context.Background()
	hs := memory.NewHeartbeatStore()
	devices := memory.NewDeviceStore([]string{"scanner-1"})
	current := &types.OfflineSnapshot{GeneratedAt: time.Now().UTC().Add(-time.Hour)}
	svc := service.NewHeartbeatService(hs, service.NewDeviceRegistry(devices), fixedSnapshot{current}, 24*time.Hour, zap.NewNop())

	fresh := current.GeneratedAt
	resp, err := svc.Record(ctx, types.HeartbeatRequest{ScannerID: " scanner-1 ", SnapshotGeneratedAt: &fresh, QueueDepth: 3})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.True(t, resp.Known)
	assert.Equal(t, "scanner-1", resp.ScannerID)
	assert.False(t, resp.SnapshotStale)

	rec, ok := hs.Latest("scanner-1")
	require.True(t, ok)
	assert.Equal(t, 3, rec.Request.QueueDepth)
	_, seen := devices.LastSeen("scanner-1")
	assert.True(t, seen)

	older := current.GeneratedAt.Add(-time.Minute)
	resp, err = svc.Record(ctx, types.HeartbeatRequest{ScannerID: "scanner-1", SnapshotGeneratedAt: &older})
	require.NoError(t, err)
	assert.True(t, resp.SnapshotStale, "a newer snapshot exists")

	resp, err = svc.Record(ctx, types.HeartbeatRequest{ScannerID: "new-scanner"})
	require.NoError(t, err)
	assert.False(t, resp.Known)
	assert.True(t, resp.SnapshotStale, "no snapshot at all")
}

func TestHeartbeat_RequiresScannerID(t *testing.T) {
	svc := service.NewHeartbeatService(memory.NewHeartbeatStore(), service.NewDeviceRegistry(memory.NewDeviceStore(nil)), nil, 0, nil)
	_, err := svc.Record(context.Background(), types.HeartbeatRequest{ScannerID: "  "})
	assert.ErrorIs(t, err, types.ErrValidation)
}

// ── HeartbeatPruner ─────────────────────────────────────────────────────────

func TestHeartbeatPruner_DisabledWhenRetentionZero(t *testing.T) {
	pruner := service.NewHeartbeatPruner(memory.NewHeartbeatStore(), service.PrunerConfig{
		RetentionDays: 0,
		IntervalHours: 1,
	}, zap.NewNop())

	pruner.Start(context.Background())
	pruner.Stop()
}

func TestHeartbeatPruner_PrunesOnStart(t *testing.T) {
	ctx := context.Background()
	hs := memory.NewHeartbeatStore()
	require.NoError(t, hs.UpsertHeartbeat(ctx, "scanner-old", store.HeartbeatRecord{
		ReceivedAt: time.Now().UTC().AddDate(0, 0, -40),
	}))
	require.NoError(t, hs.UpsertHeartbeat(ctx, "scanner-recent", store.HeartbeatRecord{
		ReceivedAt: time.Now().UTC().AddDate(0, 0, -1),
	}))

	pruner := service.NewHeartbeatPruner(hs, service.PrunerConfig{RetentionDays: 30, IntervalHours: 1}, zap.NewNop())
	pruner.Start(ctx)
	defer pruner.Stop()

	require.Eventually(t, func() bool {
		_, ok := hs.Latest("scanner-old")
		return !ok
	}, time.Second, 5*time.Millisecond)
	_, ok := hs.Latest("scanner-recent")
	assert.True(t, ok)
}

func TestHeartbeatPruner_StopIsIdempotent(t *testing.T) {
	pruner := service.NewHeartbeatPruner(memory.NewHeartbeatStore(), service.PrunerConfig{
		RetentionDays: 30,
		IntervalHours: 1,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	pruner.Start(ctx)

	cancel()
	pruner.Stop()
	pruner.Stop()
}
