package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// SnapshotSource reports the snapshot scanners should be running.
type SnapshotSource interface {
	Current() *types.OfflineSnapshot
}

type HeartbeatService struct {
	heartbeatStore store.HeartbeatStore
	registry       *DeviceRegistry
	snapshots      SnapshotSource
	staleAfter     time.Duration
	log            *zap.Logger
}

// NewHeartbeatService builds the service. A scanner whose snapshot is older
// than staleAfter, or older than the one in snapshots, is told to refresh.
func NewHeartbeatService(hs store.HeartbeatStore, reg *DeviceRegistry, snapshots SnapshotSource, staleAfter time.Duration, log *zap.Logger) *HeartbeatService {
	if log == nil {
		log = zap.NewNop()
	}
	return &HeartbeatService{
		heartbeatStore: hs,
		registry:       reg,
		snapshots:      snapshots,
		staleAfter:     staleAfter,
		log:            log,
	}
}

func (s *HeartbeatService) Record(ctx context.Context, req types.HeartbeatRequest) (types.HeartbeatResponse, error) {
	scannerID := strings.TrimSpace(req.ScannerID)
	if scannerID == "" {
		return types.HeartbeatResponse{}, types.Validationf("Heartbeat", "scanner_id is required")
	}
	req.ScannerID = scannerID
	now := time.Now().UTC()

	known, err := s.registry.IsKnown(ctx, scannerID)
	if err != nil {
		return types.HeartbeatResponse{}, types.NewError(types.KindSystem, "Heartbeat", "store_unavailable", err)
	}
	if err := s.registry.NoteSeen(ctx, scannerID, known); err != nil {
		s.log.Warn("scanner last-seen update failed", zap.String("scanner_id", scannerID), zap.Error(err))
	}

	rec := store.HeartbeatRecord{ReceivedAt: now, Request: req}
	if err := s.heartbeatStore.UpsertHeartbeat(ctx, scannerID, rec); err != nil {
		return types.HeartbeatResponse{}, types.NewError(types.KindSystem, "Heartbeat", "store_unavailable", err)
	}
	if req.QueueDepth > 0 {
		s.log.Info("scanner reports queued attempts",
			zap.String("scanner_id", scannerID),
			zap.Int("queue_depth", req.QueueDepth),
		)
	}

	return types.HeartbeatResponse{
		OK:            true,
		Known:         known,
		ScannerID:     scannerID,
		ServerTime:    now.Format(time.RFC3339Nano),
		SnapshotStale: s.stale(req.SnapshotGeneratedAt, now),
	}, nil
}

func (s *HeartbeatService) stale(generated *time.Time, now time.Time) bool {
	if generated == nil {
		return true
	}
	if s.staleAfter > 0 && now.Sub(*generated) > s.staleAfter {
		return true
	}
	if s.snapshots != nil {
		if cur := s.snapshots.Current(); cur != nil && generated.Before(cur.GeneratedAt) {
			return true
		}
	}
	return false
}
