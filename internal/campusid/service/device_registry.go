package service

import (
	"context"
	"strings"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
)

// DeviceRegistry answers whether a scanner has been commissioned.
type DeviceRegistry struct {
	store store.DeviceStore
	now   func() time.Time
}

func NewDeviceRegistry(st store.DeviceStore) *DeviceRegistry {
	return &DeviceRegistry{store: st, now: func() time.Time { return time.Now().UTC() }}
}

func (r *DeviceRegistry) IsKnown(ctx context.Context, scannerID string) (bool, error) {
	scannerID = strings.TrimSpace(scannerID)
	if scannerID == "" {
		return false, nil
	}
	return r.store.IsKnown(ctx, scannerID)
}

func (r *DeviceRegistry) NoteSeen(ctx context.Context, scannerID string, known bool) error {
	scannerID = strings.TrimSpace(scannerID)
	if scannerID == "" {
		return nil
	}
	return r.store.MarkSeen(ctx, scannerID, known, r.now())
}
