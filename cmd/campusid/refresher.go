package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/service"
)

// snapshotRefresher rebuilds the server's fallback snapshot on an interval.
type snapshotRefresher struct {
	builder  *service.SnapshotBuilder
	cache    *service.OfflineCache
	interval time.Duration
	log      *zap.Logger

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newSnapshotRefresher(b *service.SnapshotBuilder, c *service.OfflineCache, interval time.Duration, log *zap.Logger) *snapshotRefresher {
	if interval <= 0 {
		interval = time.Hour
	}
	return &snapshotRefresher{
		builder:  b,
		cache:    c,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

func (r *snapshotRefresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
}

func (r *snapshotRefresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *snapshotRefresher) loop(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })

	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *snapshotRefresher) refresh(ctx context.Context) {
	snap, err := r.builder.BuildSnapshot(ctx, nil)
	if err != nil {
		r.log.Warn("snapshot rebuild failed, keeping previous", zap.Error(err))
		return
	}
	if err := r.cache.Load(snap); err != nil {
		r.log.Error("snapshot load failed", zap.Error(err))
		return
	}
	r.log.Info("snapshot refreshed",
		zap.Int("credentials", len(snap.Credentials)),
		zap.Int("facilities", len(snap.Facilities)),
		zap.Time("expires_at", snap.ExpiresAt),
	)
}
