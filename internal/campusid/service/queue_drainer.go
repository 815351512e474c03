package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/metrics"
)

// SyncClient delivers queued attempts to the authoritative side.
type SyncClient interface {
	Sync(ctx context.Context, attempts []types.AccessAttempt) (types.SyncResult, error)
}

// ReconcilerClient merges in-process, for a server draining its own
// fallback queue.
type ReconcilerClient struct {
	Reconciler *SyncReconciler
}

func (c ReconcilerClient) Sync(ctx context.Context, attempts []types.AccessAttempt) (types.SyncResult, error) {
	return c.Reconciler.Merge(ctx, attempts), nil
}

type DrainerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// QueueDrainer pushes pending offline entries through a SyncClient.
// Entries that failed on a store error stay pending for the next run.
type QueueDrainer struct {
	queue    store.OfflineQueue
	client   SyncClient
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
	log      *zap.Logger

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueueDrainer(q store.OfflineQueue, client SyncClient, cfg DrainerConfig, m *metrics.Metrics, log *zap.Logger) *QueueDrainer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &QueueDrainer{
		queue:    q,
		client:   client,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		metrics:  m,
		log:      log,
		done:     make(chan struct{}),
	}
}

// DrainOnce sends one batch and returns how many entries left the queue.
func (d *QueueDrainer) DrainOnce(ctx context.Context) (int, error) {
	pending, err := d.queue.Pending(ctx, d.batch)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		d.setDepth(ctx)
		return 0, nil
	}

	attempts := make([]types.AccessAttempt, len(pending))
	for i, p := range pending {
		attempts[i] = p.Attempt
	}
	res, err := d.client.Sync(ctx, attempts)
	if err != nil {
		return 0, err
	}

	var synced []int64
	for _, s := range res.Successful {
		if s.Index >= 0 && s.Index < len(pending) {
			synced = append(synced, pending[s.Index].Seq)
		}
	}
	moved := len(synced)
	for _, f := range res.Failed {
		if f.Index < 0 || f.Index >= len(pending) {
			continue
		}
		seq := pending[f.Index].Seq
		switch f.Reason {
		case SyncDuplicate:
			synced = append(synced, seq)
			moved++
		case SyncStoreError:
		default:
			if err := d.queue.MarkRejected(ctx, seq, f.Reason); err != nil {
				return moved, err
			}
			moved++
		}
	}
	if len(synced) > 0 {
		if err := d.queue.MarkSynced(ctx, synced...); err != nil {
			return 0, err
		}
	}
	d.setDepth(ctx)
	return moved, nil
}

func (d *QueueDrainer) setDepth(ctx context.Context) {
	if n, err := d.queue.Depth(ctx); err == nil {
		d.metrics.SetQueueDepth(n)
	}
}

func (d *QueueDrainer) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)
	d.log.Info("offline queue drainer started", zap.Duration("interval", d.interval))
}

func (d *QueueDrainer) Stop() {
	if d.cancel != nil {
		d.cancel()
	} else {
		d.once.Do(func() { close(d.done) })
	}
	<-d.done
}

func (d *QueueDrainer) loop(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.DrainOnce(ctx)
			if err != nil {
				d.log.Warn("offline queue drain failed", zap.Error(err))
				continue
			}
			if n > 0 {
				d.log.Info("offline queue drained", zap.Int("entries", n))
			}
		}
	}
}
