package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/metrics"
)

// Per-entry sync failure reasons.
const (
	SyncDuplicate  = "duplicate"
	SyncMalformed  = "malformed"
	SyncStoreError = "store_error"
)

// SyncReconciler merges queued offline attempts into the authoritative log.
// Entries are independent; one failure never aborts the batch.
type SyncReconciler struct {
	log     store.AccessLogStore
	guard   *ActivityGuard
	retry   RetryPolicy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewSyncReconciler(logStore store.AccessLogStore, guard *ActivityGuard, retry RetryPolicy, m *metrics.Metrics, log *zap.Logger) *SyncReconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncReconciler{log: logStore, guard: guard, retry: retry, metrics: m, logger: log}
}

func (r *SyncReconciler) Merge(ctx context.Context, attempts []types.AccessAttempt) types.SyncResult {
	res := types.SyncResult{
		Successful: []types.SyncEntryResult{},
		Failed:     []types.SyncEntryResult{},
	}
	for i, a := range attempts {
		if ctx.Err() != nil {
			res.Failed = append(res.Failed, types.SyncEntryResult{Index: i, AttemptID: a.ID, Reason: SyncStoreError})
			continue
		}
		if !wellFormed(a) {
			r.metrics.SyncEntry(SyncMalformed)
			res.Failed = append(res.Failed, types.SyncEntryResult{Index: i, AttemptID: a.ID, Reason: SyncMalformed})
			continue
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}

		inserted, err := retryValue(ctx, r.retry, "Merge", func(ctx context.Context) (bool, error) {
			return r.log.AppendIfAbsent(ctx, a)
		})
		switch {
		case err != nil:
			r.logger.Warn("sync entry not persisted",
				zap.Int("index", i),
				zap.String("attempt_id", a.ID),
				zap.Error(err),
			)
			r.metrics.SyncEntry(SyncStoreError)
			res.Failed = append(res.Failed, types.SyncEntryResult{Index: i, AttemptID: a.ID, Reason: SyncStoreError})
		case !inserted:
			r.metrics.SyncEntry(SyncDuplicate)
			res.Failed = append(res.Failed, types.SyncEntryResult{Index: i, AttemptID: a.ID, Reason: SyncDuplicate})
		default:
			r.metrics.SyncEntry("merged")
			res.Successful = append(res.Successful, types.SyncEntryResult{Index: i, AttemptID: a.ID})
			r.count(ctx, a)
		}
	}
	r.logger.Info("offline attempts merged",
		zap.Int("received", len(attempts)),
		zap.Int("successful", len(res.Successful)),
		zap.Int("failed", len(res.Failed)),
	)
	return res
}

// count feeds a newly merged denial to the guard so offline failures reach
// the same lockout and signal thresholds as live ones.
func (r *SyncReconciler) count(ctx context.Context, a types.AccessAttempt) {
	if r.guard == nil || a.Result != types.ResultDenied {
		return
	}
	if a.Reason != types.ReasonTamperDetected && a.HasFlag(types.FlagTamperDetected) {
		r.guard.OnTamper(ctx, a)
	}
	if _, err := r.guard.OnFailure(ctx, a); err != nil {
		r.logger.Warn("merged denial not counted",
			zap.String("attempt_id", a.ID),
			zap.String("subject_id", a.SubjectID),
			zap.Error(err),
		)
	}
}

// wellFormed requires the dedup key fields and a decision. An unreadable
// QR legitimately carries no subject.
func wellFormed(a types.AccessAttempt) bool {
	if strings.TrimSpace(a.FacilityID) == "" || a.OccurredAt.IsZero() ||
		strings.TrimSpace(a.Device.SessionID) == "" || a.Reason == "" {
		return false
	}
	if a.Result != types.ResultGranted && a.Result != types.ResultDenied {
		return false
	}
	if a.Result == types.ResultGranted && a.Reason != types.ReasonGranted {
		return false
	}
	if strings.TrimSpace(a.SubjectID) == "" && a.Reason != types.ReasonInvalidQR {
		return false
	}
	return true
}
