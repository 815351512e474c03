package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/counter"
	"github.com/BrandonDHaskell/campusid/internal/campusid/signal"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/metrics"
)

// GuardConfig thresholds. SuspicionWindow feeds the suspicious-activity
// signal; LockoutWindow feeds the lockout decision.
type GuardConfig struct {
	MaxFailedAttempts int
	SuspicionWindow   time.Duration
	LockoutWindow     time.Duration
	LockoutDuration   time.Duration
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.MaxFailedAttempts <= 0 {
		c.MaxFailedAttempts = 5
	}
	if c.SuspicionWindow <= 0 {
		c.SuspicionWindow = 5 * time.Minute
	}
	if c.LockoutWindow <= 0 {
		c.LockoutWindow = 15 * time.Minute
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	return c
}

// ActivityGuard counts security-relevant denials per (subject, facility),
// locks the pair out at the threshold and raises signals. Each lockout
// episode has a fixed end; failures while locked do not extend it.
type ActivityGuard struct {
	cfg      GuardConfig
	failures counter.FailureCounter
	locks    counter.LockStore
	sink     signal.Sink
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewActivityGuard(cfg GuardConfig, failures counter.FailureCounter, locks counter.LockStore, sink signal.Sink, m *metrics.Metrics, log *zap.Logger) *ActivityGuard {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = signal.NewLogSink(log)
	}
	return &ActivityGuard{
		cfg:      cfg.withDefaults(),
		failures: failures,
		locks:    locks,
		sink:     sink,
		metrics:  m,
		log:      log,
	}
}

// ReasonCounterUnavailable marks errors from the failure counters or lock
// markers.
const ReasonCounterUnavailable = "counter_unavailable"

func subjectKey(subjectID, facilityID string) string {
	return subjectID + "|" + facilityID
}

func scannerKey(scannerID, facilityID string) string {
	return "anon:" + scannerID + "|" + facilityID
}

// attemptKey falls back to the scanner when the payload could not be read.
func attemptKey(a types.AccessAttempt) string {
	if a.SubjectID == "" {
		return scannerKey(a.Device.ScannerID, a.FacilityID)
	}
	return subjectKey(a.SubjectID, a.FacilityID)
}

func (g *ActivityGuard) CheckLockout(ctx context.Context, subjectID, facilityID string, now time.Time) (types.LockoutStatus, error) {
	st := types.LockoutStatus{SubjectID: subjectID, FacilityID: facilityID}
	return g.check(ctx, "CheckLockout", subjectKey(subjectID, facilityID), st, now)
}

// CheckScannerLockout reports the lockout earned by unreadable payloads
// from one scanner at one facility. While it holds, the scanner is refused
// at that facility.
func (g *ActivityGuard) CheckScannerLockout(ctx context.Context, scannerID, facilityID string, now time.Time) (types.LockoutStatus, error) {
	st := types.LockoutStatus{ScannerID: scannerID, FacilityID: facilityID}
	return g.check(ctx, "CheckScannerLockout", scannerKey(scannerID, facilityID), st, now)
}

func (g *ActivityGuard) check(ctx context.Context, op, key string, st types.LockoutStatus, now time.Time) (types.LockoutStatus, error) {
	until, locked, err := g.locks.Get(ctx, "lock:"+key, now)
	if err != nil {
		return st, types.NewError(types.KindSystem, op, ReasonCounterUnavailable, err)
	}
	n, err := g.failures.Count(ctx, key, now, g.cfg.LockoutWindow)
	if err != nil {
		return st, types.NewError(types.KindSystem, op, ReasonCounterUnavailable, err)
	}
	st.FailureCount = n
	if locked {
		st.LockedOut = true
		st.LockedUntil = &until
	}
	return st, nil
}

type FailureOutcome struct {
	SuspicionCount int
	LockoutCount   int
	LockedOut      bool
	LockedUntil    *time.Time
	Flags          []types.SecurityFlag
}

// OnFailure records a denied attempt. Only security-relevant reasons count.
// Tamper denials also raise an incident right away. Failures inside a live
// lockout episode report it and are not counted.
func (g *ActivityGuard) OnFailure(ctx context.Context, a types.AccessAttempt) (FailureOutcome, error) {
	var out FailureOutcome
	if a.Result != types.ResultDenied || !a.Reason.SecurityRelevant() {
		return out, nil
	}
	if a.Reason == types.ReasonTamperDetected {
		g.OnTamper(ctx, a)
	}

	key := attemptKey(a)
	until, locked, err := g.locks.Get(ctx, "lock:"+key, a.OccurredAt)
	if err != nil {
		return out, types.NewError(types.KindSystem, "OnFailure", ReasonCounterUnavailable, err)
	}
	if locked {
		out.LockedOut = true
		out.LockedUntil = &until
		out.Flags = append(out.Flags, types.FlagLockedOut)
		return out, nil
	}

	counts, err := g.failures.Add(ctx, key, a.OccurredAt, g.cfg.SuspicionWindow, g.cfg.LockoutWindow)
	if err != nil {
		return out, types.NewError(types.KindSystem, "OnFailure", ReasonCounterUnavailable, err)
	}
	out.SuspicionCount, out.LockoutCount = counts[0], counts[1]
	limit := g.cfg.MaxFailedAttempts

	if out.SuspicionCount >= limit {
		out.Flags = append(out.Flags, types.FlagRepeatedFailures)
		_, first, err := g.locks.Acquire(ctx, "suspect:"+key, a.OccurredAt, g.cfg.SuspicionWindow)
		if err != nil {
			return out, types.NewError(types.KindSystem, "OnFailure", ReasonCounterUnavailable, err)
		}
		if first {
			g.publish(ctx, types.SecuritySignal{
				Kind:         types.SignalSuspiciousActivity,
				Cause:        types.CauseRepeatedFailures,
				SubjectID:    a.SubjectID,
				FacilityID:   a.FacilityID,
				CredentialID: a.CredentialID,
				AttemptCount: out.SuspicionCount,
				Device:       a.Device,
				Offline:      a.Offline,
				OccurredAt:   a.OccurredAt,
			})
		}
	}

	if out.LockoutCount >= limit {
		until, created, err := g.locks.Acquire(ctx, "lock:"+key, a.OccurredAt, g.cfg.LockoutDuration)
		if err != nil {
			return out, types.NewError(types.KindSystem, "OnFailure", ReasonCounterUnavailable, err)
		}
		out.LockedOut = true
		out.LockedUntil = &until
		out.Flags = append(out.Flags, types.FlagLockedOut)
		if created {
			g.metrics.Lockout()
			g.publish(ctx, types.SecuritySignal{
				Kind:         types.SignalSecurityIncident,
				Cause:        types.CauseLockout,
				SubjectID:    a.SubjectID,
				FacilityID:   a.FacilityID,
				CredentialID: a.CredentialID,
				AttemptCount: out.LockoutCount,
				Device:       a.Device,
				LockedUntil:  &until,
				Offline:      a.Offline,
				OccurredAt:   a.OccurredAt,
			})
			// The episode starts clean once it ends.
			if err := g.failures.Reset(ctx, key); err != nil {
				g.log.Warn("failure counter reset failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return out, nil
}

// OnTamper raises a security incident without waiting for a threshold.
func (g *ActivityGuard) OnTamper(ctx context.Context, a types.AccessAttempt) {
	g.publish(ctx, types.SecuritySignal{
		Kind:         types.SignalSecurityIncident,
		Cause:        types.CauseTamper,
		SubjectID:    a.SubjectID,
		FacilityID:   a.FacilityID,
		CredentialID: a.CredentialID,
		Device:       a.Device,
		Offline:      a.Offline,
		OccurredAt:   a.OccurredAt,
	})
}

// publish never fails the caller; a lost signal is logged instead.
func (g *ActivityGuard) publish(ctx context.Context, s types.SecuritySignal) {
	g.metrics.Signal(string(s.Kind), s.Cause)
	if err := g.sink.Publish(ctx, s); err != nil {
		g.log.Error("security signal publish failed",
			zap.String("kind", string(s.Kind)),
			zap.String("cause", s.Cause),
			zap.String("subject_id", s.SubjectID),
			zap.Error(err),
		)
	}
}
