package service

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/metrics"
)

type EmergencyConfig struct {
	Concurrency int
	Retry       RetryPolicy
	Revocations Revocations
	Now         func() time.Time
}

// EmergencyController suspends and restores credentials in bulk and
// toggles facility capacity overrides. Every action is audited.
type EmergencyController struct {
	creds     store.CredentialStore
	audit     store.EmergencyAuditStore
	overrides *CapacityOverrides
	cfg       EmergencyConfig
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewEmergencyController(creds store.CredentialStore, audit store.EmergencyAuditStore, overrides *CapacityOverrides, cfg EmergencyConfig, m *metrics.Metrics, log *zap.Logger) *EmergencyController {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EmergencyController{
		creds:     creds,
		audit:     audit,
		overrides: overrides,
		cfg:       cfg,
		metrics:   m,
		log:       log,
	}
}

func criteriaFilter(c types.EmergencyCriteria) store.CredentialFilter {
	return store.CredentialFilter{
		SubjectIDs:   c.SubjectIDs,
		Roles:        c.Roles,
		AccessLevels: c.AccessLevels,
	}
}

// normalizeCriteria trims every entry, lowercases roles and access levels
// and drops blanks. Criteria left empty would match every credential.
func normalizeCriteria(op string, c types.EmergencyCriteria, actor string) (types.EmergencyCriteria, error) {
	var out types.EmergencyCriteria
	for _, s := range c.SubjectIDs {
		if s = strings.TrimSpace(s); s != "" {
			out.SubjectIDs = append(out.SubjectIDs, s)
		}
	}
	for _, s := range c.Roles {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out.Roles = append(out.Roles, s)
		}
	}
	for _, l := range c.AccessLevels {
		if l = types.AccessLevel(strings.ToLower(strings.TrimSpace(string(l)))); l != "" {
			out.AccessLevels = append(out.AccessLevels, l)
		}
	}
	if out.Empty() {
		return out, types.Validationf(op, "at least one of subjectIds, roles, accessLevels is required")
	}
	if strings.TrimSpace(actor) == "" {
		return out, types.Validationf(op, "actor is required")
	}
	return out, nil
}

// Lockdown suspends every active credential matching criteria and tags it
// as emergency-suspended.
func (e *EmergencyController) Lockdown(ctx context.Context, criteria types.EmergencyCriteria, reason, actor string) (types.EmergencySummary, error) {
	const op = "Lockdown"
	criteria, err := normalizeCriteria(op, criteria, actor)
	if err != nil {
		return types.EmergencySummary{}, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "emergency_lockdown"
	}

	f := criteriaFilter(criteria)
	active := true
	f.Active = &active
	matches, err := retryValue(ctx, e.cfg.Retry, op, func(ctx context.Context) ([]types.DigitalCredential, error) {
		return e.creds.List(ctx, f)
	})
	if err != nil {
		return types.EmergencySummary{}, err
	}

	now := e.cfg.Now()
	var affected, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, c := range matches {
		c := c
		g.Go(func() error {
			c.Active = false
			c.EmergencyLockdown = true
			c.RevocationReason = reason
			c.SuspendedBy = actor
			c.UpdatedAt = now
			if err := e.update(gctx, op, c); err != nil {
				failed.Add(1)
				e.log.Warn("lockdown item failed", zap.String("credential_id", c.ID), zap.Error(err))
				return nil
			}
			revoke(e.cfg.Revocations, c.ID)
			affected.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	sum := types.EmergencySummary{
		Action:        types.ActionLockdown,
		AffectedCount: int(affected.Load()),
		FailedCount:   int(failed.Load()),
	}
	e.metrics.EmergencyAffected(string(sum.Action), sum.AffectedCount)
	e.log.Warn("emergency lockdown",
		zap.Int("affected", sum.AffectedCount),
		zap.Int("failed", sum.FailedCount),
		zap.String("reason", reason),
		zap.String("actor", actor),
	)
	return sum, e.record(ctx, types.EmergencyAction{
		Action:   sum.Action,
		Criteria: criteria,
		Reason:   reason,
		Actor:    actor,
		Affected: sum.AffectedCount,
		Failed:   sum.FailedCount,
	})
}

// Unlock reactivates emergency-suspended credentials matching criteria.
// Expired ones stay suspended and are counted separately. Credentials
// suspended by other means are never touched.
func (e *EmergencyController) Unlock(ctx context.Context, criteria types.EmergencyCriteria, actor string) (types.EmergencySummary, error) {
	const op = "Unlock"
	criteria, err := normalizeCriteria(op, criteria, actor)
	if err != nil {
		return types.EmergencySummary{}, err
	}

	f := criteriaFilter(criteria)
	inactive, locked := false, true
	f.Active = &inactive
	f.EmergencyLockdown = &locked
	matches, err := retryValue(ctx, e.cfg.Retry, op, func(ctx context.Context) ([]types.DigitalCredential, error) {
		return e.creds.List(ctx, f)
	})
	if err != nil {
		return types.EmergencySummary{}, err
	}

	now := e.cfg.Now()
	var affected, expired, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, c := range matches {
		if c.Expired(now) {
			expired.Add(1)
			continue
		}
		c := c
		g.Go(func() error {
			c.Active = true
			c.EmergencyLockdown = false
			c.RevocationReason = ""
			c.SuspendedBy = ""
			c.UpdatedAt = now
			if err := e.update(gctx, op, c); err != nil {
				failed.Add(1)
				e.log.Warn("unlock item failed", zap.String("credential_id", c.ID), zap.Error(err))
				return nil
			}
			restore(e.cfg.Revocations, c.ID)
			affected.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	sum := types.EmergencySummary{
		Action:        types.ActionUnlock,
		AffectedCount: int(affected.Load()),
		ExpiredCount:  int(expired.Load()),
		FailedCount:   int(failed.Load()),
	}
	e.metrics.EmergencyAffected(string(sum.Action), sum.AffectedCount)
	e.log.Warn("emergency unlock",
		zap.Int("affected", sum.AffectedCount),
		zap.Int("expired", sum.ExpiredCount),
		zap.Int("failed", sum.FailedCount),
		zap.String("actor", actor),
	)
	return sum, e.record(ctx, types.EmergencyAction{
		Action:   sum.Action,
		Criteria: criteria,
		Actor:    actor,
		Affected: sum.AffectedCount,
		Expired:  sum.ExpiredCount,
		Failed:   sum.FailedCount,
	})
}

// EnableCapacityOverride lets granted entries into facilityID past its
// capacity until disabled.
func (e *EmergencyController) EnableCapacityOverride(ctx context.Context, facilityID, reason, actor string) (types.EmergencySummary, error) {
	const op = "EnableCapacityOverride"
	facilityID = strings.TrimSpace(facilityID)
	if facilityID == "" || strings.TrimSpace(actor) == "" {
		return types.EmergencySummary{}, types.Validationf(op, "facilityId and actor are required")
	}
	n := 0
	if e.overrides.Enable(CapacityOverride{FacilityID: facilityID, Reason: reason, Actor: actor, Since: e.cfg.Now()}) {
		n = 1
	}
	sum := types.EmergencySummary{Action: types.ActionCapacityOverrideOn, AffectedCount: n}
	e.log.Warn("capacity override enabled", zap.String("facility_id", facilityID), zap.String("actor", actor))
	return sum, e.record(ctx, types.EmergencyAction{
		Action:     sum.Action,
		FacilityID: facilityID,
		Reason:     reason,
		Actor:      actor,
		Affected:   n,
	})
}

func (e *EmergencyController) DisableCapacityOverride(ctx context.Context, facilityID, actor string) (types.EmergencySummary, error) {
	const op = "DisableCapacityOverride"
	facilityID = strings.TrimSpace(facilityID)
	if facilityID == "" || strings.TrimSpace(actor) == "" {
		return types.EmergencySummary{}, types.Validationf(op, "facilityId and actor are required")
	}
	n := 0
	if e.overrides.Disable(facilityID) {
		n = 1
	}
	sum := types.EmergencySummary{Action: types.ActionCapacityOverrideOff, AffectedCount: n}
	e.log.Info("capacity override disabled", zap.String("facility_id", facilityID), zap.String("actor", actor))
	return sum, e.record(ctx, types.EmergencyAction{
		Action:     sum.Action,
		FacilityID: facilityID,
		Actor:      actor,
		Affected:   n,
	})
}

func (e *EmergencyController) Recent(ctx context.Context, limit int) ([]types.EmergencyAction, error) {
	return retryValue(ctx, e.cfg.Retry, "Recent", func(ctx context.Context) ([]types.EmergencyAction, error) {
		return e.audit.Recent(ctx, limit)
	})
}

func (e *EmergencyController) update(ctx context.Context, op string, c types.DigitalCredential) error {
	return e.cfg.Retry.run(ctx, op, func(ctx context.Context) error {
		return e.creds.Update(ctx, c)
	})
}

// record writes the audit row. The action has already happened, so a
// failure is reported alongside the summary rather than instead of it.
func (e *EmergencyController) record(ctx context.Context, a types.EmergencyAction) error {
	a.ID = uuid.NewString()
	a.OccurredAt = e.cfg.Now()
	err := e.cfg.Retry.run(ctx, "EmergencyAudit", func(ctx context.Context) error {
		return e.audit.Record(ctx, a)
	})
	if err != nil {
		e.log.Error("emergency audit write failed",
			zap.String("action", string(a.Action)),
			zap.String("actor", a.Actor),
			zap.Error(err),
		)
		return types.NewError(types.KindSystem, "EmergencyAudit", "audit_unavailable", err)
	}
	return nil
}
