package service

import (
	"context"
	"strconv"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/counter"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/metrics"
)

type Decision struct {
	Granted bool
	Reason  types.Reason

	// Override is set when a capacity override let the entry through.
	Override bool
}

func deny(r types.Reason) Decision { return Decision{Reason: r} }

// EvaluateRules applies the credential and facility rules that need no
// shared state. The same inputs and the same now always give the same
// decision. A nil facility denies with facility_not_found once the
// credential itself has passed.
func EvaluateRules(cred *types.CredentialSummary, fac *types.FacilitySummary, now time.Time, loc *time.Location) Decision {
	if loc == nil {
		loc = time.UTC
	}
	if cred == nil {
		return deny(types.ReasonCredentialNotFound)
	}
	if !cred.Active {
		return deny(types.ReasonInactive)
	}
	if now.After(cred.ExpiresAt) {
		return deny(types.ReasonExpired)
	}
	if fac == nil {
		return deny(types.ReasonFacilityNotFound)
	}

	perm, ok := findPermission(cred.Permissions, fac.FacilityID, now)
	if !ok {
		return deny(types.ReasonNoPermission)
	}

	local := now.In(loc)
	if perm.AccessType == types.AccessTimeLimited && perm.TimeRestriction != nil {
		if !withinWindow(*perm.TimeRestriction, local) {
			return deny(types.ReasonOutsideAllowedTime)
		}
	}
	if fac.OperatingHours != nil && !withinWindow(*fac.OperatingHours, local) {
		return deny(types.ReasonFacilityClosed)
	}
	return Decision{Granted: true, Reason: types.ReasonGranted}
}

// findPermission ignores permissions whose own expiry has passed.
func findPermission(perms []types.FacilityPermission, facilityID string, now time.Time) (types.FacilityPermission, bool) {
	for _, p := range perms {
		if p.FacilityID != facilityID {
			continue
		}
		if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
			return types.FacilityPermission{}, false
		}
		return p, true
	}
	return types.FacilityPermission{}, false
}

// withinWindow checks day and minute-of-day, both ends inclusive. A window
// whose start is after its end wraps past midnight; the day check always
// uses the day of t. Unparseable windows never match.
func withinWindow(tr types.TimeRestriction, t time.Time) bool {
	if len(tr.DaysOfWeek) > 0 {
		day := int(t.Weekday())
		found := false
		for _, d := range tr.DaysOfWeek {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	start, ok1 := parseClock(tr.StartTime)
	end, ok2 := parseClock(tr.EndTime)
	if !ok1 || !ok2 {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

func parseClock(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// ReasonOccupancyUnavailable marks errors from the occupancy counters.
const ReasonOccupancyUnavailable = "occupancy_unavailable"

// Evaluator adds the capacity step on top of EvaluateRules.
type Evaluator struct {
	occupancy counter.Occupancy
	overrides *CapacityOverrides
	loc       *time.Location
	metrics   *metrics.Metrics
}

func NewEvaluator(occ counter.Occupancy, overrides *CapacityOverrides, loc *time.Location, m *metrics.Metrics) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{occupancy: occ, overrides: overrides, loc: loc, metrics: m}
}

func (e *Evaluator) Location() *time.Location { return e.loc }

// Evaluate returns the decision and, for a granted entry into a tracked
// facility, counts the entry. Occupancy is incremented at most once per
// call and only when the decision is granted.
func (e *Evaluator) Evaluate(ctx context.Context, cred *types.CredentialSummary, fac *types.FacilitySummary, now time.Time) (Decision, error) {
	d := EvaluateRules(cred, fac, now, e.loc)
	if !d.Granted || e.occupancy == nil || !fac.CapacityTracking || fac.Capacity <= 0 {
		return d, nil
	}

	if e.overrides.Active(fac.FacilityID) {
		n, err := e.occupancy.Enter(ctx, fac.FacilityID)
		if err != nil {
			return Decision{}, types.NewError(types.KindSystem, "Evaluate", ReasonOccupancyUnavailable, err)
		}
		e.metrics.SetOccupancy(fac.FacilityID, n)
		d.Override = true
		return d, nil
	}

	n, admitted, err := e.occupancy.TryEnter(ctx, fac.FacilityID, fac.Capacity)
	if err != nil {
		return Decision{}, types.NewError(types.KindSystem, "Evaluate", ReasonOccupancyUnavailable, err)
	}
	e.metrics.SetOccupancy(fac.FacilityID, n)
	if !admitted {
		return deny(types.ReasonAtCapacity), nil
	}
	return d, nil
}

// Exit records someone leaving a tracked facility.
func (e *Evaluator) Exit(ctx context.Context, facilityID string) (int, error) {
	if e.occupancy == nil {
		return 0, nil
	}
	n, err := e.occupancy.Leave(ctx, facilityID)
	if err != nil {
		return 0, types.NewError(types.KindSystem, "Exit", ReasonOccupancyUnavailable, err)
	}
	e.metrics.SetOccupancy(facilityID, n)
	return n, nil
}
