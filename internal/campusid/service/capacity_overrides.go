package service

import (
	"sort"
	"sync"
	"time"
)

type CapacityOverride struct {
	FacilityID string    `json:"facilityId"`
	Reason     string    `json:"reason,omitempty"`
	Actor      string    `json:"actor"`
	Since      time.Time `json:"since"`
}

// CapacityOverrides is the set of facilities whose capacity limit is
// suspended by an emergency override.
type CapacityOverrides struct {
	mu sync.RWMutex
	m  map[string]CapacityOverride
}

func NewCapacityOverrides() *CapacityOverrides {
	return &CapacityOverrides{m: make(map[string]CapacityOverride)}
}

// Enable reports false when an override was already active.
func (o *CapacityOverrides) Enable(ov CapacityOverride) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.m[ov.FacilityID]; ok {
		return false
	}
	o.m[ov.FacilityID] = ov
	return true
}

// Disable reports false when no override was active.
func (o *CapacityOverrides) Disable(facilityID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.m[facilityID]; !ok {
		return false
	}
	delete(o.m, facilityID)
	return true
}

func (o *CapacityOverrides) Active(facilityID string) bool {
	if o == nil {
		return false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.m[facilityID]
	return ok
}

func (o *CapacityOverrides) List() []CapacityOverride {
	o.mu.RLock()
	out := make([]CapacityOverride, 0, len(o.m))
	for _, ov := range o.m {
		out = append(out, ov)
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FacilityID < out[j].FacilityID })
	return out
}
