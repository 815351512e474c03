package types

import "time"

// EmergencyCriteria fields AND-compose. Within one field, values OR.
type EmergencyCriteria struct {
	SubjectIDs   []string      `json:"subjectIds,omitempty"`
	Roles        []string      `json:"roles,omitempty"`
	AccessLevels []AccessLevel `json:"accessLevels,omitempty"`
}

func (c EmergencyCriteria) Empty() bool {
	return len(c.SubjectIDs) == 0 && len(c.Roles) == 0 && len(c.AccessLevels) == 0
}

type EmergencyActionKind string

const (
	ActionLockdown            EmergencyActionKind = "lockdown"
	ActionUnlock              EmergencyActionKind = "unlock"
	ActionCapacityOverrideOn  EmergencyActionKind = "capacity_override_on"
	ActionCapacityOverrideOff EmergencyActionKind = "capacity_override_off"
)

type EmergencySummary struct {
	Action        EmergencyActionKind `json:"action"`
	AffectedCount int                 `json:"affectedCount"`
	ExpiredCount  int                 `json:"expiredCount,omitempty"`
	FailedCount   int                 `json:"failedCount,omitempty"`
}

// EmergencyAction is the audit row written for every emergency operation.
type EmergencyAction struct {
	ID         string              `json:"id"`
	Action     EmergencyActionKind `json:"action"`
	Criteria   EmergencyCriteria   `json:"criteria"`
	FacilityID string              `json:"facilityId,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Actor      string              `json:"actor"`
	Affected   int                 `json:"affected"`
	Expired    int                 `json:"expired"`
	Failed     int                 `json:"failed"`
	OccurredAt time.Time           `json:"occurredAt"`
}
