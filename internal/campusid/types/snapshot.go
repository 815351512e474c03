package types

import "time"

type CredentialSummary struct {
	CredentialID string               `json:"credentialId"`
	SubjectID    string               `json:"subjectId"`
	AccessLevel  AccessLevel          `json:"accessLevel"`
	Active       bool                 `json:"active"`
	ExpiresAt    time.Time            `json:"expiresAt"`
	Permissions  []FacilityPermission `json:"permissions"`
	TamperSecret string               `json:"tamperSecret,omitempty"`
}

// Public returns a copy without the tamper secret.
func (c CredentialSummary) Public() *CredentialSummary {
	c.TamperSecret = ""
	return &c
}

type FacilitySummary struct {
	FacilityID       string           `json:"facilityId"`
	Name             string           `json:"name"`
	OperatingHours   *TimeRestriction `json:"operatingHours,omitempty"`
	Capacity         int              `json:"capacity,omitempty"`
	CapacityTracking bool             `json:"capacityTracking,omitempty"`
}

// AccessRules are the policy toggles a scanner applies offline.
type AccessRules struct {
	CapacityChecks       bool   `json:"capacityChecks"`
	RejectReplayedNonces bool   `json:"rejectReplayedNonces"`
	TimeZone             string `json:"timeZone"`
	QRTTLSeconds         int    `json:"qrTtlSeconds"`
}

// OfflineSnapshot is read-only once distributed. A newer snapshot replaces
// it wholesale.
type OfflineSnapshot struct {
	GeneratedAt time.Time                    `json:"generatedAt"`
	ExpiresAt   time.Time                    `json:"expiresAt"`
	Facilities  map[string]FacilitySummary   `json:"facilities"`
	Credentials map[string]CredentialSummary `json:"credentials"`
	AccessRules AccessRules                  `json:"accessRules"`
	Truncated   bool                         `json:"truncated,omitempty"`
	Signature   string                       `json:"signature,omitempty"`
}

func (s OfflineSnapshot) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
