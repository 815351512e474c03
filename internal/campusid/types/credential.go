package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type AccessLevel string

const (
	AccessLevelBasic    AccessLevel = "basic"
	AccessLevelStandard AccessLevel = "standard"
	AccessLevelPremium  AccessLevel = "premium"
)

func (l AccessLevel) Valid() bool {
	switch l {
	case AccessLevelBasic, AccessLevelStandard, AccessLevelPremium:
		return true
	}
	return false
}

type AccessType string

const (
	AccessFull        AccessType = "full"
	AccessRestricted  AccessType = "restricted"
	AccessTimeLimited AccessType = "time_limited"
)

func (t AccessType) Valid() bool {
	switch t {
	case AccessFull, AccessRestricted, AccessTimeLimited:
		return true
	}
	return false
}

// TimeRestriction is a daily window in campus-local time. StartTime and
// EndTime are "HH:MM" (24h). A window whose start is after its end spans
// midnight. An empty DaysOfWeek means every day (0 = Sunday).
type TimeRestriction struct {
	StartTime  string `json:"startTime" yaml:"startTime"`
	EndTime    string `json:"endTime" yaml:"endTime"`
	DaysOfWeek []int  `json:"daysOfWeek,omitempty" yaml:"daysOfWeek,omitempty"`
}

var clockRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

func (tr TimeRestriction) Validate() error {
	if !clockRe.MatchString(tr.StartTime) {
		return fmt.Errorf("startTime %q is not HH:MM", tr.StartTime)
	}
	if !clockRe.MatchString(tr.EndTime) {
		return fmt.Errorf("endTime %q is not HH:MM", tr.EndTime)
	}
	for _, d := range tr.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("daysOfWeek value %d outside 0-6", d)
		}
	}
	return nil
}

type FacilityPermission struct {
	FacilityID      string           `json:"facilityId" yaml:"facilityId"`
	FacilityName    string           `json:"facilityName" yaml:"facilityName"`
	AccessType      AccessType       `json:"accessType,omitempty" yaml:"accessType,omitempty"`
	TimeRestriction *TimeRestriction `json:"timeRestriction,omitempty" yaml:"timeRestriction,omitempty"`
	ExpiresAt       *time.Time       `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
}

func (p FacilityPermission) Validate() error {
	if strings.TrimSpace(p.FacilityID) == "" {
		return fmt.Errorf("facilityId is required")
	}
	if strings.TrimSpace(p.FacilityName) == "" {
		return fmt.Errorf("facilityName is required for %s", p.FacilityID)
	}
	if p.AccessType != "" && !p.AccessType.Valid() {
		return fmt.Errorf("accessType %q is not one of full, restricted, time_limited", p.AccessType)
	}
	if p.TimeRestriction != nil {
		if err := p.TimeRestriction.Validate(); err != nil {
			return fmt.Errorf("%s: %w", p.FacilityID, err)
		}
	}
	return nil
}

// ValidatePermissions checks every entry and that facility IDs are unique.
func ValidatePermissions(perms []FacilityPermission) error {
	seen := make(map[string]struct{}, len(perms))
	for i, p := range perms {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("permissions[%d]: %w", i, err)
		}
		if _, dup := seen[p.FacilityID]; dup {
			return fmt.Errorf("permissions[%d]: duplicate facilityId %s", i, p.FacilityID)
		}
		seen[p.FacilityID] = struct{}{}
	}
	return nil
}

// DigitalCredential is the persisted authorization record for one subject.
// Records are superseded or suspended, never deleted.
type DigitalCredential struct {
	ID                string               `json:"id"`
	SubjectID         string               `json:"subjectId"`
	Role              string               `json:"role"`
	AccessLevel       AccessLevel          `json:"accessLevel"`
	Permissions       []FacilityPermission `json:"permissions"`
	IssuedAt          time.Time            `json:"issuedAt"`
	ExpiresAt         time.Time            `json:"expiresAt"`
	Active            bool                 `json:"active"`
	TamperSecret      string               `json:"-"`
	RevocationReason  string               `json:"revocationReason,omitempty"`
	EmergencyLockdown bool                 `json:"emergencyLockdown"`
	SuspendedBy       string               `json:"suspendedBy,omitempty"`
	UpdatedAt         time.Time            `json:"updatedAt"`
}

func (c DigitalCredential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Summary projects the fields needed for access evaluation. The tamper
// secret is included; call Public before returning it to a client.
func (c DigitalCredential) Summary() CredentialSummary {
	perms := make([]FacilityPermission, len(c.Permissions))
	copy(perms, c.Permissions)
	return CredentialSummary{
		CredentialID: c.ID,
		SubjectID:    c.SubjectID,
		AccessLevel:  c.AccessLevel,
		Active:       c.Active,
		ExpiresAt:    c.ExpiresAt,
		Permissions:  perms,
		TamperSecret: c.TamperSecret,
	}
}

type Facility struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Location         string           `json:"location,omitempty"`
	OperatingHours   *TimeRestriction `json:"operatingHours,omitempty"`
	Capacity         int              `json:"capacity"`
	CapacityTracking bool             `json:"capacityTracking"`
	Active           bool             `json:"active"`
}

func (f Facility) Summary() FacilitySummary {
	return FacilitySummary{
		FacilityID:       f.ID,
		Name:             f.Name,
		OperatingHours:   f.OperatingHours,
		Capacity:         f.Capacity,
		CapacityTracking: f.CapacityTracking,
	}
}

// RoleTier is the default issuance profile for a role.
type RoleTier struct {
	AccessLevel AccessLevel
	ValidFor    time.Duration
	Permissions []FacilityPermission
}
