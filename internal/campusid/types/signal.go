package types

import "time"

type SignalKind string

const (
	SignalSuspiciousActivity SignalKind = "suspicious_activity"
	SignalSecurityIncident   SignalKind = "security_incident"
)

// SecuritySignal is handed to the notification collaborator. It never
// carries payload plaintext or key material.
type SecuritySignal struct {
	Kind         SignalKind `json:"kind"`
	Cause        string     `json:"cause"`
	SubjectID    string     `json:"subjectId,omitempty"`
	FacilityID   string     `json:"facilityId,omitempty"`
	CredentialID string     `json:"credentialId,omitempty"`
	AttemptCount int        `json:"attemptCount,omitempty"`
	Device       DeviceInfo `json:"deviceInfo"`
	LockedUntil  *time.Time `json:"lockedUntil,omitempty"`
	Offline      bool       `json:"offline,omitempty"`
	OccurredAt   time.Time  `json:"occurredAt"`
}

const (
	CauseRepeatedFailures = "repeated_failures"
	CauseLockout          = "lockout"
	CauseTamper           = "tamper_detected"
)
