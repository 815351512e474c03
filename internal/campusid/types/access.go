package types

import (
	"fmt"
	"time"
)

type Result string

const (
	ResultGranted Result = "granted"
	ResultDenied  Result = "denied"
)

// Reason is the closed vocabulary carried by every access decision.
type Reason string

const (
	ReasonGranted            Reason = "granted"
	ReasonCredentialNotFound Reason = "credential_not_found"
	ReasonInactive           Reason = "inactive"
	ReasonExpired            Reason = "expired"
	ReasonNoPermission       Reason = "no_permission"
	ReasonOutsideAllowedTime Reason = "outside_allowed_time"
	ReasonFacilityClosed     Reason = "facility_closed"
	ReasonAtCapacity         Reason = "at_capacity"
	ReasonFacilityNotFound   Reason = "facility_not_found"
	ReasonInvalidQR          Reason = "invalid_qr"
	ReasonTamperDetected     Reason = "tamper_detected"
	ReasonLockedOut          Reason = "locked_out"
	ReasonReplayDetected     Reason = "replay_detected"
	ReasonUnknownScanner     Reason = "unknown_scanner"
	ReasonRequiresOnline     Reason = "requires_online_validation"
)

// SecurityRelevant reports whether a denial with this reason feeds the
// failure counters.
func (r Reason) SecurityRelevant() bool {
	switch r {
	case ReasonInvalidQR, ReasonTamperDetected, ReasonCredentialNotFound,
		ReasonInactive, ReasonExpired, ReasonNoPermission:
		return true
	}
	return false
}

type SecurityFlag string

const (
	FlagTamperDetected    SecurityFlag = "tamper_detected"
	FlagRepeatedFailures  SecurityFlag = "repeated_failures"
	FlagLockedOut         SecurityFlag = "locked_out"
	FlagNonceReplay       SecurityFlag = "nonce_replay"
	FlagOffline           SecurityFlag = "offline"
	FlagEmergencyOverride SecurityFlag = "emergency_override"
)

type DeviceInfo struct {
	ScannerID   string `json:"scannerId,omitempty"`
	ScannerType string `json:"scannerType"`
	SessionID   string `json:"sessionId"`
	Location    string `json:"location,omitempty"`
}

// AccessAttempt is an immutable, append-only log entry.
type AccessAttempt struct {
	ID                  string         `json:"id"`
	SubjectID           string         `json:"subjectId"`
	CredentialID        string         `json:"credentialId,omitempty"`
	FacilityID          string         `json:"facilityId"`
	Result              Result         `json:"result"`
	Reason              Reason         `json:"reason"`
	Device              DeviceInfo     `json:"deviceInfo"`
	OccurredAt          time.Time      `json:"occurredAt"`
	Offline             bool           `json:"offline"`
	SnapshotGeneratedAt *time.Time     `json:"snapshotGeneratedAt,omitempty"`
	SecurityFlags       []SecurityFlag `json:"securityFlags,omitempty"`
}

// DedupKey identifies an attempt across offline queues and the log.
func (a AccessAttempt) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d|%s", a.SubjectID, a.FacilityID, a.OccurredAt.UTC().UnixMilli(), a.Device.SessionID)
}

func (a AccessAttempt) HasFlag(f SecurityFlag) bool {
	for _, x := range a.SecurityFlags {
		if x == f {
			return true
		}
	}
	return false
}

// QRPayload is the plaintext sealed inside a QR code. It is never persisted.
type QRPayload struct {
	CredentialID string      `json:"credentialId"`
	SubjectID    string      `json:"subjectId"`
	AccessLevel  AccessLevel `json:"accessLevel"`
	IssuedAt     time.Time   `json:"issuedAt"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	Nonce        string      `json:"nonce"`
	SecurityHash string      `json:"securityHash"`
}

type QRCode struct {
	Payload   string    `json:"qrPayload"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ValidationRequest struct {
	QRPayload  string     `json:"qrPayload"`
	FacilityID string     `json:"facilityId"`
	Device     DeviceInfo `json:"deviceInfo"`
	Offline    bool       `json:"offline,omitempty"`
}

type ValidationResponse struct {
	Granted                  bool               `json:"granted"`
	Reason                   Reason             `json:"reason,omitempty"`
	CredentialSummary        *CredentialSummary `json:"credentialSummary,omitempty"`
	FacilitySummary          *FacilitySummary   `json:"facilitySummary,omitempty"`
	RequiresOnlineValidation bool               `json:"requiresOnlineValidation,omitempty"`
	SecurityFlags            []SecurityFlag     `json:"securityFlags,omitempty"`
	LockedUntil              *time.Time         `json:"lockedUntil,omitempty"`
	ServerTime               string             `json:"serverTime"`
}

type LockoutStatus struct {
	SubjectID    string     `json:"subjectId,omitempty"`
	ScannerID    string     `json:"scannerId,omitempty"`
	FacilityID   string     `json:"facilityId"`
	LockedOut    bool       `json:"lockedOut"`
	LockedUntil  *time.Time `json:"lockedUntil,omitempty"`
	FailureCount int        `json:"failureCount"`
}

type SyncEntryResult struct {
	Index     int    `json:"index"`
	AttemptID string `json:"attemptId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type SyncResult struct {
	Successful []SyncEntryResult `json:"successful"`
	Failed     []SyncEntryResult `json:"failed"`
}
