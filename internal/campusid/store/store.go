// Package store declares the persistence ports consumed by the services.
// Implementations live in memory/, sqlite/ and postgres/.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict signals a violated uniqueness rule, e.g. a second active
	// credential for one subject.
	ErrConflict = errors.New("store: conflict")
)

// CredentialFilter selects credentials. Non-empty slices OR within
// themselves and AND with each other. Nil pointers do not filter.
type CredentialFilter struct {
	SubjectIDs        []string
	Roles             []string
	AccessLevels      []types.AccessLevel
	Active            *bool
	EmergencyLockdown *bool
}

func (f CredentialFilter) Matches(c types.DigitalCredential) bool {
	if len(f.SubjectIDs) > 0 && !containsString(f.SubjectIDs, c.SubjectID) {
		return false
	}
	if len(f.Roles) > 0 && !containsString(f.Roles, c.Role) {
		return false
	}
	if len(f.AccessLevels) > 0 {
		ok := false
		for _, l := range f.AccessLevels {
			if l == c.AccessLevel {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Active != nil && *f.Active != c.Active {
		return false
	}
	if f.EmergencyLockdown != nil && *f.EmergencyLockdown != c.EmergencyLockdown {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// RevocationSuperseded marks credentials replaced by a newer issuance.
const RevocationSuperseded = "superseded"

type CredentialStore interface {
	Get(ctx context.Context, credentialID string) (types.DigitalCredential, error)
	// ActiveBySubject returns the subject's active credential, expired or not.
	ActiveBySubject(ctx context.Context, subjectID string) (types.DigitalCredential, error)
	// LatestBySubject returns the most recently issued credential.
	LatestBySubject(ctx context.Context, subjectID string) (types.DigitalCredential, error)
	// Issue inserts next and, when supersedeID is set, deactivates that
	// credential in the same transaction.
	Issue(ctx context.Context, next types.DigitalCredential, supersedeID string) error
	Update(ctx context.Context, c types.DigitalCredential) error
	List(ctx context.Context, f CredentialFilter) ([]types.DigitalCredential, error)
	// ListExpiring returns active credentials with from <= expiresAt <= to.
	ListExpiring(ctx context.Context, from, to time.Time) ([]types.DigitalCredential, error)
	// ListValid returns up to limit active credentials unexpired at now.
	ListValid(ctx context.Context, now time.Time, limit int) ([]types.DigitalCredential, error)
}

type FacilityStore interface {
	Get(ctx context.Context, facilityID string) (types.Facility, error)
	// List returns the named facilities, or every active one when ids is empty.
	List(ctx context.Context, ids []string) ([]types.Facility, error)
	Upsert(ctx context.Context, f types.Facility) error
}

// AccessLogStore is the append-only authoritative log.
type AccessLogStore interface {
	// AppendIfAbsent writes a unless an entry with the same dedup key exists.
	AppendIfAbsent(ctx context.Context, a types.AccessAttempt) (bool, error)
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]types.AccessAttempt, error)
}

type QueueStatus string

const (
	QueuePending  QueueStatus = "pending"
	QueueSynced   QueueStatus = "synced"
	QueueRejected QueueStatus = "rejected"
)

type QueuedAttempt struct {
	Seq        int64
	Attempt    types.AccessAttempt
	Status     QueueStatus
	Reason     string
	EnqueuedAt time.Time
}

// OfflineQueue is the device-local durable queue. Entries are never
// deleted, only marked.
type OfflineQueue interface {
	Append(ctx context.Context, a types.AccessAttempt) (int64, error)
	Pending(ctx context.Context, limit int) ([]QueuedAttempt, error)
	MarkSynced(ctx context.Context, seqs ...int64) error
	MarkRejected(ctx context.Context, seq int64, reason string) error
	Depth(ctx context.Context) (int, error)
}

type EmergencyAuditStore interface {
	Record(ctx context.Context, a types.EmergencyAction) error
	Recent(ctx context.Context, limit int) ([]types.EmergencyAction, error)
}

type DeviceStore interface {
	IsKnown(ctx context.Context, scannerID string) (bool, error)
	MarkSeen(ctx context.Context, scannerID string, known bool, t time.Time) error
}

type HeartbeatRecord struct {
	ReceivedAt time.Time
	Request    types.HeartbeatRequest
}

type HeartbeatStore interface {
	UpsertHeartbeat(ctx context.Context, scannerID string, rec HeartbeatRecord) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
