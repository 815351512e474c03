package service_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/cipher"
	"github.com/BrandonDHaskell/campusid/internal/campusid/counter"
	"github.com/BrandonDHaskell/campusid/internal/campusid/service"
	"github.com/BrandonDHaskell/campusid/internal/campusid/signal"
	"github.com/BrandonDHaskell/campusid/internal/campusid/store/memory"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/config"
)

// monday is 2026-03-02 08:00 UTC.
var monday = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock      *clock
	cipher     *cipher.Cipher
	creds      *memory.CredentialStore
	facilities *memory.FacilityStore
	accessLog  *memory.AccessLogStore
	queue      *memory.OfflineQueue
	audit      *memory.EmergencyAuditStore
	devices    *memory.DeviceStore
	sink       *signal.MemorySink
	overrides  *service.CapacityOverrides

	guard      *service.ActivityGuard
	manager    *service.CredentialManager
	signer     *service.SnapshotSigner
	builder    *service.SnapshotBuilder
	offline    *service.OfflineCache
	reconciler *service.SyncReconciler
	emergency  *service.EmergencyController
	validator  *service.ValidationService
}

type fixtureOptions struct {
	rejectReplays  bool
	enforceDevices bool
	snapshotTTL    time.Duration
}

func testFacilities() []types.Facility {
	return []types.Facility{
		{
			ID: "library-main", Name: "Main Library", Active: true,
			OperatingHours: &types.TimeRestriction{StartTime: "06:00", EndTime: "23:59"},
		},
		{ID: "gym", Name: "Recreation Center", Active: true, Capacity: 1, CapacityTracking: true},
		{ID: "dining-hall", Name: "Dining Hall", Active: true},
		{ID: "research-lab", Name: "Research Laboratory", Active: true},
		{ID: "boathouse", Name: "Boathouse", Active: false},
	}
}

func newFixture(t *testing.T, opts ...fixtureOptions) *fixture {
	t.Helper()
	var opt fixtureOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	ck := &clock{t: monday}
	key := bytes.Repeat([]byte{0x42}, cipher.KeySize)
	keys, err := cipher.DeriveKeys(key)
	require.NoError(t, err)
	c, err := cipher.New(keys.QR)
	require.NoError(t, err)

	roles, err := config.LoadRolePolicy("")
	require.NoError(t, err)

	log := zap.NewNop()
	retry := service.RetryPolicy{Timeout: time.Second, MaxRetries: 0}

	f := &fixture{
		clock:      ck,
		cipher:     c,
		creds:      memory.NewCredentialStore(),
		facilities: memory.NewFacilityStore(testFacilities()...),
		accessLog:  memory.NewAccessLogStore(),
		queue:      memory.NewOfflineQueue(),
		audit:      memory.NewEmergencyAuditStore(),
		devices:    memory.NewDeviceStore([]string{"scanner-1"}),
		sink:       &signal.MemorySink{},
		overrides:  service.NewCapacityOverrides(),
	}

	nonces := service.NewNonceTracker()
	f.signer = service.NewSnapshotSigner(keys.Snapshot)
	f.offline = service.NewOfflineCache(c, f.signer, f.queue, nonces, nil, service.OfflineCacheConfig{Now: ck.Now}, log)

	f.guard = service.NewActivityGuard(service.GuardConfig{}, counter.NewMemoryFailures(), counter.NewMemoryLocks(), f.sink, nil, log)
	f.manager = service.NewCredentialManager(f.creds, c, roles, service.CredentialManagerConfig{
		QRTTL:       5 * time.Minute,
		Retry:       retry,
		Revocations: f.offline,
		Now:         ck.Now,
	}, log)

	f.builder = service.NewSnapshotBuilder(f.creds, f.facilities, f.signer, service.SnapshotConfig{
		TTL:            opt.snapshotTTL,
		MaxCredentials: 100,
		Rules: types.AccessRules{
			RejectReplayedNonces: opt.rejectReplays,
			TimeZone:             "UTC",
			QRTTLSeconds:         300,
		},
		Retry: retry,
		Now:   ck.Now,
	}, log)

	f.reconciler = service.NewSyncReconciler(f.accessLog, f.guard, retry, nil, log)
	f.emergency = service.NewEmergencyController(f.creds, f.audit, f.overrides, service.EmergencyConfig{
		Concurrency: 4,
		Retry:       retry,
		Revocations: f.offline,
		Now:         ck.Now,
	}, nil, log)

	f.validator = service.NewValidationService(service.ValidationDeps{
		Cipher:      c,
		Credentials: f.creds,
		Facilities:  f.facilities,
		AccessLog:   f.accessLog,
		Queue:       f.queue,
		Evaluator:   service.NewEvaluator(counter.NewMemoryOccupancy(), f.overrides, time.UTC, nil),
		Guard:       f.guard,
		Nonces:      nonces,
		Offline:     f.offline,
		Registry:    service.NewDeviceRegistry(f.devices),
		Log:         log,
	}, service.ValidationConfig{
		QRTTL:                5 * time.Minute,
		RejectReplayedNonces: opt.rejectReplays,
		EnforceKnownScanners: opt.enforceDevices,
		Retry:                retry,
		Now:                  ck.Now,
	})
	return f
}

func (f *fixture) issue(t *testing.T, subjectID, role string) types.DigitalCredential {
	t.Helper()
	c, err := f.manager.Issue(context.Background(), subjectID, role, service.IssueOptions{Actor: "test"})
	require.NoError(t, err)
	return c
}

func (f *fixture) qr(t *testing.T, subjectID string) string {
	t.Helper()
	code, err := f.manager.GenerateQR(context.Background(), subjectID)
	require.NoError(t, err)
	return code.Payload
}

func scan(payload, facilityID string) types.ValidationRequest {
	return types.ValidationRequest{
		QRPayload:  payload,
		FacilityID: facilityID,
		Device: types.DeviceInfo{
			ScannerID:   "scanner-1",
			ScannerType: "turnstile",
			SessionID:   "session-" + facilityID,
		},
	}
}

func (f *fixture) validate(t *testing.T, req types.ValidationRequest) types.ValidationResponse {
	t.Helper()
	resp, err := f.validator.Validate(context.Background(), req)
	require.NoError(t, err)
	return resp
}
