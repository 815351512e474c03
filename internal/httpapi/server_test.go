package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/campusid/internal/campusid/cipher"
	"github.com/BrandonDHaskell/campusid/internal/campusid/counter"
	"github.com/BrandonDHaskell/campusid/internal/campusid/service"
	"github.com/BrandonDHaskell/campusid/internal/campusid/store/memory"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/config"
	"github.com/BrandonDHaskell/campusid/internal/httpapi"
	"github.com/BrandonDHaskell/campusid/internal/metrics"
	"github.com/BrandonDHaskell/campusid/internal/wire"
)

// monday is 2026-03-02 08:00 UTC, inside the student library window.
var monday = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	ts        *httptest.Server
	manager   *service.CredentialManager
	accessLog *memory.AccessLogStore
}

// newTestServer wires up the full dependency graph using in-memory stores
// and a fixed clock, and returns an httptest.Server whose URL can be hit
// with a plain http.Client.
func newTestServer(t *testing.T, enforceScanners bool) *testEnv {
	t.Helper()
	now := func() time.Time { return monday }
	log := zap.NewNop()
	retry := service.RetryPolicy{Timeout: time.Second}

	keys, err := cipher.DeriveKeys(bytes.Repeat([]byte{0x07}, cipher.KeySize))
	require.NoError(t, err)
	c, err := cipher.New(keys.QR)
	require.NoError(t, err)
	roles, err := config.LoadRolePolicy("")
	require.NoError(t, err)
	m, err := metrics.New(nil)
	require.NoError(t, err)

	creds := memory.NewCredentialStore()
	facilities := memory.NewFacilityStore(
		types.Facility{ID: "library-main", Name: "Main Library", Active: true},
		types.Facility{ID: "gym", Name: "Recreation Center", Active: true, Capacity: 10, CapacityTracking: true},
	)
	accessLog := memory.NewAccessLogStore()
	queue := memory.NewOfflineQueue()
	devices := memory.NewDeviceStore([]string{"scanner-1"})
	overrides := service.NewCapacityOverrides()
	nonces := service.NewNonceTracker()
	registry := service.NewDeviceRegistry(devices)

	guard := service.NewActivityGuard(service.GuardConfig{}, counter.NewMemoryFailures(), counter.NewMemoryLocks(), nil, m, log)
	manager := service.NewCredentialManager(creds, c, roles, service.CredentialManagerConfig{
		QRTTL: 5 * time.Minute,
		Retry: retry,
		Now:   now,
	}, log)
	signer := service.NewSnapshotSigner(keys.Snapshot)
	builder := service.NewSnapshotBuilder(creds, facilities, signer, service.SnapshotConfig{
		Rules: types.AccessRules{TimeZone: "UTC", QRTTLSeconds: 300},
		Retry: retry,
		Now:   now,
	}, log)
	offline := service.NewOfflineCache(c, signer, queue, nonces, m, service.OfflineCacheConfig{Now: now}, log)

	validation := service.NewValidationService(service.ValidationDeps{
		Cipher:      c,
		Credentials: creds,
		Facilities:  facilities,
		AccessLog:   accessLog,
		Queue:       queue,
		Evaluator:   service.NewEvaluator(counter.NewMemoryOccupancy(), overrides, time.UTC, m),
		Guard:       guard,
		Nonces:      nonces,
		Offline:     offline,
		Registry:    registry,
		Metrics:     m,
		Log:         log,
	}, service.ValidationConfig{
		QRTTL:                5 * time.Minute,
		EnforceKnownScanners: enforceScanners,
		Retry:                retry,
		Now:                  now,
	})

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      log,
		Addr:        ":0",
		Metrics:     m,
		Validation:  validation,
		Heartbeats:  service.NewHeartbeatService(memory.NewHeartbeatStore(), registry, offline, 0, log),
		Credentials: manager,
		Emergency: service.NewEmergencyController(creds, memory.NewEmergencyAuditStore(), overrides, service.EmergencyConfig{
			Retry: retry,
			Now:   now,
		}, m, log),
		Snapshots:  builder,
		Reconciler: service.NewSyncReconciler(accessLog, guard, retry, m, log),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, manager: manager, accessLog: accessLog}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, actor string) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) issue(t *testing.T, subjectID, role string) string {
	t.Helper()
	_, err := e.manager.Issue(context.Background(), subjectID, role, service.IssueOptions{})
	require.NoError(t, err)
	qr, err := e.manager.GenerateQR(context.Background(), subjectID)
	require.NoError(t, err)
	return qr.Payload
}

func validateBody(payload, facilityID string) types.ValidationRequest {
	return types.ValidationRequest{
		QRPayload:  payload,
		FacilityID: facilityID,
		Device:     types.DeviceInfo{ScannerID: "scanner-1", ScannerType: "turnstile", SessionID: "sess-1"},
	}
}

// ── Heartbeat ────────────────────────────────────────────────────────────────

func TestHeartbeat_KnownScanner_OK(t *testing.T) {
	env := newTestServer(t, false)

	resp := env.do(t, http.MethodPost, "/v1/heartbeat", `{"scanner_id":"scanner-1","uptime_s":42}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	hb := decode[types.HeartbeatResponse](t, resp)
	assert.True(t, hb.OK)
	assert.True(t, hb.Known)
	assert.Equal(t, "scanner-1", hb.ScannerID)
}

func TestHeartbeat_UnknownScanner_StillAccepted(t *testing.T) {
	env := newTestServer(t, true)

	resp := env.do(t, http.MethodPost, "/v1/heartbeat", `{"scanner_id":"unknown-device","uptime_s":1}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	hb := decode[types.HeartbeatResponse](t, resp)
	assert.True(t, hb.OK, "heartbeats are accepted from unknown scanners")
	assert.False(t, hb.Known)
}

func TestHeartbeat_BadRequests_400(t *testing.T) {
	env := newTestServer(t, false)

	for name, body := range map[string]string{
		"missing scanner_id": `{"uptime_s":42}`,
		"not json":           `not json at all`,
		"unknown field":      `{"scanner_id":"scanner-1","door_closed":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/heartbeat", body, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

// ── Validate ─────────────────────────────────────────────────────────────────

func TestValidate_JSON_Granted(t *testing.T) {
	env := newTestServer(t, false)
	payload := env.issue(t, "s1", "student")

	resp := env.do(t, http.MethodPost, "/v1/validate", validateBody(payload, "library-main"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[types.ValidationResponse](t, resp)
	assert.True(t, out.Granted)
	assert.Equal(t, types.ReasonGranted, out.Reason)
	require.NotNil(t, out.CredentialSummary)
	assert.Empty(t, out.CredentialSummary.TamperSecret, "tamper secrets never leave the server")
	assert.Len(t, env.accessLog.Events(), 1)
}

func TestValidate_Protobuf_Denied(t *testing.T) {
	env := newTestServer(t, false)
	payload := env.issue(t, "s1", "student")

	msg, err := wire.ToStruct(validateBody(payload, "research-lab"))
	require.NoError(t, err)
	raw, err := proto.Marshal(msg)
	require.NoError(t, err)

	resp, err := http.Post(env.ts.URL+"/v1/validate", "application/x-protobuf", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(body, &s))
	var out types.ValidationResponse
	require.NoError(t, wire.FromStruct(&s, &out))
	assert.False(t, out.Granted)
	assert.Equal(t, types.ReasonFacilityNotFound, out.Reason)
}

func TestValidate_UnknownScanner_403(t *testing.T) {
	env := newTestServer(t, true)
	payload := env.issue(t, "s1", "student")

	req := validateBody(payload, "library-main")
	req.Device.ScannerID = "rogue-device"
	resp := env.do(t, http.MethodPost, "/v1/validate", req, "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	out := decode[types.ValidationResponse](t, resp)
	assert.Equal(t, types.ReasonUnknownScanner, out.Reason)
}

func TestValidate_MissingFacility_400(t *testing.T) {
	env := newTestServer(t, false)

	resp := env.do(t, http.MethodPost, "/v1/validate", `{"qrPayload":"aa:bb:cc"}`, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decode[map[string]string](t, resp)["error"])
}

// ── Credentials ──────────────────────────────────────────────────────────────

func TestCredentials_Lifecycle(t *testing.T) {
	env := newTestServer(t, false)

	resp := env.do(t, http.MethodPost, "/v1/credentials", map[string]any{"subjectId": "s1", "role": "staff"}, "registrar")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cred := decode[types.DigitalCredential](t, resp)
	assert.True(t, cred.Active)
	assert.Equal(t, types.AccessLevelStandard, cred.AccessLevel)

	resp = env.do(t, http.MethodPost, "/v1/credentials", map[string]any{"subjectId": "s1", "role": "staff"}, "registrar")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_active", decode[map[string]string](t, resp)["error"])

	resp = env.do(t, http.MethodPost, "/v1/credentials/s1/suspend", map[string]string{"reason": "lost card"}, "registrar")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[types.DigitalCredential](t, resp).Active)

	resp = env.do(t, http.MethodPost, "/v1/credentials/s1/reactivate", nil, "registrar")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[types.DigitalCredential](t, resp).Active)

	resp = env.do(t, http.MethodPost, "/v1/credentials/s1/qr", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decode[types.QRCode](t, resp).Payload)

	resp = env.do(t, http.MethodPut, "/v1/credentials/s1/permissions", map[string]any{
		"permissions": []types.FacilityPermission{{FacilityID: "gym", FacilityName: "Recreation Center", AccessType: types.AccessFull}},
	}, "registrar")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[types.DigitalCredential](t, resp).Permissions, 1)
}

func TestCredentials_UnknownSubject_404(t *testing.T) {
	env := newTestServer(t, false)

	resp := env.do(t, http.MethodPost, "/v1/credentials/nobody/qr", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCredentials_Expiring(t *testing.T) {
	env := newTestServer(t, false)
	env.issue(t, "s1", "contractor")
	env.issue(t, "s2", "staff")

	resp := env.do(t, http.MethodGet, "/v1/credentials/expiring?within_days=2", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string][]types.DigitalCredential](t, resp)
	require.Len(t, out["credentials"], 1)
	assert.Equal(t, "s1", out["credentials"][0].SubjectID)

	resp = env.do(t, http.MethodGet, "/v1/credentials/expiring?within_days=soon", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ── Emergency ────────────────────────────────────────────────────────────────

func TestEmergency_LockdownAndUnlock(t *testing.T) {
	env := newTestServer(t, false)
	env.issue(t, "s1", "student")
	env.issue(t, "s2", "student")
	env.issue(t, "f1", "faculty")

	body := map[string]any{"criteria": map[string]any{"roles": []string{"student"}}, "reason": "drill"}
	resp := env.do(t, http.MethodPost, "/v1/emergency/lockdown", body, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "an actor is required")

	resp = env.do(t, http.MethodPost, "/v1/emergency/lockdown", body, "security-desk")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[types.EmergencySummary](t, resp).AffectedCount)

	resp = env.do(t, http.MethodPost, "/v1/emergency/unlock", map[string]any{"criteria": map[string]any{"roles": []string{"student"}}}, "security-desk")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[types.EmergencySummary](t, resp).AffectedCount)

	resp = env.do(t, http.MethodGet, "/v1/emergency/actions?limit=10", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[map[string][]types.EmergencyAction](t, resp)["actions"], 2)
}

func TestEmergency_EmptyCriteria_400(t *testing.T) {
	env := newTestServer(t, false)

	resp := env.do(t, http.MethodPost, "/v1/emergency/lockdown", map[string]any{"criteria": map[string]any{}}, "security-desk")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEmergency_CapacityOverride(t *testing.T) {
	env := newTestServer(t, false)

	resp := env.do(t, http.MethodPost, "/v1/emergency/capacity-override/gym", map[string]string{"reason": "evacuation"}, "security-desk")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[types.EmergencySummary](t, resp).AffectedCount)

	resp = env.do(t, http.MethodDelete, "/v1/emergency/capacity-override/gym", nil, "security-desk")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[types.EmergencySummary](t, resp).AffectedCount)
}

// ── Offline ──────────────────────────────────────────────────────────────────

func TestOffline_SnapshotAndSync(t *testing.T) {
	env := newTestServer(t, false)
	env.issue(t, "s1", "student")

	resp := env.do(t, http.MethodGet, "/v1/offline/snapshot?facility=gym", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[types.OfflineSnapshot](t, resp)
	assert.NotEmpty(t, snap.Signature)
	assert.Contains(t, snap.Facilities, "gym")
	assert.Len(t, snap.Credentials, 1)

	attempt := types.AccessAttempt{
		ID:         "a1",
		SubjectID:  "s1",
		FacilityID: "gym",
		Result:     types.ResultGranted,
		Reason:     types.ReasonGranted,
		Device:     types.DeviceInfo{ScannerType: "handheld", SessionID: "sess-9"},
		OccurredAt: monday.Add(-time.Hour),
		Offline:    true,
	}
	body := map[string]any{"attempts": []types.AccessAttempt{attempt, attempt}}
	resp = env.do(t, http.MethodPost, "/v1/offline/sync", body, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decode[types.SyncResult](t, resp)
	assert.Len(t, res.Successful, 1)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, service.SyncDuplicate, res.Failed[0].Reason)
	assert.Len(t, env.accessLog.Events(), 1)

	resp = env.do(t, http.MethodPost, "/v1/offline/sync", `{"attempts":[]}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ── Misc ─────────────────────────────────────────────────────────────────────

func TestLockoutAndExit(t *testing.T) {
	env := newTestServer(t, false)

	resp := env.do(t, http.MethodGet, "/v1/lockouts/s1/gym", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[types.LockoutStatus](t, resp)
	assert.False(t, st.LockedOut)

	resp = env.do(t, http.MethodPost, "/v1/facilities/gym/exit", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, decode[map[string]any](t, resp)["occupancy"])
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestServer(t, false)

	resp := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.do(t, http.MethodPost, "/v1/heartbeat", `{"scanner_id":"scanner-1"}`, "")
	resp = env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `route="/v1/heartbeat"`)
}
