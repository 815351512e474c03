package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/cipher"
	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/metrics"
)

type SnapshotConfig struct {
	TTL            time.Duration
	MaxCredentials int
	Rules          types.AccessRules
	Retry          RetryPolicy
	Now            func() time.Time
}

// SnapshotBuilder exports the data a disconnected scanner needs.
type SnapshotBuilder struct {
	creds      store.CredentialStore
	facilities store.FacilityStore
	signer     *SnapshotSigner
	cfg        SnapshotConfig
	log        *zap.Logger
}

func NewSnapshotBuilder(creds store.CredentialStore, facilities store.FacilityStore, signer *SnapshotSigner, cfg SnapshotConfig, log *zap.Logger) *SnapshotBuilder {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxCredentials <= 0 {
		cfg.MaxCredentials = 5000
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SnapshotBuilder{creds: creds, facilities: facilities, signer: signer, cfg: cfg, log: log}
}

// BuildSnapshot exports active facilities and valid credentials. With
// facilityIDs set, only those facilities are included and credentials
// keep only the matching permissions; credentials left with none are
// dropped. The credential set is capped and Truncated reports the cap.
func (b *SnapshotBuilder) BuildSnapshot(ctx context.Context, facilityIDs []string) (types.OfflineSnapshot, error) {
	const op = "BuildSnapshot"
	now := b.cfg.Now().UTC().Truncate(time.Millisecond)

	ids := make([]string, 0, len(facilityIDs))
	for _, id := range facilityIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	facs, err := retryValue(ctx, b.cfg.Retry, op, func(ctx context.Context) ([]types.Facility, error) {
		return b.facilities.List(ctx, ids)
	})
	if err != nil {
		return types.OfflineSnapshot{}, err
	}
	wanted := make(map[string]struct{}, len(facs))
	snap := types.OfflineSnapshot{
		GeneratedAt: now,
		ExpiresAt:   now.Add(b.cfg.TTL),
		Facilities:  make(map[string]types.FacilitySummary, len(facs)),
		Credentials: make(map[string]types.CredentialSummary),
		AccessRules: b.cfg.Rules,
	}
	for _, f := range facs {
		if !f.Active {
			continue
		}
		snap.Facilities[f.ID] = f.Summary()
		wanted[f.ID] = struct{}{}
	}

	limit := b.cfg.MaxCredentials + 1
	if len(ids) > 0 {
		limit = 0
	}
	creds, err := retryValue(ctx, b.cfg.Retry, op, func(ctx context.Context) ([]types.DigitalCredential, error) {
		return b.creds.ListValid(ctx, now, limit)
	})
	if err != nil {
		return types.OfflineSnapshot{}, err
	}

	for _, c := range creds {
		sum := c.Summary()
		if len(ids) > 0 {
			kept := sum.Permissions[:0]
			for _, p := range sum.Permissions {
				if _, ok := wanted[p.FacilityID]; ok {
					kept = append(kept, p)
				}
			}
			if len(kept) == 0 {
				continue
			}
			sum.Permissions = kept
		}
		if len(snap.Credentials) == b.cfg.MaxCredentials {
			snap.Truncated = true
			break
		}
		snap.Credentials[c.ID] = sum
	}

	if err := b.signer.Sign(&snap); err != nil {
		return types.OfflineSnapshot{}, types.NewError(types.KindSystem, op, "sign_failed", err)
	}
	b.log.Info("offline snapshot built",
		zap.Int("facilities", len(snap.Facilities)),
		zap.Int("credentials", len(snap.Credentials)),
		zap.Bool("truncated", snap.Truncated),
		zap.Time("expires_at", snap.ExpiresAt),
	)
	return snap, nil
}

type OfflineCacheConfig struct {
	Now func() time.Time
}

// Revocations hears about credentials that left or re-entered the active
// set after the loaded snapshot was built.
type Revocations interface {
	Revoke(credentialIDs ...string)
	Restore(credentialIDs ...string)
}

// OfflineCache evaluates scans against the loaded snapshot and queues every
// outcome for later reconciliation. Credentials revoked since the snapshot
// was built are denied until a newer snapshot drops them.
type OfflineCache struct {
	cipher  *cipher.Cipher
	signer  *SnapshotSigner
	queue   store.OfflineQueue
	nonces  *NonceTracker
	metrics *metrics.Metrics
	now     func() time.Time
	log     *zap.Logger

	mu      sync.RWMutex
	snap    *types.OfflineSnapshot
	loc     *time.Location
	revoked map[string]time.Time
}

func NewOfflineCache(c *cipher.Cipher, signer *SnapshotSigner, queue store.OfflineQueue, nonces *NonceTracker, m *metrics.Metrics, cfg OfflineCacheConfig, log *zap.Logger) *OfflineCache {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OfflineCache{
		cipher:  c,
		signer:  signer,
		queue:   queue,
		nonces:  nonces,
		metrics: m,
		now:     cfg.Now,
		log:     log,
		revoked: make(map[string]time.Time),
	}
}

func revoke(r Revocations, ids ...string) {
	if r != nil {
		r.Revoke(ids...)
	}
}

func restore(r Revocations, ids ...string) {
	if r != nil {
		r.Restore(ids...)
	}
}

func (o *OfflineCache) Revoke(credentialIDs ...string) {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range credentialIDs {
		o.revoked[id] = now
	}
}

func (o *OfflineCache) Restore(credentialIDs ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range credentialIDs {
		delete(o.revoked, id)
	}
}

func (o *OfflineCache) isRevoked(credentialID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.revoked[credentialID]
	return ok
}

// VerifySnapshot checks the snapshot signature.
func (o *OfflineCache) VerifySnapshot(snap types.OfflineSnapshot) error {
	if err := o.signer.Verify(snap); err != nil {
		return types.NewError(types.KindValidation, "VerifySnapshot", "invalid_snapshot", err)
	}
	return nil
}

// Load verifies snap and replaces the current snapshot wholesale. An older
// snapshot than the loaded one is ignored.
func (o *OfflineCache) Load(snap types.OfflineSnapshot) error {
	if err := o.VerifySnapshot(snap); err != nil {
		return err
	}
	loc := time.UTC
	if snap.AccessRules.TimeZone != "" {
		l, err := time.LoadLocation(snap.AccessRules.TimeZone)
		if err != nil {
			return types.Validationf("Load", "snapshot time zone %q: %v", snap.AccessRules.TimeZone, err)
		}
		loc = l
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snap != nil && snap.GeneratedAt.Before(o.snap.GeneratedAt) {
		o.log.Warn("ignoring older offline snapshot",
			zap.Time("loaded", o.snap.GeneratedAt),
			zap.Time("offered", snap.GeneratedAt),
		)
		return nil
	}
	o.snap = &snap
	o.loc = loc
	for id, at := range o.revoked {
		if at.Before(snap.GeneratedAt) {
			delete(o.revoked, id)
		}
	}
	o.log.Info("offline snapshot loaded",
		zap.Time("generated_at", snap.GeneratedAt),
		zap.Int("credentials", len(snap.Credentials)),
	)
	return nil
}

// Current returns the loaded snapshot, or nil.
func (o *OfflineCache) Current() *types.OfflineSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snap
}

// Evaluate runs EvaluateOffline against the loaded snapshot. With nothing
// loaded the scan requires online validation.
func (o *OfflineCache) Evaluate(ctx context.Context, req types.ValidationRequest) (types.ValidationResponse, error) {
	o.mu.RLock()
	snap, loc := o.snap, o.loc
	o.mu.RUnlock()
	if snap == nil {
		now := o.now()
		resp := types.ValidationResponse{
			Reason:                   types.ReasonRequiresOnline,
			RequiresOnlineValidation: true,
			SecurityFlags:            []types.SecurityFlag{types.FlagOffline},
			ServerTime:               now.UTC().Format(time.RFC3339),
		}
		a := types.AccessAttempt{
			FacilityID:    req.FacilityID,
			Result:        types.ResultDenied,
			Reason:        types.ReasonRequiresOnline,
			Device:        req.Device,
			OccurredAt:    now,
			Offline:       true,
			SecurityFlags: resp.SecurityFlags,
		}
		if p, err := o.cipher.OpenPayload(req.QRPayload); err == nil {
			a.SubjectID, a.CredentialID = p.SubjectID, p.CredentialID
		} else {
			resp.Reason, resp.RequiresOnlineValidation = types.ReasonInvalidQR, false
			a.Reason = types.ReasonInvalidQR
		}
		return resp, o.enqueue(ctx, a)
	}
	return o.evaluate(ctx, req, *snap, loc)
}

// EvaluateOffline evaluates against snap only. Capacity is never checked.
func (o *OfflineCache) EvaluateOffline(ctx context.Context, req types.ValidationRequest, snap types.OfflineSnapshot) (types.ValidationResponse, error) {
	loc := time.UTC
	if snap.AccessRules.TimeZone != "" {
		if l, err := time.LoadLocation(snap.AccessRules.TimeZone); err == nil {
			loc = l
		}
	}
	return o.evaluate(ctx, req, snap, loc)
}

func (o *OfflineCache) evaluate(ctx context.Context, req types.ValidationRequest, snap types.OfflineSnapshot, loc *time.Location) (types.ValidationResponse, error) {
	start := time.Now()
	now := o.now()
	generated := snap.GeneratedAt

	a := types.AccessAttempt{
		FacilityID:          req.FacilityID,
		Result:              types.ResultDenied,
		Device:              req.Device,
		OccurredAt:          now,
		Offline:             true,
		SnapshotGeneratedAt: &generated,
	}
	resp := types.ValidationResponse{ServerTime: now.UTC().Format(time.RFC3339)}
	flags := []types.SecurityFlag{types.FlagOffline}

	finish := func(reason types.Reason) (types.ValidationResponse, error) {
		resp.Reason = reason
		resp.Granted = reason == types.ReasonGranted
		resp.RequiresOnlineValidation = reason == types.ReasonRequiresOnline
		resp.SecurityFlags = flags
		a.Reason = reason
		a.SecurityFlags = flags
		if resp.Granted {
			a.Result = types.ResultGranted
		}
		o.metrics.ObserveValidation(string(a.Result), string(reason), true, time.Since(start))
		return resp, o.enqueue(ctx, a)
	}

	p, err := o.cipher.OpenPayload(req.QRPayload)
	if err != nil {
		return finish(types.ReasonInvalidQR)
	}
	a.SubjectID, a.CredentialID = p.SubjectID, p.CredentialID

	if snap.Expired(now) {
		return finish(types.ReasonRequiresOnline)
	}
	if now.After(p.ExpiresAt) {
		return finish(types.ReasonExpired)
	}
	if ttl := time.Duration(snap.AccessRules.QRTTLSeconds) * time.Second; ttl > 0 && p.ExpiresAt.Sub(p.IssuedAt) > ttl {
		return finish(types.ReasonInvalidQR)
	}

	cred, ok := snap.Credentials[p.CredentialID]
	if !ok {
		return finish(types.ReasonRequiresOnline)
	}
	if cred.SubjectID != p.SubjectID || !cipher.VerifyTamperHash(p, cred.TamperSecret) {
		flags = append(flags, types.FlagTamperDetected)
		return finish(types.ReasonTamperDetected)
	}
	resp.CredentialSummary = cred.Public()
	if o.isRevoked(p.CredentialID) {
		return finish(types.ReasonInactive)
	}

	if o.nonces.Seen(p.CredentialID, p.Nonce, p.ExpiresAt, now) {
		flags = append(flags, types.FlagNonceReplay)
		if snap.AccessRules.RejectReplayedNonces {
			return finish(types.ReasonReplayDetected)
		}
	}

	fac, ok := snap.Facilities[req.FacilityID]
	if !ok {
		return finish(types.ReasonRequiresOnline)
	}
	resp.FacilitySummary = &fac

	d := EvaluateRules(&cred, &fac, now, loc)
	return finish(d.Reason)
}

func (o *OfflineCache) enqueue(ctx context.Context, a types.AccessAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Device.SessionID == "" {
		a.Device.SessionID = uuid.NewString()
	}
	if _, err := o.queue.Append(ctx, a); err != nil {
		o.log.Error("offline queue append failed",
			zap.String("subject_id", a.SubjectID),
			zap.String("facility_id", a.FacilityID),
			zap.Error(err),
		)
		return types.NewError(types.KindSystem, "EvaluateOffline", "queue_unavailable", fmt.Errorf("append: %w", err))
	}
	if n, err := o.queue.Depth(ctx); err == nil {
		o.metrics.SetQueueDepth(n)
	}
	return nil
}
