package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/cipher"
	"github.com/BrandonDHaskell/campusid/internal/campusid/store"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
	"github.com/BrandonDHaskell/campusid/internal/metrics"
)

// RolePolicy maps a role to its issuance defaults. Unmapped roles resolve
// to the most restrictive tier.
type RolePolicy interface {
	Resolve(role string) types.RoleTier
}

type CredentialManagerConfig struct {
	QRTTL       time.Duration
	Retry       RetryPolicy
	Metrics     *metrics.Metrics
	Revocations Revocations
	Now         func() time.Time
}

type CredentialManager struct {
	store   store.CredentialStore
	cipher  *cipher.Cipher
	roles   RolePolicy
	qrTTL   time.Duration
	retry   RetryPolicy
	metrics *metrics.Metrics
	revoked Revocations
	now     func() time.Time
	log     *zap.Logger
}

func NewCredentialManager(st store.CredentialStore, c *cipher.Cipher, roles RolePolicy, cfg CredentialManagerConfig, log *zap.Logger) *CredentialManager {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CredentialManager{
		store:   st,
		cipher:  c,
		roles:   roles,
		qrTTL:   cfg.QRTTL,
		retry:   cfg.Retry,
		metrics: cfg.Metrics,
		revoked: cfg.Revocations,
		now:     cfg.Now,
		log:     log,
	}
}

type IssueOptions struct {
	// ForceRegenerate supersedes a still-valid active credential.
	ForceRegenerate bool

	// Permissions replaces the role defaults when non-nil.
	Permissions []types.FacilityPermission

	// ValidFor replaces the role's validity when positive.
	ValidFor time.Duration

	Actor string
}

func (m *CredentialManager) Issue(ctx context.Context, subjectID, role string, opt IssueOptions) (types.DigitalCredential, error) {
	const op = "Issue"
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return types.DigitalCredential{}, types.Validationf(op, "subjectId is required")
	}
	role = strings.ToLower(strings.TrimSpace(role))

	tier := m.roles.Resolve(role)
	perms := tier.Permissions
	if opt.Permissions != nil {
		perms = opt.Permissions
	}
	if err := types.ValidatePermissions(perms); err != nil {
		return types.DigitalCredential{}, types.NewError(types.KindValidation, op, "invalid_permissions", err)
	}
	validFor := tier.ValidFor
	if opt.ValidFor > 0 {
		validFor = opt.ValidFor
	}
	if validFor <= 0 {
		return types.DigitalCredential{}, types.Validationf(op, "role %q has no validity period", role)
	}

	now := m.now()
	current, err := retryValue(ctx, m.retry, op, func(ctx context.Context) (types.DigitalCredential, error) {
		return m.store.ActiveBySubject(ctx, subjectID)
	})
	supersede := ""
	switch {
	case err == nil:
		if !opt.ForceRegenerate && !current.Expired(now) {
			return types.DigitalCredential{}, types.NewError(types.KindConflict, op, "already_active", nil)
		}
		supersede = current.ID
	case errors.Is(err, store.ErrNotFound):
	default:
		return types.DigitalCredential{}, err
	}

	secret, err := cipher.NewTamperSecret()
	if err != nil {
		return types.DigitalCredential{}, types.NewError(types.KindSystem, op, "entropy_unavailable", err)
	}
	next := types.DigitalCredential{
		ID:           uuid.NewString(),
		SubjectID:    subjectID,
		Role:         role,
		AccessLevel:  tier.AccessLevel,
		Permissions:  clonePermissions(perms),
		IssuedAt:     now,
		ExpiresAt:    now.Add(validFor),
		Active:       true,
		TamperSecret: secret,
		UpdatedAt:    now,
	}

	err = m.retry.run(ctx, op, func(ctx context.Context) error {
		return m.store.Issue(ctx, next, supersede)
	})
	if errors.Is(err, store.ErrConflict) {
		return types.DigitalCredential{}, types.NewError(types.KindConflict, op, "already_active", err)
	}
	if err != nil {
		return types.DigitalCredential{}, err
	}

	if supersede != "" {
		revoke(m.revoked, supersede)
	}
	m.metrics.CredentialIssued(role)
	m.log.Info("credential issued",
		zap.String("subject_id", subjectID),
		zap.String("credential_id", next.ID),
		zap.String("role", role),
		zap.String("superseded", supersede),
		zap.String("actor", opt.Actor),
		zap.Time("expires_at", next.ExpiresAt),
	)
	return next, nil
}

// UpdatePermissions replaces the permission list on the subject's current
// credential. Tamper hashes do not cover permissions, so outstanding QR
// codes stay valid and are evaluated against the new list.
func (m *CredentialManager) UpdatePermissions(ctx context.Context, subjectID string, perms []types.FacilityPermission) (types.DigitalCredential, error) {
	const op = "UpdatePermissions"
	if err := types.ValidatePermissions(perms); err != nil {
		return types.DigitalCredential{}, types.NewError(types.KindValidation, op, "invalid_permissions", err)
	}
	c, err := m.latest(ctx, op, subjectID)
	if err != nil {
		return types.DigitalCredential{}, err
	}
	c.Permissions = clonePermissions(perms)
	c.UpdatedAt = m.now()
	if err := m.update(ctx, op, c); err != nil {
		return types.DigitalCredential{}, err
	}
	m.log.Info("credential permissions updated",
		zap.String("subject_id", c.SubjectID),
		zap.String("credential_id", c.ID),
		zap.Int("permissions", len(perms)),
	)
	return c, nil
}

func (m *CredentialManager) Suspend(ctx context.Context, subjectID, reason, actor string) (types.DigitalCredential, error) {
	const op = "Suspend"
	subjectID = strings.TrimSpace(subjectID)
	c, err := retryValue(ctx, m.retry, op, func(ctx context.Context) (types.DigitalCredential, error) {
		return m.store.ActiveBySubject(ctx, subjectID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return types.DigitalCredential{}, types.NewError(types.KindNotFound, op, "credential_not_found", err)
	}
	if err != nil {
		return types.DigitalCredential{}, err
	}

	if strings.TrimSpace(reason) == "" {
		reason = "suspended"
	}
	c.Active = false
	c.EmergencyLockdown = false
	c.RevocationReason = reason
	c.SuspendedBy = actor
	c.UpdatedAt = m.now()
	if err := m.update(ctx, op, c); err != nil {
		return types.DigitalCredential{}, err
	}
	revoke(m.revoked, c.ID)
	m.log.Info("credential suspended",
		zap.String("subject_id", c.SubjectID),
		zap.String("credential_id", c.ID),
		zap.String("reason", reason),
		zap.String("actor", actor),
	)
	return c, nil
}

// Reactivate restores the subject's latest credential. An already active
// credential is returned unchanged; an expired one must be re-issued.
func (m *CredentialManager) Reactivate(ctx context.Context, subjectID, actor string) (types.DigitalCredential, error) {
	const op = "Reactivate"
	c, err := m.latest(ctx, op, subjectID)
	if err != nil {
		return types.DigitalCredential{}, err
	}
	if c.Active {
		return c, nil
	}
	now := m.now()
	if c.Expired(now) {
		return types.DigitalCredential{}, types.NewError(types.KindExpired, op, "expired", nil)
	}

	c.Active = true
	c.EmergencyLockdown = false
	c.RevocationReason = ""
	c.SuspendedBy = ""
	c.UpdatedAt = now
	if err := m.update(ctx, op, c); err != nil {
		return types.DigitalCredential{}, err
	}
	restore(m.revoked, c.ID)
	m.log.Info("credential reactivated",
		zap.String("subject_id", c.SubjectID),
		zap.String("credential_id", c.ID),
		zap.String("actor", actor),
	)
	return c, nil
}

func (m *CredentialManager) FindExpiringSoon(ctx context.Context, withinDays int) ([]types.DigitalCredential, error) {
	const op = "FindExpiringSoon"
	if withinDays < 0 {
		return nil, types.Validationf(op, "withinDays must not be negative")
	}
	now := m.now()
	to := now.Add(time.Duration(withinDays) * 24 * time.Hour)
	return retryValue(ctx, m.retry, op, func(ctx context.Context) ([]types.DigitalCredential, error) {
		return m.store.ListExpiring(ctx, now, to)
	})
}

// GenerateQR seals a fresh payload for the subject's active credential.
// The payload never outlives the credential.
func (m *CredentialManager) GenerateQR(ctx context.Context, subjectID string) (types.QRCode, error) {
	const op = "GenerateQR"
	c, err := retryValue(ctx, m.retry, op, func(ctx context.Context) (types.DigitalCredential, error) {
		return m.store.ActiveBySubject(ctx, strings.TrimSpace(subjectID))
	})
	if errors.Is(err, store.ErrNotFound) {
		return types.QRCode{}, types.NewError(types.KindNotFound, op, "credential_not_found", err)
	}
	if err != nil {
		return types.QRCode{}, err
	}

	issued := m.now().UTC().Truncate(time.Millisecond)
	if c.Expired(issued) {
		return types.QRCode{}, types.NewError(types.KindExpired, op, "expired", nil)
	}
	expires := issued.Add(m.qrTTL)
	if c.ExpiresAt.Before(expires) {
		expires = c.ExpiresAt.UTC()
	}

	nonce, err := cipher.NewNonce()
	if err != nil {
		return types.QRCode{}, types.NewError(types.KindSystem, op, "entropy_unavailable", err)
	}
	p := types.QRPayload{
		CredentialID: c.ID,
		SubjectID:    c.SubjectID,
		AccessLevel:  c.AccessLevel,
		IssuedAt:     issued,
		ExpiresAt:    expires,
		Nonce:        nonce,
	}
	p.SecurityHash = cipher.ComputeTamperHash(p, c.TamperSecret)

	blob, err := m.cipher.SealPayload(p)
	if err != nil {
		return types.QRCode{}, types.NewError(types.KindSystem, op, "seal_failed", err)
	}
	return types.QRCode{Payload: blob, ExpiresAt: expires}, nil
}

func (m *CredentialManager) latest(ctx context.Context, op, subjectID string) (types.DigitalCredential, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return types.DigitalCredential{}, types.Validationf(op, "subjectId is required")
	}
	c, err := retryValue(ctx, m.retry, op, func(ctx context.Context) (types.DigitalCredential, error) {
		return m.store.LatestBySubject(ctx, subjectID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return types.DigitalCredential{}, types.NewError(types.KindNotFound, op, "credential_not_found", err)
	}
	return c, err
}

func (m *CredentialManager) update(ctx context.Context, op string, c types.DigitalCredential) error {
	err := m.retry.run(ctx, op, func(ctx context.Context) error {
		return m.store.Update(ctx, c)
	})
	switch {
	case errors.Is(err, store.ErrConflict):
		return types.NewError(types.KindConflict, op, "already_active", err)
	case errors.Is(err, store.ErrNotFound):
		return types.NewError(types.KindNotFound, op, "credential_not_found", err)
	}
	return err
}

func clonePermissions(in []types.FacilityPermission) []types.FacilityPermission {
	if in == nil {
		return []types.FacilityPermission{}
	}
	out := make([]types.FacilityPermission, len(in))
	copy(out, in)
	return out
}
