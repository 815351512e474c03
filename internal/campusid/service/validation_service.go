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

type ValidationConfig struct {
	QRTTL                time.Duration
	RejectReplayedNonces bool
	EnforceKnownScanners bool
	Retry                RetryPolicy
	Now                  func() time.Time
}

type ValidationDeps struct {
	Cipher      *cipher.Cipher
	Credentials store.CredentialStore
	Facilities  store.FacilityStore
	AccessLog   store.AccessLogStore

	// Queue receives attempts the access log could not take.
	Queue store.OfflineQueue

	Evaluator *Evaluator
	Guard     *ActivityGuard
	Nonces    *NonceTracker
	Offline   *OfflineCache
	Registry  *DeviceRegistry
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// ValidationService runs a scan end to end: decrypt, resolve, evaluate,
// guard, log.
type ValidationService struct {
	d   ValidationDeps
	cfg ValidationConfig
	log *zap.Logger
}

func NewValidationService(d ValidationDeps, cfg ValidationConfig) *ValidationService {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = 5 * time.Minute
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &ValidationService{d: d, cfg: cfg, log: log}
}

// Validate decides a scan. Denials are responses, not errors; an error
// means the request was malformed or the backing stores were unreachable
// with no offline snapshot to fall back on.
func (s *ValidationService) Validate(ctx context.Context, req types.ValidationRequest) (types.ValidationResponse, error) {
	start := time.Now()
	req.FacilityID = strings.TrimSpace(req.FacilityID)
	if req.FacilityID == "" {
		return types.ValidationResponse{}, types.Validationf("Validate", "facilityId is required")
	}
	if strings.TrimSpace(req.QRPayload) == "" {
		return types.ValidationResponse{}, types.Validationf("Validate", "qrPayload is required")
	}
	if req.Device.SessionID == "" {
		req.Device.SessionID = uuid.NewString()
	}
	now := s.cfg.Now()

	if s.d.Registry != nil && (req.Device.ScannerID != "" || s.cfg.EnforceKnownScanners) {
		known, err := s.d.Registry.IsKnown(ctx, req.Device.ScannerID)
		if err != nil {
			return types.ValidationResponse{}, types.NewError(types.KindSystem, "Validate", "store_unavailable", err)
		}
		if err := s.d.Registry.NoteSeen(ctx, req.Device.ScannerID, known); err != nil {
			s.log.Warn("scanner last-seen update failed", zap.String("scanner_id", req.Device.ScannerID), zap.Error(err))
		}
		if !known && s.cfg.EnforceKnownScanners {
			a := s.newAttempt(req, now)
			resp := s.respond(&a, types.ReasonUnknownScanner, now)
			s.appendLog(ctx, a)
			s.d.Metrics.ObserveValidation(string(a.Result), string(a.Reason), false, time.Since(start))
			return resp, nil
		}
	}

	if req.Offline {
		return s.offline(ctx, req)
	}

	resp, a, err := s.online(ctx, req, now)
	if err != nil {
		if fallsBackOffline(err) && s.d.Offline != nil && s.d.Offline.Current() != nil {
			s.log.Warn("store unavailable, validating against offline snapshot",
				zap.String("facility_id", req.FacilityID),
				zap.Error(err),
			)
			return s.offline(ctx, req)
		}
		return types.ValidationResponse{}, err
	}

	if !resp.Granted {
		out, gerr := s.d.Guard.OnFailure(ctx, a)
		if gerr != nil {
			s.log.Warn("failure counting unavailable", zap.String("subject_id", a.SubjectID), zap.Error(gerr))
		}
		for _, f := range out.Flags {
			a.SecurityFlags = appendFlag(a.SecurityFlags, f)
		}
		resp.SecurityFlags = a.SecurityFlags
		if out.LockedUntil != nil {
			resp.LockedUntil = out.LockedUntil
		}
	}

	s.appendLog(ctx, a)
	s.d.Metrics.ObserveValidation(string(a.Result), string(a.Reason), false, time.Since(start))
	return resp, nil
}

// fallsBackOffline reports whether err is a store outage the snapshot can
// stand in for. Counter failures are not: the snapshot carries neither
// lockouts nor occupancy.
func fallsBackOffline(err error) bool {
	if types.KindOf(err) != types.KindSystem {
		return false
	}
	switch types.ReasonOf(err) {
	case ReasonCounterUnavailable, ReasonOccupancyUnavailable:
		return false
	}
	return true
}

func (s *ValidationService) offline(ctx context.Context, req types.ValidationRequest) (types.ValidationResponse, error) {
	if s.d.Offline == nil {
		return types.ValidationResponse{}, types.NewError(types.KindSystem, "Validate", "offline_unavailable", nil)
	}
	resp, err := s.d.Offline.Evaluate(ctx, req)
	if err != nil {
		// The decision stands even if the queue could not take it.
		s.log.Error("offline attempt not queued", zap.String("facility_id", req.FacilityID), zap.Error(err))
	}
	return resp, nil
}

func (s *ValidationService) newAttempt(req types.ValidationRequest, now time.Time) types.AccessAttempt {
	return types.AccessAttempt{
		ID:         uuid.NewString(),
		FacilityID: req.FacilityID,
		Result:     types.ResultDenied,
		Device:     req.Device,
		OccurredAt: now,
	}
}

// respond finalizes a against reason and builds the matching response.
func (s *ValidationService) respond(a *types.AccessAttempt, reason types.Reason, now time.Time) types.ValidationResponse {
	a.Reason = reason
	if reason == types.ReasonGranted {
		a.Result = types.ResultGranted
	}
	return types.ValidationResponse{
		Granted:       reason == types.ReasonGranted,
		Reason:        reason,
		SecurityFlags: a.SecurityFlags,
		ServerTime:    now.UTC().Format(time.RFC3339),
	}
}

func (s *ValidationService) online(ctx context.Context, req types.ValidationRequest, now time.Time) (types.ValidationResponse, types.AccessAttempt, error) {
	const op = "Validate"
	a := s.newAttempt(req, now)

	scanner, err := s.d.Guard.CheckScannerLockout(ctx, req.Device.ScannerID, req.FacilityID, now)
	if err != nil {
		return types.ValidationResponse{}, a, err
	}
	if scanner.LockedOut {
		a.SecurityFlags = appendFlag(a.SecurityFlags, types.FlagLockedOut)
		resp := s.respond(&a, types.ReasonLockedOut, now)
		resp.LockedUntil = scanner.LockedUntil
		return resp, a, nil
	}

	p, err := s.d.Cipher.OpenPayload(req.QRPayload)
	if err != nil {
		return s.respond(&a, types.ReasonInvalidQR, now), a, nil
	}
	a.SubjectID, a.CredentialID = p.SubjectID, p.CredentialID

	lock, err := s.d.Guard.CheckLockout(ctx, p.SubjectID, req.FacilityID, now)
	if err != nil {
		return types.ValidationResponse{}, a, err
	}
	if lock.LockedOut {
		a.SecurityFlags = appendFlag(a.SecurityFlags, types.FlagLockedOut)
		resp := s.respond(&a, types.ReasonLockedOut, now)
		resp.LockedUntil = lock.LockedUntil
		return resp, a, nil
	}

	if now.After(p.ExpiresAt) {
		return s.respond(&a, types.ReasonExpired, now), a, nil
	}
	if p.ExpiresAt.Sub(p.IssuedAt) > s.cfg.QRTTL {
		return s.respond(&a, types.ReasonInvalidQR, now), a, nil
	}

	cred, err := retryValue(ctx, s.cfg.Retry, op, func(ctx context.Context) (types.DigitalCredential, error) {
		return s.d.Credentials.Get(ctx, p.CredentialID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return s.respond(&a, types.ReasonCredentialNotFound, now), a, nil
	}
	if err != nil {
		return types.ValidationResponse{}, a, err
	}
	if cred.SubjectID != p.SubjectID || !cipher.VerifyTamperHash(p, cred.TamperSecret) {
		a.SecurityFlags = appendFlag(a.SecurityFlags, types.FlagTamperDetected)
		return s.respond(&a, types.ReasonTamperDetected, now), a, nil
	}
	sum := cred.Summary()

	if s.d.Nonces.Seen(p.CredentialID, p.Nonce, p.ExpiresAt, now) {
		a.SecurityFlags = appendFlag(a.SecurityFlags, types.FlagNonceReplay)
		if s.cfg.RejectReplayedNonces {
			resp := s.respond(&a, types.ReasonReplayDetected, now)
			resp.CredentialSummary = sum.Public()
			return resp, a, nil
		}
	}

	var fac *types.FacilitySummary
	f, err := retryValue(ctx, s.cfg.Retry, op, func(ctx context.Context) (types.Facility, error) {
		return s.d.Facilities.Get(ctx, req.FacilityID)
	})
	switch {
	case err == nil:
		fs := f.Summary()
		fac = &fs
	case errors.Is(err, store.ErrNotFound):
	default:
		return types.ValidationResponse{}, a, err
	}

	var d Decision
	if fac != nil && !f.Active {
		d = EvaluateRules(&sum, fac, now, s.d.Evaluator.Location())
		if d.Granted {
			d = deny(types.ReasonFacilityClosed)
		}
	} else {
		d, err = s.d.Evaluator.Evaluate(ctx, &sum, fac, now)
		if err != nil {
			return types.ValidationResponse{}, a, err
		}
	}
	if d.Override {
		a.SecurityFlags = appendFlag(a.SecurityFlags, types.FlagEmergencyOverride)
	}

	resp := s.respond(&a, d.Reason, now)
	resp.CredentialSummary = sum.Public()
	resp.FacilitySummary = fac
	return resp, a, nil
}

// appendLog writes to the authoritative log and falls back to the queue.
// The decision has already been made, so failures are logged only.
func (s *ValidationService) appendLog(ctx context.Context, a types.AccessAttempt) {
	_, err := retryValue(ctx, s.cfg.Retry, "AppendLog", func(ctx context.Context) (bool, error) {
		return s.d.AccessLog.AppendIfAbsent(ctx, a)
	})
	if err == nil {
		return
	}
	s.log.Warn("access log unavailable, queueing attempt",
		zap.String("attempt_id", a.ID),
		zap.Error(err),
	)
	if s.d.Queue == nil {
		return
	}
	if _, qerr := s.d.Queue.Append(ctx, a); qerr != nil {
		s.log.Error("access attempt lost",
			zap.String("attempt_id", a.ID),
			zap.String("subject_id", a.SubjectID),
			zap.NamedError("log_error", err),
			zap.NamedError("queue_error", qerr),
		)
	}
}

// Exit records someone leaving a tracked facility.
func (s *ValidationService) Exit(ctx context.Context, facilityID string) (int, error) {
	facilityID = strings.TrimSpace(facilityID)
	if facilityID == "" {
		return 0, types.Validationf("Exit", "facilityId is required")
	}
	return s.d.Evaluator.Exit(ctx, facilityID)
}

func (s *ValidationService) CheckLockout(ctx context.Context, subjectID, facilityID string) (types.LockoutStatus, error) {
	subjectID, facilityID = strings.TrimSpace(subjectID), strings.TrimSpace(facilityID)
	if subjectID == "" || facilityID == "" {
		return types.LockoutStatus{}, types.Validationf("CheckLockout", "subjectId and facilityId are required")
	}
	return s.d.Guard.CheckLockout(ctx, subjectID, facilityID, s.cfg.Now())
}

func appendFlag(flags []types.SecurityFlag, f types.SecurityFlag) []types.SecurityFlag {
	for _, x := range flags {
		if x == f {
			return flags
		}
	}
	return append(flags, f)
}
