package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BrandonDHaskell/campusid/internal/campusid/service"
	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// ── Credentials ──────────────────────────────────────────────────────────────

type issueRequest struct {
	SubjectID       string                     `json:"subjectId"`
	Role            string                     `json:"role"`
	ForceRegenerate bool                       `json:"forceRegenerate,omitempty"`
	Permissions     []types.FacilityPermission `json:"permissions,omitempty"`
	ValidForDays    int                        `json:"validForDays,omitempty"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cred, err := s.credentials.Issue(r.Context(), req.SubjectID, req.Role, service.IssueOptions{
		ForceRegenerate: req.ForceRegenerate,
		Permissions:     req.Permissions,
		ValidFor:        time.Duration(req.ValidForDays) * 24 * time.Hour,
		Actor:           actorFrom(r),
	})
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, cred)
}

func (s *Server) handleUpdatePermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permissions []types.FacilityPermission `json:"permissions"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	cred, err := s.credentials.UpdatePermissions(r.Context(), chi.URLParam(r, "subjectID"), req.Permissions)
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	cred, err := s.credentials.Suspend(r.Context(), chi.URLParam(r, "subjectID"), req.Reason, actorFrom(r))
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	cred, err := s.credentials.Reactivate(r.Context(), chi.URLParam(r, "subjectID"), actorFrom(r))
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (s *Server) handleGenerateQR(w http.ResponseWriter, r *http.Request) {
	qr, err := s.credentials.GenerateQR(r.Context(), chi.URLParam(r, "subjectID"))
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, qr)
}

func (s *Server) handleExpiring(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("within_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "within_days must be an integer")
			return
		}
		days = n
	}
	creds, err := s.credentials.FindExpiringSoon(r.Context(), days)
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	if creds == nil {
		creds = []types.DigitalCredential{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": creds})
}

// ── Emergency ────────────────────────────────────────────────────────────────

func (s *Server) handleLockdown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Criteria types.EmergencyCriteria `json:"criteria"`
		Reason   string                  `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sum, err := s.emergency.Lockdown(r.Context(), req.Criteria, req.Reason, actorFrom(r))
	s.writeSummary(w, r, sum, err)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Criteria types.EmergencyCriteria `json:"criteria"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sum, err := s.emergency.Unlock(r.Context(), req.Criteria, actorFrom(r))
	s.writeSummary(w, r, sum, err)
}

func (s *Server) handleEnableOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sum, err := s.emergency.EnableCapacityOverride(r.Context(), chi.URLParam(r, "facilityID"), req.Reason, actorFrom(r))
	s.writeSummary(w, r, sum, err)
}

func (s *Server) handleDisableOverride(w http.ResponseWriter, r *http.Request) {
	sum, err := s.emergency.DisableCapacityOverride(r.Context(), chi.URLParam(r, "facilityID"), actorFrom(r))
	s.writeSummary(w, r, sum, err)
}

// writeSummary reports the affected counts. A failed audit write still
// returns the summary of what was changed, with the error code alongside.
func (s *Server) writeSummary(w http.ResponseWriter, r *http.Request, sum types.EmergencySummary, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, sum)
		return
	}
	if types.ReasonOf(err) == "audit_unavailable" {
		writeJSON(w, http.StatusOK, struct {
			types.EmergencySummary
			Warning string `json:"warning"`
		}{sum, "audit_unavailable"})
		return
	}
	writeDomainError(w, s.log(r), err)
}

func (s *Server) handleRecentActions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	actions, err := s.emergency.Recent(r.Context(), limit)
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	if actions == nil {
		actions = []types.EmergencyAction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}
