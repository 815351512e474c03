package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindDecryption:
		return http.StatusUnauthorized
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindConflict:
		return http.StatusConflict
	case types.KindExpired:
		return http.StatusGone
	case types.KindLockout:
		return http.StatusLocked
	case types.KindPermissionDenied:
		return http.StatusForbidden
	case types.KindSystem:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeDomainError maps a service error onto a status and error code.
// Unclassified errors are logged and reported as internal_error.
func writeDomainError(w http.ResponseWriter, log *zap.Logger, err error) {
	var de *types.Error
	if !errors.As(err, &de) {
		log.Error("unexpected error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	status := statusFor(de.Kind)
	code := de.Reason
	if code == "" {
		code = string(de.Kind)
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("kind", string(de.Kind)), zap.Error(err))
		msg = "service temporarily unavailable"
	}
	writeError(w, status, code, msg)
}

// decodeJSON decodes a strict JSON body, writing 400 bad_json on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return false
	}
	return true
}
