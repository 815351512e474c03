package httpapi

import (
	"net/http"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// handleSnapshot builds a signed snapshot for the facilities named by
// repeated ?facility= parameters, or every active facility.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.BuildSnapshot(r.Context(), r.URL.Query()["facility"])
	if err != nil {
		writeDomainError(w, s.log(r), err)
		return
	}
	if isProtobuf(r) || r.Header.Get("Accept") == protobufContentType {
		writeStruct(w, http.StatusOK, snap)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type syncRequest struct {
	Attempts []types.AccessAttempt `json:"attempts"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Attempts) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "attempts must not be empty")
		return
	}
	writeJSON(w, http.StatusOK, s.reconciler.Merge(r.Context(), req.Attempts))
}
