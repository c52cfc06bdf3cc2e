package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/job-scanner/internal/types"
)

// cleanupRequest is the cleanup trigger body. An empty body is a full run.
type cleanupRequest struct {
	DryRun bool `json:"dryRun"`
}

// handleTriggerCleanup runs (or previews with {"dryRun": true}) an expiry
// purge. Cleanup mutates data across the whole posting table, so it is
// admin-only.
func (s *Server) handleTriggerCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-User-ID") == "" {
		respondError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	if requestRole(r) != types.RoleAdmin {
		respondError(w, http.StatusForbidden, CodeForbidden, "cleanup requires the admin role")
		return
	}

	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}

	result, err := s.cleanupService.RunCleanup(r.Context(), req.DryRun)
	if err != nil {
		mapServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleCleanupStatus reports aggregate posting lifecycle counts
func (s *Server) handleCleanupStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cleanupService.GetCleanupStats(r.Context())
	if err != nil {
		mapServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
