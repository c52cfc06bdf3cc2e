// Package api exposes the HTTP surface: scrape trigger, cleanup trigger and
// the status endpoints backing them.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/job-scanner/internal/logging"
	"github.com/job-scanner/internal/queue"
	"github.com/job-scanner/internal/types"
)

// Error codes returned in the error envelope
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeRateLimited    = "RATE_LIMITED"
	CodeQueueSaturated = "QUEUE_SATURATED"
	CodeInternal       = "INTERNAL_ERROR"
)

type errorEnvelope struct {
	Error *types.ServiceError `json:"error"`
}

// respondJSON writes a JSON response with the given status
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logging.GetGlobalLogger().WithError(err).Error("Failed to encode response")
		}
	}
}

// respondError writes a structured error envelope
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorEnvelope{Error: &types.ServiceError{Code: code, Message: message}})
}

// mapServiceError translates service-layer errors to HTTP responses without
// leaking internals. Unknown errors become an opaque 500.
func mapServiceError(w http.ResponseWriter, err error) {
	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		status := http.StatusBadRequest
		switch svcErr.Code {
		case CodeUnauthorized:
			status = http.StatusUnauthorized
		case CodeForbidden:
			status = http.StatusForbidden
		case CodeNotFound:
			status = http.StatusNotFound
		case CodeInternal:
			status = http.StatusInternalServerError
		}
		respondJSON(w, status, errorEnvelope{Error: svcErr})
		return
	}

	if errors.Is(err, queue.ErrBackpressure) {
		respondError(w, http.StatusServiceUnavailable, CodeQueueSaturated, "queue is saturated, try again later")
		return
	}

	logging.GetGlobalLogger().WithError(err).Error("Unhandled service error")
	respondError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}
