// Package httputil maps the shared error taxonomy onto HTTP responses for
// the API handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiss/mpc/interfaces"
)

// StatusForError maps a service error to an HTTP status code.
func StatusForError(err error) int {
	switch {
	case interfaces.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrNodeNotFound),
		errors.Is(err, interfaces.ErrBackupInfoNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrMigrationProofRequired):
		return http.StatusPreconditionFailed
	case interfaces.IsConflictError(err),
		errors.Is(err, interfaces.ErrEpochMismatch),
		errors.Is(err, interfaces.ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrClusterHalted),
		errors.Is(err, interfaces.ErrClusterNotRunning),
		errors.Is(err, interfaces.ErrInsufficientOldParticipants):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError logs the failure and writes its mapped status with the error
// message as body.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Debug("request rejected", "status", status, "err", err)
	}
	http.Error(w, err.Error(), status)
}

// WriteJSON writes a JSON response body.
func WriteJSON(w http.ResponseWriter, log *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("failed to encode response", "err", err)
	}
}
