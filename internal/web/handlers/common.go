package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-matcher/internal/catalog"
	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/recognition"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// errCatalogUnavailable is returned with 503 responses. Clients should retry.
const errCatalogUnavailable = "catalog unavailable, retry later"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

// statusForError maps a service error to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, catalog.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, recognition.ErrProfileSearchUnsupported), errors.Is(err, catalog.ErrListUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err with its mapped status. Server-side failures
// are logged and their details kept out of the response.
func respondServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusForError(err)
	switch status {
	case http.StatusBadRequest, http.StatusNotImplemented:
		respondError(w, status, err.Error())
	case http.StatusServiceUnavailable:
		logger.Warn(op+" failed", "error", err, "request_id", chiMiddleware.GetReqID(r.Context()))
		w.Header().Set("Retry-After", "5")
		respondError(w, status, errCatalogUnavailable)
	default:
		logger.Error(op+" failed", "error", err, "request_id", chiMiddleware.GetReqID(r.Context()))
		respondError(w, status, "internal error")
	}
}

// HealthCheck handles the health check endpoint. A degraded catalog still
// answers, so the status stays ok.
func HealthCheck(svc *recognition.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"degraded": svc.Degraded(),
		})
	}
}
