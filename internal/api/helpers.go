package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/middleware"
	"github.com/mikronoc/mikronoc/internal/store"
)

// sendJSON sends a JSON response.
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// sendError sends a standardized error response.
func sendError(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	requestID, _ := r.Context().Value(middleware.RequestIDKey).(string)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(middleware.ErrorResponse{
		Error: middleware.ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}

// parseUUIDParam extracts and validates a UUID URL parameter.
func parseUUIDParam(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid UUID format", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON decodes the request body with error handling.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var input T
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", err.Error())
		return input, false
	}
	return input, true
}

// tenantFrom pulls the authenticated tenant out of the request context.
func tenantFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.TenantID(r.Context())
	if !ok {
		sendError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "No tenant in request context", nil)
		return uuid.Nil, false
	}
	return id, true
}

// handleStoreError sends the appropriate error response for a store error.
// Returns true when err was non-nil and a response was written.
func handleStoreError(w http.ResponseWriter, r *http.Request, err error, entityName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrNotFound) {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", entityName+" not found", nil)
	} else {
		sendError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Storage error", err.Error())
	}
	return true
}
