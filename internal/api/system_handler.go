package api

import (
	"net/http"
	"time"

	"github.com/mikronoc/mikronoc/internal/auth"
)

var startedAt = time.Now()

// Health handles GET /health. Unauthenticated liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(startedAt).Seconds()),
	})
}

// Login handles POST /api/v1/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[auth.LoginRequest](w, r)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Username and password are required", nil)
		return
	}

	resp, err := h.deps.Auth.Login(req.Username, req.Password)
	if err != nil {
		sendError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}
