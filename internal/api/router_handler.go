package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/model"
	"github.com/mikronoc/mikronoc/internal/probe"
)

// routerRequest is the create/update payload. Status fields are owned by the
// scheduler and cannot be set here.
type routerRequest struct {
	Name     string `json:"name" validate:"required,max=128"`
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"min=0,max=65535"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password"`
	UseTLS   bool   `json:"use_tls"`
	Enabled  *bool  `json:"enabled"`
}

// CreateRouter handles POST /api/v1/routers.
func (h *Handlers) CreateRouter(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[routerRequest](w, r)
	if !ok {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid router payload", err.Error())
		return
	}
	if req.Password == "" {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Password is required", nil)
		return
	}

	encrypted, err := h.deps.Cipher.EncryptString(req.Password)
	if err != nil {
		sendError(w, r, http.StatusInternalServerError, "CRYPTO_ERROR", "Failed to encrypt credentials", nil)
		return
	}

	port := req.Port
	if port == 0 {
		port = 8728
		if req.UseTLS {
			port = 8729
		}
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	router := &model.Router{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      req.Name,
		Host:      req.Host,
		Port:      port,
		Username:  req.Username,
		Password:  encrypted,
		UseTLS:    req.UseTLS,
		Enabled:   enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.deps.Store.CreateRouter(r.Context(), router); err != nil {
		handleStoreError(w, r, err, "Router")
		return
	}

	h.deps.Logger.Info("router created", "router_id", router.ID, "host", router.Host)
	sendJSON(w, http.StatusCreated, router)
}

// ListRouters handles GET /api/v1/routers.
func (h *Handlers) ListRouters(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	routers, err := h.deps.Store.ListRouters(r.Context(), tenantID)
	if handleStoreError(w, r, err, "Router") {
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"routers": routers, "count": len(routers)})
}

// GetRouter handles GET /api/v1/routers/{id}.
func (h *Handlers) GetRouter(w http.ResponseWriter, r *http.Request) {
	router, ok := h.tenantRouter(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, router)
}

// UpdateRouter handles PUT /api/v1/routers/{id}. An empty password keeps the
// stored credential.
func (h *Handlers) UpdateRouter(w http.ResponseWriter, r *http.Request) {
	router, ok := h.tenantRouter(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[routerRequest](w, r)
	if !ok {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid router payload", err.Error())
		return
	}

	router.Name = req.Name
	router.Host = req.Host
	if req.Port != 0 {
		router.Port = req.Port
	}
	router.Username = req.Username
	router.UseTLS = req.UseTLS
	if req.Enabled != nil {
		router.Enabled = *req.Enabled
	}
	if req.Password != "" {
		encrypted, err := h.deps.Cipher.EncryptString(req.Password)
		if err != nil {
			sendError(w, r, http.StatusInternalServerError, "CRYPTO_ERROR", "Failed to encrypt credentials", nil)
			return
		}
		router.Password = encrypted
	}
	router.UpdatedAt = time.Now().UTC()

	if err := h.deps.Store.UpdateRouterConfig(r.Context(), router); err != nil {
		handleStoreError(w, r, err, "Router")
		return
	}
	sendJSON(w, http.StatusOK, router)
}

// DeleteRouter handles DELETE /api/v1/routers/{id}. Metrics, alerts and
// wallboard slots referencing the router go with it.
func (h *Handlers) DeleteRouter(w http.ResponseWriter, r *http.Request) {
	router, ok := h.tenantRouter(w, r)
	if !ok {
		return
	}
	if err := h.deps.Store.DeleteRouter(r.Context(), router.ID); err != nil {
		handleStoreError(w, r, err, "Router")
		return
	}
	h.deps.Logger.Info("router deleted", "router_id", router.ID)
	sendJSON(w, http.StatusNoContent, nil)
}

// maintenanceRequest sets or clears a maintenance window.
type maintenanceRequest struct {
	DurationMinutes int    `json:"duration_minutes" validate:"min=0,max=10080"`
	Reason          string `json:"reason" validate:"max=256"`
}

// SetMaintenance handles POST /api/v1/routers/{id}/maintenance. Zero
// duration clears the window.
func (h *Handlers) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	router, ok := h.tenantRouter(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[maintenanceRequest](w, r)
	if !ok {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid maintenance payload", err.Error())
		return
	}

	if req.DurationMinutes == 0 {
		router.MaintenanceUntil = nil
		router.MaintenanceReason = ""
	} else {
		until := time.Now().UTC().Add(time.Duration(req.DurationMinutes) * time.Minute)
		router.MaintenanceUntil = &until
		router.MaintenanceReason = req.Reason
	}
	router.UpdatedAt = time.Now().UTC()

	if err := h.deps.Store.UpdateRouterConfig(r.Context(), router); err != nil {
		handleStoreError(w, r, err, "Router")
		return
	}
	sendJSON(w, http.StatusOK, router)
}

// verifyResponse is the verification outcome.
type verifyResponse struct {
	TCP  *probe.Result `json:"tcp"`
	SNMP *probe.Result `json:"snmp,omitempty"`
}

// VerifyRouter handles POST /api/v1/routers/{id}/verify: a TCP probe of the
// API port plus a best-effort SNMP identity check.
func (h *Handlers) VerifyRouter(w http.ResponseWriter, r *http.Request) {
	router, ok := h.tenantRouter(w, r)
	if !ok {
		return
	}

	resp := verifyResponse{
		TCP:  probe.TCP(r.Context(), router, h.deps.ProbeTimeout),
		SNMP: probe.SNMP(r.Context(), router.Host, "", h.deps.ProbeTimeout),
	}

	status := http.StatusOK
	if !resp.TCP.Reachable {
		status = http.StatusBadGateway
	}
	sendJSON(w, status, resp)
}

// RouterSnapshot handles GET /api/v1/routers/{id}/snapshot: an on-demand
// poll of the device, bypassing the scheduler.
func (h *Handlers) RouterSnapshot(w http.ResponseWriter, r *http.Request) {
	router, ok := h.tenantRouter(w, r)
	if !ok {
		return
	}
	snap, err := h.deps.Dialer.FetchSnapshot(r.Context(), router)
	if err != nil {
		sendError(w, r, http.StatusBadGateway, "ROUTER_UNREACHABLE", "Failed to poll router", err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot":   snap,
		"latency_ms": snap.Latency.Milliseconds(),
	})
}

// RouterCounters handles GET /api/v1/routers/{id}/counters: live cumulative
// byte counters straight from the device. ?names=ether1,ether2 restricts the
// result; without it all interfaces are returned.
func (h *Handlers) RouterCounters(w http.ResponseWriter, r *http.Request) {
	router, ok := h.tenantRouter(w, r)
	if !ok {
		return
	}

	var names []string
	if raw := r.URL.Query().Get("names"); raw != "" {
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}

	counters, err := h.deps.Dialer.FetchCounters(r.Context(), router, names)
	if err != nil {
		sendError(w, r, http.StatusBadGateway, "ROUTER_UNREACHABLE", "Failed to fetch counters", err.Error())
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"counters": counters, "count": len(counters)})
}

// tenantRouter loads the router from the URL and enforces tenant ownership.
func (h *Handlers) tenantRouter(w http.ResponseWriter, r *http.Request) (*model.Router, bool) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return nil, false
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return nil, false
	}
	router, err := h.deps.Store.GetRouter(r.Context(), id)
	if handleStoreError(w, r, err, "Router") {
		return nil, false
	}
	if router.TenantID != tenantID {
		// Routers in other tenants do not exist as far as this caller knows.
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Router not found", nil)
		return nil, false
	}
	return router, true
}
