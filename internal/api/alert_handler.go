package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/middleware"
	"github.com/mikronoc/mikronoc/internal/model"
)

func activeOnlyParam(r *http.Request) bool {
	// active=false returns history too; the default is open rows only.
	v := r.URL.Query().Get("active")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func usernameFrom(r *http.Request) string {
	name, _ := r.Context().Value(middleware.UsernameKey).(string)
	return name
}

// ListAlerts handles GET /api/v1/alerts.
func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	alerts, err := h.deps.Store.ListAlerts(r.Context(), tenantID, activeOnlyParam(r), limitParam(r))
	if handleStoreError(w, r, err, "Alerts") {
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
}

// AckAlert handles POST /api/v1/alerts/{id}/ack. Acknowledgement marks "a
// human saw this" and is independent of the open/resolved lifecycle.
func (h *Handlers) AckAlert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	alert, err := h.deps.Store.GetAlert(r.Context(), id)
	if handleStoreError(w, r, err, "Alert") {
		return
	}
	if alert.TenantID != tenantID {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Alert not found", nil)
		return
	}

	if err := h.deps.Store.AckAlert(r.Context(), id, usernameFrom(r), time.Now().UTC()); err != nil {
		handleStoreError(w, r, err, "Alert")
		return
	}
	alert, err = h.deps.Store.GetAlert(r.Context(), id)
	if handleStoreError(w, r, err, "Alert") {
		return
	}
	sendJSON(w, http.StatusOK, alert)
}

// ResolveAlert handles POST /api/v1/alerts/{id}/resolve, the manual
// operator override. The evaluator will simply reopen a new row if the
// condition still holds on the next poll.
func (h *Handlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	alert, err := h.deps.Store.GetAlert(r.Context(), id)
	if handleStoreError(w, r, err, "Alert") {
		return
	}
	if alert.TenantID != tenantID {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Alert not found", nil)
		return
	}

	if err := h.deps.Store.ResolveAlert(r.Context(), id, time.Now().UTC()); err != nil {
		handleStoreError(w, r, err, "Alert")
		return
	}
	alert, err = h.deps.Store.GetAlert(r.Context(), id)
	if handleStoreError(w, r, err, "Alert") {
		return
	}
	sendJSON(w, http.StatusOK, alert)
}

// ListIncidents handles GET /api/v1/incidents.
func (h *Handlers) ListIncidents(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	incidents, err := h.deps.Store.ListIncidents(r.Context(), tenantID, activeOnlyParam(r), limitParam(r))
	if handleStoreError(w, r, err, "Incidents") {
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"incidents": incidents, "count": len(incidents)})
}

// AckIncident handles POST /api/v1/incidents/{id}/ack.
func (h *Handlers) AckIncident(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	incident, err := h.deps.Store.GetIncident(r.Context(), id)
	if handleStoreError(w, r, err, "Incident") {
		return
	}
	if incident.TenantID != tenantID {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Incident not found", nil)
		return
	}

	if err := h.deps.Store.AckIncident(r.Context(), id, usernameFrom(r), time.Now().UTC()); err != nil {
		handleStoreError(w, r, err, "Incident")
		return
	}
	incident, err = h.deps.Store.GetIncident(r.Context(), id)
	if handleStoreError(w, r, err, "Incident") {
		return
	}
	sendJSON(w, http.StatusOK, incident)
}

// ResolveIncident handles POST /api/v1/incidents/{id}/resolve.
func (h *Handlers) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	incident, err := h.deps.Store.GetIncident(r.Context(), id)
	if handleStoreError(w, r, err, "Incident") {
		return
	}
	if incident.TenantID != tenantID {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Incident not found", nil)
		return
	}

	if err := h.deps.Store.ResolveIncident(r.Context(), id, time.Now().UTC()); err != nil {
		handleStoreError(w, r, err, "Incident")
		return
	}
	incident, err = h.deps.Store.GetIncident(r.Context(), id)
	if handleStoreError(w, r, err, "Incident") {
		return
	}
	sendJSON(w, http.StatusOK, incident)
}

// simulateRequest synthesizes an incident for drills and UI testing.
type simulateRequest struct {
	RouterID      string `json:"router_id" validate:"required,uuid"`
	Type          string `json:"type" validate:"required,oneof=offline cpu latency interface_down rate_below"`
	Severity      string `json:"severity" validate:"omitempty,oneof=info warning critical"`
	InterfaceName string `json:"interface_name"`
	Message       string `json:"message" validate:"max=512"`
}

// SimulateIncident handles POST /api/v1/incidents/simulate. The synthetic
// incident goes through the same dedup transition as real evaluation.
func (h *Handlers) SimulateIncident(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[simulateRequest](w, r)
	if !ok {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid simulate payload", err.Error())
		return
	}

	routerID := uuid.MustParse(req.RouterID)
	router, err := h.deps.Store.GetRouter(r.Context(), routerID)
	if handleStoreError(w, r, err, "Router") {
		return
	}
	if router.TenantID != tenantID {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Router not found", nil)
		return
	}

	incident, err := h.deps.Evaluator.Simulate(r.Context(), tenantID, routerID,
		model.IncidentType(req.Type), model.Severity(req.Severity), req.InterfaceName, req.Message)
	if handleStoreError(w, r, err, "Incident") {
		return
	}
	sendJSON(w, http.StatusCreated, incident)
}
