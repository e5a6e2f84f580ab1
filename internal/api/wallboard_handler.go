package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/model"
)

// WallboardSnapshot handles GET /api/v1/wallboard: the current live tile
// states (last rate, warn flag, sparkline) for the caller's tenant.
func (h *Handlers) WallboardSnapshot(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	tiles := h.deps.Live.Snapshot(tenantID)
	sendJSON(w, http.StatusOK, map[string]interface{}{"tiles": tiles, "count": len(tiles)})
}

// WallboardStream handles GET /api/v1/wallboard/stream: a server-sent event
// feed of live tile updates for the caller's tenant. Each event is one
// live.Update as JSON. The stream ends when the client disconnects.
func (h *Handlers) WallboardStream(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, r, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "Streaming not supported", nil)
		return
	}

	updates, cancel := h.deps.Live.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Slot.TenantID != tenantID {
				continue
			}
			data, err := json.Marshal(u)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// GetWallboardSlots handles GET /api/v1/wallboard/slots.
func (h *Handlers) GetWallboardSlots(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	slots, err := h.deps.Store.GetWallboardSlots(r.Context(), tenantID)
	if handleStoreError(w, r, err, "Wallboard") {
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"slots": slots, "count": len(slots)})
}

type wallboardSlotRequest struct {
	Position      int     `json:"position" validate:"min=0,max=63"`
	RouterID      string  `json:"router_id" validate:"required,uuid"`
	InterfaceName string  `json:"interface_name" validate:"required,max=64"`
	WarnRxBps     float64 `json:"warn_rx_bps" validate:"min=0"`
	WarnTxBps     float64 `json:"warn_tx_bps" validate:"min=0"`
}

type wallboardSlotsRequest struct {
	Slots []wallboardSlotRequest `json:"slots" validate:"max=64,dive"`
}

// PutWallboardSlots handles PUT /api/v1/wallboard/slots: full replacement of
// the tenant's grid. Every referenced router must belong to the tenant.
func (h *Handlers) PutWallboardSlots(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[wallboardSlotsRequest](w, r)
	if !ok {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid wallboard payload", err.Error())
		return
	}

	seen := make(map[int]bool, len(req.Slots))
	slots := make([]model.WallboardSlot, 0, len(req.Slots))
	for _, sl := range req.Slots {
		if seen[sl.Position] {
			sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Duplicate slot position", sl.Position)
			return
		}
		seen[sl.Position] = true

		routerID := uuid.MustParse(sl.RouterID)
		router, err := h.deps.Store.GetRouter(r.Context(), routerID)
		if handleStoreError(w, r, err, "Router") {
			return
		}
		if router.TenantID != tenantID {
			sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Router not found", nil)
			return
		}

		slots = append(slots, model.WallboardSlot{
			TenantID:      tenantID,
			Position:      sl.Position,
			RouterID:      routerID,
			InterfaceName: sl.InterfaceName,
			WarnRxBps:     sl.WarnRxBps,
			WarnTxBps:     sl.WarnTxBps,
		})
	}

	if err := h.deps.Store.SaveWallboardSlots(r.Context(), tenantID, slots); err != nil {
		handleStoreError(w, r, err, "Wallboard")
		return
	}
	h.deps.Logger.Info("wallboard slots replaced", "tenant_id", tenantID, "count", len(slots))
	sendJSON(w, http.StatusOK, map[string]interface{}{"slots": slots, "count": len(slots)})
}
