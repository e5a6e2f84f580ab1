package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mikronoc/mikronoc/internal/store"
	"github.com/mikronoc/mikronoc/internal/timeseries"
)

// RouterMetrics handles GET /api/v1/routers/{id}/metrics. Query parameters:
// from/to (RFC 3339, default last 6 hours), interface (empty for
// router-level samples), limit. The response is downsampled by window width:
// raw up to 2 days, hourly up to 14 days, daily beyond.
func (h *Handlers) RouterMetrics(w http.ResponseWriter, r *http.Request) {
	router, ok := h.tenantRouter(w, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	from := now.Add(-6 * time.Hour)
	to := now

	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			sendError(w, r, http.StatusBadRequest, "INVALID_RANGE", "from must be RFC 3339", err.Error())
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			sendError(w, r, http.StatusBadRequest, "INVALID_RANGE", "to must be RFC 3339", err.Error())
			return
		}
		to = t
	}
	if !to.After(from) {
		sendError(w, r, http.StatusBadRequest, "INVALID_RANGE", "to must be after from", nil)
		return
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	samples, err := h.deps.Store.QueryMetrics(r.Context(), store.MetricQuery{
		RouterID:      router.ID,
		InterfaceName: q.Get("interface"),
		From:          from,
		To:            to,
		Limit:         limit,
	})
	if handleStoreError(w, r, err, "Metrics") {
		return
	}

	bucket := timeseries.ChooseBucket(from, to)
	points := timeseries.Downsample(samples, bucket)

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"router_id": router.ID,
		"interface": q.Get("interface"),
		"from":      from,
		"to":        to,
		"bucket":    bucket.String(),
		"points":    points,
		"count":     len(points),
	})
}

// NOCOverview handles GET /api/v1/noc: every router with its latest sample
// and the open alert count, the data behind the main NOC table.
func (h *Handlers) NOCOverview(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	routers, err := h.deps.Store.ListRouters(r.Context(), tenantID)
	if handleStoreError(w, r, err, "Router") {
		return
	}
	alerts, err := h.deps.Store.ListAlerts(r.Context(), tenantID, true, 0)
	if handleStoreError(w, r, err, "Alerts") {
		return
	}

	openByRouter := make(map[string]int)
	for _, a := range alerts {
		openByRouter[a.RouterID.String()]++
	}

	type row struct {
		Router     interface{} `json:"router"`
		Latest     interface{} `json:"latest_sample,omitempty"`
		OpenAlerts int         `json:"open_alerts"`
	}
	rows := make([]row, 0, len(routers))
	for _, rt := range routers {
		item := row{Router: rt, OpenAlerts: openByRouter[rt.ID.String()]}
		if latest, err := h.deps.Store.LatestMetric(r.Context(), rt.ID); err == nil {
			item.Latest = latest
		}
		rows = append(rows, item)
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"routers":     rows,
		"count":       len(rows),
		"open_alerts": len(alerts),
	})
}
