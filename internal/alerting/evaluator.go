// Package alerting evaluates poll results against threshold rules and drives
// alert/incident rows through their state machine: open on first firing,
// bump last_seen while the condition persists, resolve when it clears.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/channels"
	"github.com/mikronoc/mikronoc/internal/model"
	"github.com/mikronoc/mikronoc/internal/store"
)

// Thresholds configures the rule set.
type Thresholds struct {
	// CPUPercent fires the cpu rule at or above this load.
	CPUPercent float64
	// LatencyMS fires the latency rule at or above this round-trip time.
	LatencyMS int64
	// RateDebounceSamples is how many consecutive below-floor samples the
	// rate rule needs before opening an incident, so a single slow second
	// does not flap.
	RateDebounceSamples int
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{CPUPercent: 85, LatencyMS: 400, RateDebounceSamples: 3}
}

// Evaluator owns rule evaluation and alert/incident transitions. All
// transitions go through the store's atomic find-open-or-create operations,
// so concurrent evaluations cannot duplicate open rows.
type Evaluator struct {
	store      store.Store
	events     *channels.EventChannels
	logger     *slog.Logger
	thresholds Thresholds

	mu          sync.Mutex
	belowStreak map[string]int
}

// NewEvaluator creates an evaluator. Zero threshold fields fall back to the
// defaults.
func NewEvaluator(st store.Store, events *channels.EventChannels, logger *slog.Logger, t Thresholds) *Evaluator {
	def := DefaultThresholds()
	if t.CPUPercent <= 0 {
		t.CPUPercent = def.CPUPercent
	}
	if t.LatencyMS <= 0 {
		t.LatencyMS = def.LatencyMS
	}
	if t.RateDebounceSamples <= 0 {
		t.RateDebounceSamples = def.RateDebounceSamples
	}
	return &Evaluator{
		store:       st,
		events:      events,
		logger:      logger.With("component", "alerting"),
		thresholds:  t,
		belowStreak: make(map[string]int),
	}
}

// EvaluateRouter runs the router-level rules against the outcome of one
// poll. sample is nil when the poll failed; cpu and latency rules are then
// left untouched since there is nothing to compare (they resolve on the next
// successful poll).
//
// While the router is inside a maintenance window, evaluation is skipped
// entirely: open alerts stay frozen until maintenance ends and the next tick
// re-evaluates them.
func (e *Evaluator) EvaluateRouter(ctx context.Context, r *model.Router, sample *model.RouterMetricSample) error {
	now := time.Now().UTC()
	if r.InMaintenance(now) {
		e.logger.Debug("evaluation suppressed, router in maintenance",
			"router_id", r.ID, "until", r.MaintenanceUntil)
		return nil
	}

	var errs []error

	offlineMsg := r.LastError
	if offlineMsg == "" {
		offlineMsg = "router is unreachable"
	}
	if err := e.transitionAlert(ctx, r, model.AlertOffline, !r.IsOnline,
		model.SeverityCritical, "Router offline", offlineMsg, 0, 0, now); err != nil {
		errs = append(errs, err)
	}

	if sample != nil {
		if err := e.transitionAlert(ctx, r, model.AlertCPU,
			sample.CPULoad >= e.thresholds.CPUPercent,
			model.SeverityWarning, "CPU load high",
			fmt.Sprintf("cpu load %.0f%% on %s", sample.CPULoad, r.Name),
			sample.CPULoad, e.thresholds.CPUPercent, now); err != nil {
			errs = append(errs, err)
		}

		if err := e.transitionAlert(ctx, r, model.AlertLatency,
			r.LatencyMS >= e.thresholds.LatencyMS,
			model.SeverityWarning, "Latency high",
			fmt.Sprintf("api round-trip %dms on %s", r.LatencyMS, r.Name),
			float64(r.LatencyMS), float64(e.thresholds.LatencyMS), now); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// transitionAlert applies one rule outcome to the alert table:
//
//	active, no open row  -> create (triggered_at = last_seen_at = now)
//	active, open row     -> bump last_seen_at only
//	inactive, open row   -> resolve
//	inactive, no row     -> no-op
func (e *Evaluator) transitionAlert(ctx context.Context, r *model.Router, typ model.AlertType, active bool, severity model.Severity, title, message string, value, threshold float64, now time.Time) error {
	if active {
		_, created, err := e.store.UpsertOpenAlert(ctx, &model.Alert{
			TenantID:   r.TenantID,
			RouterID:   r.ID,
			Type:       typ,
			Severity:   severity,
			Title:      title,
			Message:    message,
			Value:      value,
			Threshold:  threshold,
			LastSeenAt: now,
		})
		if err != nil {
			return fmt.Errorf("open %s alert: %w", typ, err)
		}
		if created {
			e.logger.Warn("alert opened",
				"router_id", r.ID, "type", typ, "value", value, "threshold", threshold)
			e.events.PublishAlert(channels.AlertEvent{
				TenantID: r.TenantID, RouterID: r.ID, Kind: "alert",
				Type: string(typ), Severity: severity, EventType: "opened", Timestamp: now,
			})
		}
		return nil
	}

	resolved, err := e.store.ResolveOpenAlert(ctx, r.TenantID, r.ID, typ, now)
	if err != nil {
		return fmt.Errorf("resolve %s alert: %w", typ, err)
	}
	if resolved {
		e.logger.Info("alert resolved", "router_id", r.ID, "type", typ)
		e.events.PublishAlert(channels.AlertEvent{
			TenantID: r.TenantID, RouterID: r.ID, Kind: "alert",
			Type: string(typ), Severity: severity, EventType: "resolved", Timestamp: now,
		})
	}
	return nil
}

// ObserveInterface runs the interface rules for one live observation. The
// rate-below rule is debounced: it opens only after RateDebounceSamples
// consecutive below-floor points for the same key.
func (e *Evaluator) ObserveInterface(ctx context.Context, r *model.Router, slot model.WallboardSlot, c model.InterfaceCounters, point model.RatePoint, haveRate bool) {
	now := time.Now().UTC()
	if r.InMaintenance(now) {
		return
	}

	down := c.Disabled || !c.Running
	state := "down"
	if c.Disabled {
		state = "disabled"
	}
	if err := e.transitionIncident(ctx, r.TenantID, r.ID, model.IncidentInterfaceDown,
		slot.InterfaceName, down, model.SeverityCritical, "Interface down",
		fmt.Sprintf("%s on %s is %s", slot.InterfaceName, r.Name, state), now); err != nil {
		e.logger.Error("interface-down transition failed",
			"router_id", r.ID, "interface", slot.InterfaceName, "error", err)
	}

	floorSet := slot.WarnRxBps > 0 || slot.WarnTxBps > 0
	if !floorSet || !haveRate {
		return
	}

	below := (slot.WarnRxBps > 0 && point.RxBps < slot.WarnRxBps) ||
		(slot.WarnTxBps > 0 && point.TxBps < slot.WarnTxBps)

	key := r.ID.String() + "/" + slot.InterfaceName
	e.mu.Lock()
	if below {
		e.belowStreak[key]++
	} else {
		e.belowStreak[key] = 0
	}
	streak := e.belowStreak[key]
	e.mu.Unlock()

	active := streak >= e.thresholds.RateDebounceSamples
	if err := e.transitionIncident(ctx, r.TenantID, r.ID, model.IncidentRateBelow,
		slot.InterfaceName, active, model.SeverityWarning, "Throughput below floor",
		fmt.Sprintf("%s on %s at %.0f/%.0f bps", slot.InterfaceName, r.Name, point.RxBps, point.TxBps),
		now); err != nil {
		e.logger.Error("rate-below transition failed",
			"router_id", r.ID, "interface", slot.InterfaceName, "error", err)
	}
}

func (e *Evaluator) transitionIncident(ctx context.Context, tenantID, routerID uuid.UUID, typ model.IncidentType, iface string, active bool, severity model.Severity, title, message string, now time.Time) error {
	if active {
		_, created, err := e.store.UpsertOpenIncident(ctx, &model.Incident{
			TenantID:      tenantID,
			RouterID:      routerID,
			InterfaceName: iface,
			Type:          typ,
			Severity:      severity,
			Title:         title,
			Message:       message,
			LastSeenAt:    now,
		})
		if err != nil {
			return fmt.Errorf("open %s incident: %w", typ, err)
		}
		if created {
			e.logger.Warn("incident opened",
				"router_id", routerID, "type", typ, "interface", iface)
			e.events.PublishAlert(channels.AlertEvent{
				TenantID: tenantID, RouterID: routerID, Kind: "incident",
				Type: string(typ), InterfaceName: iface, Severity: severity,
				EventType: "opened", Timestamp: now,
			})
		}
		return nil
	}

	resolved, err := e.store.ResolveOpenIncident(ctx, tenantID, routerID, typ, iface, now)
	if err != nil {
		return fmt.Errorf("resolve %s incident: %w", typ, err)
	}
	if resolved {
		e.logger.Info("incident resolved",
			"router_id", routerID, "type", typ, "interface", iface)
		e.events.PublishAlert(channels.AlertEvent{
			TenantID: tenantID, RouterID: routerID, Kind: "incident",
			Type: string(typ), InterfaceName: iface, Severity: severity,
			EventType: "resolved", Timestamp: now,
		})
	}
	return nil
}

// Simulate synthesizes an incident without a real device. It runs the exact
// same transition arm as real evaluation, so dedup, events and the
// uniqueness constraint all apply.
func (e *Evaluator) Simulate(ctx context.Context, tenantID, routerID uuid.UUID, typ model.IncidentType, severity model.Severity, iface, message string) (*model.Incident, error) {
	if severity == "" {
		severity = model.SeverityWarning
	}
	if message == "" {
		message = fmt.Sprintf("simulated %s incident", typ)
	}
	now := time.Now().UTC()

	if err := e.transitionIncident(ctx, tenantID, routerID, typ, iface, true,
		severity, fmt.Sprintf("Simulated: %s", typ), message, now); err != nil {
		return nil, err
	}

	// Fetch the row the transition landed on for the API response.
	incidents, err := e.store.ListIncidents(ctx, tenantID, true, 0)
	if err != nil {
		return nil, err
	}
	for _, in := range incidents {
		if in.RouterID == routerID && in.Type == typ && in.InterfaceName == iface {
			return in, nil
		}
	}
	return nil, store.ErrNotFound
}
