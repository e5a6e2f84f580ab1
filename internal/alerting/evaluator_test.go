package alerting

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/channels"
	"github.com/mikronoc/mikronoc/internal/model"
	"github.com/mikronoc/mikronoc/internal/store"
)

func testEvaluator(t *testing.T) (*Evaluator, *store.Memory, *channels.EventChannels) {
	t.Helper()
	st := store.NewMemory()
	events := channels.NewEventChannels(channels.Config{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEvaluator(st, events, logger, Thresholds{CPUPercent: 85, LatencyMS: 400, RateDebounceSamples: 3}), st, events
}

func testRouter() *model.Router {
	return &model.Router{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Name:     "edge-1",
		Host:     "10.0.0.1",
		Port:     8728,
		Enabled:  true,
		IsOnline: true,
	}
}

func sampleWithCPU(routerID uuid.UUID, cpu float64) *model.RouterMetricSample {
	return &model.RouterMetricSample{
		RouterID:  routerID,
		Timestamp: time.Now().UTC(),
		CPULoad:   cpu,
	}
}

func openAlerts(t *testing.T, st *store.Memory, tenantID uuid.UUID) []*model.Alert {
	t.Helper()
	alerts, err := st.ListAlerts(context.Background(), tenantID, true, 0)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	return alerts
}

func TestEvaluateRouter_CPUOpenAndResolve(t *testing.T) {
	ev, st, events := testEvaluator(t)
	r := testRouter()
	ctx := context.Background()

	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 90)); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}

	alerts := openAlerts(t, st, r.TenantID)
	if len(alerts) != 1 {
		t.Fatalf("open alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Type != model.AlertCPU {
		t.Fatalf("type = %s, want cpu", a.Type)
	}
	if a.Value != 90 || a.Threshold != 85 {
		t.Fatalf("value/threshold = %v/%v, want 90/85", a.Value, a.Threshold)
	}
	select {
	case got := <-events.Alert:
		if got.EventType != "opened" || got.Type != "cpu" {
			t.Fatalf("event = %+v, want opened cpu", got)
		}
	default:
		t.Fatal("no alert event published on open")
	}

	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 40)); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}
	if got := openAlerts(t, st, r.TenantID); len(got) != 0 {
		t.Fatalf("open alerts after recovery = %d, want 0", len(got))
	}
	select {
	case got := <-events.Alert:
		if got.EventType != "resolved" {
			t.Fatalf("event = %+v, want resolved", got)
		}
	default:
		t.Fatal("no alert event published on resolve")
	}
}

func TestEvaluateRouter_DedupKeepsTriggeredAt(t *testing.T) {
	ev, st, events := testEvaluator(t)
	r := testRouter()
	ctx := context.Background()

	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 90)); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	first := openAlerts(t, st, r.TenantID)[0]

	time.Sleep(5 * time.Millisecond)
	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 95)); err != nil {
		t.Fatalf("second evaluate: %v", err)
	}

	alerts := openAlerts(t, st, r.TenantID)
	if len(alerts) != 1 {
		t.Fatalf("open alerts = %d, want 1 (deduped)", len(alerts))
	}
	a := alerts[0]
	if !a.TriggeredAt.Equal(first.TriggeredAt) {
		t.Fatalf("triggered_at changed on dedup: %v -> %v", first.TriggeredAt, a.TriggeredAt)
	}
	if !a.LastSeenAt.After(first.LastSeenAt) {
		t.Fatalf("last_seen_at did not advance: %v -> %v", first.LastSeenAt, a.LastSeenAt)
	}
	if a.Value != 95 {
		t.Fatalf("value = %v, want 95", a.Value)
	}

	// Exactly one opened event for the whole episode.
	var opened int
	for {
		select {
		case got := <-events.Alert:
			if got.EventType == "opened" {
				opened++
			}
			continue
		default:
		}
		break
	}
	if opened != 1 {
		t.Fatalf("opened events = %d, want 1", opened)
	}
}

func TestEvaluateRouter_OfflineAlert(t *testing.T) {
	ev, st, _ := testEvaluator(t)
	r := testRouter()
	r.IsOnline = false
	r.LastError = "dial tcp: connection refused"
	ctx := context.Background()

	// Failed poll: no sample.
	if err := ev.EvaluateRouter(ctx, r, nil); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}
	alerts := openAlerts(t, st, r.TenantID)
	if len(alerts) != 1 || alerts[0].Type != model.AlertOffline {
		t.Fatalf("alerts = %+v, want single offline", alerts)
	}
	if alerts[0].Severity != model.SeverityCritical {
		t.Fatalf("severity = %s, want critical", alerts[0].Severity)
	}

	r.IsOnline = true
	r.LastError = ""
	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 10)); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}
	if got := openAlerts(t, st, r.TenantID); len(got) != 0 {
		t.Fatalf("open alerts after recovery = %d, want 0", len(got))
	}
}

func TestEvaluateRouter_MaintenanceFreezes(t *testing.T) {
	ev, st, _ := testEvaluator(t)
	r := testRouter()
	ctx := context.Background()

	// Open a cpu alert, then enter maintenance.
	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 90)); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}
	until := time.Now().UTC().Add(time.Hour)
	r.MaintenanceUntil = &until

	// Condition clears during maintenance: the open alert must stay frozen.
	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 5)); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}
	if got := openAlerts(t, st, r.TenantID); len(got) != 1 {
		t.Fatalf("open alerts during maintenance = %d, want 1 (frozen)", len(got))
	}

	// A new condition during maintenance opens nothing.
	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 100)); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}
	if got := openAlerts(t, st, r.TenantID); len(got) != 1 {
		t.Fatalf("open alerts during maintenance = %d, want 1", len(got))
	}

	// Window over: next evaluation resolves the stale alert.
	past := time.Now().UTC().Add(-time.Minute)
	r.MaintenanceUntil = &past
	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 5)); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}
	if got := openAlerts(t, st, r.TenantID); len(got) != 0 {
		t.Fatalf("open alerts after maintenance = %d, want 0", len(got))
	}
}

func TestEvaluateRouter_AckDoesNotAffectLifecycle(t *testing.T) {
	ev, st, _ := testEvaluator(t)
	r := testRouter()
	ctx := context.Background()

	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 90)); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}
	a := openAlerts(t, st, r.TenantID)[0]
	if err := st.AckAlert(ctx, a.ID, "noc-operator", time.Now().UTC()); err != nil {
		t.Fatalf("AckAlert: %v", err)
	}

	// Acked alert is still open and still dedup target.
	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 92)); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}
	alerts := openAlerts(t, st, r.TenantID)
	if len(alerts) != 1 {
		t.Fatalf("open alerts = %d, want 1", len(alerts))
	}
	if alerts[0].AckedAt == nil || alerts[0].AckedBy != "noc-operator" {
		t.Fatalf("ack state lost on dedup: %+v", alerts[0])
	}
	if alerts[0].Status != model.StatusOpen {
		t.Fatalf("status = %s, want open (ack never changes status)", alerts[0].Status)
	}

	// Lifecycle resolve still works on an acked alert.
	if err := ev.EvaluateRouter(ctx, r, sampleWithCPU(r.ID, 10)); err != nil {
		t.Fatalf("EvaluateRouter: %v", err)
	}
	if got := openAlerts(t, st, r.TenantID); len(got) != 0 {
		t.Fatalf("open alerts = %d, want 0", len(got))
	}
}

func TestObserveInterface_DownAndRateDebounce(t *testing.T) {
	ev, st, _ := testEvaluator(t)
	r := testRouter()
	ctx := context.Background()
	slot := model.WallboardSlot{
		TenantID:      r.TenantID,
		RouterID:      r.ID,
		InterfaceName: "ether1",
		WarnRxBps:     1_000_000,
	}

	up := model.InterfaceCounters{Name: "ether1", Running: true}
	down := model.InterfaceCounters{Name: "ether1", Running: false}
	slow := model.RatePoint{At: time.Now().UTC(), RxBps: 100, TxBps: 100}

	// Interface down opens immediately, no debounce.
	ev.ObserveInterface(ctx, r, slot, down, model.RatePoint{}, false)
	incidents, err := st.ListIncidents(ctx, r.TenantID, true, 0)
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(incidents) != 1 || incidents[0].Type != model.IncidentInterfaceDown {
		t.Fatalf("incidents = %+v, want single interface_down", incidents)
	}

	// Back up: interface_down resolves. Two slow samples are not enough for
	// the rate rule (debounce is 3).
	ev.ObserveInterface(ctx, r, slot, up, slow, true)
	ev.ObserveInterface(ctx, r, slot, up, slow, true)
	incidents, _ = st.ListIncidents(ctx, r.TenantID, true, 0)
	if len(incidents) != 0 {
		t.Fatalf("incidents after 2 slow samples = %+v, want none", incidents)
	}

	// Third consecutive slow sample trips the rate rule.
	ev.ObserveInterface(ctx, r, slot, up, slow, true)
	incidents, _ = st.ListIncidents(ctx, r.TenantID, true, 0)
	if len(incidents) != 1 || incidents[0].Type != model.IncidentRateBelow {
		t.Fatalf("incidents = %+v, want single rate_below", incidents)
	}

	// A fast sample resets the streak and resolves.
	fast := model.RatePoint{At: time.Now().UTC(), RxBps: 5_000_000, TxBps: 100}
	ev.ObserveInterface(ctx, r, slot, up, fast, true)
	incidents, _ = st.ListIncidents(ctx, r.TenantID, true, 0)
	if len(incidents) != 0 {
		t.Fatalf("incidents after fast sample = %+v, want none", incidents)
	}
}

func TestObserveInterface_NoFloorNoRateRule(t *testing.T) {
	ev, st, _ := testEvaluator(t)
	r := testRouter()
	ctx := context.Background()
	slot := model.WallboardSlot{TenantID: r.TenantID, RouterID: r.ID, InterfaceName: "ether2"}
	up := model.InterfaceCounters{Name: "ether2", Running: true}

	for i := 0; i < 5; i++ {
		ev.ObserveInterface(ctx, r, slot, up, model.RatePoint{RxBps: 0, TxBps: 0}, true)
	}
	incidents, _ := st.ListIncidents(ctx, r.TenantID, true, 0)
	if len(incidents) != 0 {
		t.Fatalf("incidents = %+v, want none without configured floors", incidents)
	}
}

func TestSimulate_SharesDedupWithRealEvaluation(t *testing.T) {
	ev, st, _ := testEvaluator(t)
	r := testRouter()
	ctx := context.Background()

	in, err := ev.Simulate(ctx, r.TenantID, r.ID, model.IncidentCPU, model.SeverityCritical, "", "drill")
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if in.Status != model.StatusOpen || in.Message != "drill" {
		t.Fatalf("incident = %+v, want open drill", in)
	}

	// Simulating the same key again dedups onto the same row.
	again, err := ev.Simulate(ctx, r.TenantID, r.ID, model.IncidentCPU, model.SeverityCritical, "", "drill again")
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if again.ID != in.ID {
		t.Fatalf("simulate created a second open row: %s vs %s", again.ID, in.ID)
	}
	incidents, _ := st.ListIncidents(ctx, r.TenantID, true, 0)
	if len(incidents) != 1 {
		t.Fatalf("open incidents = %d, want 1", len(incidents))
	}
}
