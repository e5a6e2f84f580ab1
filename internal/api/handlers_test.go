package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/alerting"
	"github.com/mikronoc/mikronoc/internal/auth"
	"github.com/mikronoc/mikronoc/internal/channels"
	"github.com/mikronoc/mikronoc/internal/config"
	"github.com/mikronoc/mikronoc/internal/live"
	"github.com/mikronoc/mikronoc/internal/model"
	"github.com/mikronoc/mikronoc/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const testKey = "0123456789abcdef0123456789abcdef"

// stubCounterClient feeds the live service. Every FetchCounters call advances
// the counters, so two ticks are enough to produce a rate.
type stubCounterClient struct {
	mu sync.Mutex
	rx uint64
	tx uint64
}

func (c *stubCounterClient) FetchCounters(_ context.Context, _ *model.Router, names []string) ([]model.InterfaceCounters, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rx += 1000
	c.tx += 1000
	out := make([]model.InterfaceCounters, 0, len(names))
	for _, n := range names {
		out = append(out, model.InterfaceCounters{Name: n, RxByte: c.rx, TxByte: c.tx, Running: true})
	}
	return out, nil
}

// stubDeviceClient backs the on-demand snapshot and counters endpoints.
type stubDeviceClient struct {
	snap     *model.RouterSnapshot
	counters []model.InterfaceCounters
	err      error
}

func (s *stubDeviceClient) FetchSnapshot(context.Context, *model.Router) (*model.RouterSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snap, nil
}

func (s *stubDeviceClient) FetchCounters(_ context.Context, _ *model.Router, names []string) ([]model.InterfaceCounters, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(names) == 0 {
		return s.counters, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []model.InterfaceCounters
	for _, c := range s.counters {
		if wanted[c.Name] {
			out = append(out, c)
		}
	}
	return out, nil
}

type testEnv struct {
	srv    *httptest.Server
	store  *store.Memory
	live   *live.Service
	device *stubDeviceClient
	token  string
	tenant uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvLive(t, live.Config{})
}

// newTestEnvLive lets tests that exercise the fast polling path shrink the
// live service intervals.
func newTestEnvLive(t *testing.T, liveCfg live.Config) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	tenant := uuid.New()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	authSvc, err := auth.NewService(testKey, "admin", string(hash), tenant, time.Hour)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	cipher, err := auth.NewCipher(testKey)
	if err != nil {
		t.Fatalf("auth.NewCipher: %v", err)
	}

	events := channels.NewEventChannels(channels.Config{})
	evaluator := alerting.NewEvaluator(st, events, logger, alerting.Thresholds{})
	liveSvc := live.NewService(st, &stubCounterClient{}, evaluator, logger, liveCfg)
	device := &stubDeviceClient{}

	cfg := config.Default()
	handler := NewRouter(cfg, &Dependencies{
		Store:     st,
		Auth:      authSvc,
		Cipher:    cipher,
		Dialer:    device,
		Live:      liveSvc,
		Evaluator: evaluator,
		Logger:    logger,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	env := &testEnv{srv: srv, store: st, live: liveSvc, device: device, tenant: tenant}
	env.token = env.login(t, "admin", "hunter22")
	return env
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	body, status := e.do(t, http.MethodPost, "/api/v1/login", "",
		map[string]string{"username": username, "password": password})
	if status != http.StatusOK {
		t.Fatalf("login status = %d: %s", status, body)
	}
	var resp auth.LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("login response: %v", err)
	}
	return resp.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, payload interface{}) ([]byte, int) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return data, resp.StatusCode
}

func (e *testEnv) createRouter(t *testing.T) *model.Router {
	t.Helper()
	body, status := e.do(t, http.MethodPost, "/api/v1/routers", e.token, map[string]interface{}{
		"name":     "edge-1",
		"host":     "10.0.0.1",
		"username": "noc",
		"password": "secret",
	})
	if status != http.StatusCreated {
		t.Fatalf("create router status = %d: %s", status, body)
	}
	var router model.Router
	if err := json.Unmarshal(body, &router); err != nil {
		t.Fatalf("router response: %v", err)
	}
	return &router
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)
	_, status := env.do(t, http.MethodPost, "/api/v1/login", "",
		map[string]string{"username": "admin", "password": "nope"})
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	if _, status := env.do(t, http.MethodGet, "/api/v1/routers", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", status)
	}
	if _, status := env.do(t, http.MethodGet, "/api/v1/routers", "garbage", nil); status != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", status)
	}
}

func TestRouterCRUD(t *testing.T) {
	env := newTestEnv(t)
	router := env.createRouter(t)

	if router.Port != 8728 {
		t.Fatalf("default port = %d, want 8728", router.Port)
	}
	if router.TenantID != env.tenant {
		t.Fatalf("tenant = %s, want %s", router.TenantID, env.tenant)
	}

	// Password is never serialized.
	body, _ := env.do(t, http.MethodGet, "/api/v1/routers/"+router.ID.String(), env.token, nil)
	if bytes.Contains(body, []byte("secret")) || bytes.Contains(body, []byte("password")) {
		t.Fatalf("credentials leaked in response: %s", body)
	}

	// Stored password is encrypted, not plaintext.
	stored, err := env.store.GetRouter(context.Background(), router.ID)
	if err != nil {
		t.Fatalf("GetRouter: %v", err)
	}
	if stored.Password == "secret" || stored.Password == "" {
		t.Fatal("password stored in plaintext or missing")
	}

	// Update without password keeps the credential.
	body, status := env.do(t, http.MethodPut, "/api/v1/routers/"+router.ID.String(), env.token,
		map[string]interface{}{"name": "edge-renamed", "host": "10.0.0.2", "username": "noc"})
	if status != http.StatusOK {
		t.Fatalf("update status = %d: %s", status, body)
	}
	updated, _ := env.store.GetRouter(context.Background(), router.ID)
	if updated.Name != "edge-renamed" || updated.Host != "10.0.0.2" {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Password != stored.Password {
		t.Fatal("empty password overwrote the stored credential")
	}

	// Delete.
	if _, status := env.do(t, http.MethodDelete, "/api/v1/routers/"+router.ID.String(), env.token, nil); status != http.StatusNoContent {
		t.Fatalf("delete status = %d", status)
	}
	if _, status := env.do(t, http.MethodGet, "/api/v1/routers/"+router.ID.String(), env.token, nil); status != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", status)
	}
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t)

	foreign := &model.Router{
		ID:       uuid.New(),
		TenantID: uuid.New(), // some other tenant
		Name:     "not-yours",
		Host:     "10.9.9.9",
		Port:     8728,
		Enabled:  true,
	}
	if err := env.store.CreateRouter(context.Background(), foreign); err != nil {
		t.Fatalf("CreateRouter: %v", err)
	}

	if _, status := env.do(t, http.MethodGet, "/api/v1/routers/"+foreign.ID.String(), env.token, nil); status != http.StatusNotFound {
		t.Fatalf("foreign router status = %d, want 404", status)
	}

	body, _ := env.do(t, http.MethodGet, "/api/v1/routers", env.token, nil)
	if bytes.Contains(body, []byte("not-yours")) {
		t.Fatalf("foreign router listed: %s", body)
	}
}

func TestMaintenanceEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := env.createRouter(t)

	body, status := env.do(t, http.MethodPost, "/api/v1/routers/"+router.ID.String()+"/maintenance", env.token,
		map[string]interface{}{"duration_minutes": 60, "reason": "firmware upgrade"})
	if status != http.StatusOK {
		t.Fatalf("maintenance status = %d: %s", status, body)
	}
	stored, _ := env.store.GetRouter(context.Background(), router.ID)
	if !stored.InMaintenance(time.Now().UTC()) {
		t.Fatal("maintenance window not set")
	}

	// Zero duration clears it.
	_, status = env.do(t, http.MethodPost, "/api/v1/routers/"+router.ID.String()+"/maintenance", env.token,
		map[string]interface{}{"duration_minutes": 0})
	if status != http.StatusOK {
		t.Fatalf("clear status = %d", status)
	}
	stored, _ = env.store.GetRouter(context.Background(), router.ID)
	if stored.InMaintenance(time.Now().UTC()) {
		t.Fatal("maintenance window not cleared")
	}
}

func TestAlertWorkflow(t *testing.T) {
	env := newTestEnv(t)
	router := env.createRouter(t)
	ctx := context.Background()

	alert, created, err := env.store.UpsertOpenAlert(ctx, &model.Alert{
		TenantID:   env.tenant,
		RouterID:   router.ID,
		Type:       model.AlertCPU,
		Severity:   model.SeverityWarning,
		Title:      "CPU load high",
		Value:      91,
		Threshold:  85,
		LastSeenAt: time.Now().UTC(),
	})
	if err != nil || !created {
		t.Fatalf("seed alert: created=%v err=%v", created, err)
	}

	body, status := env.do(t, http.MethodGet, "/api/v1/alerts", env.token, nil)
	if status != http.StatusOK || !bytes.Contains(body, []byte(alert.ID.String())) {
		t.Fatalf("list alerts status=%d body=%s", status, body)
	}

	body, status = env.do(t, http.MethodPost, "/api/v1/alerts/"+alert.ID.String()+"/ack", env.token, nil)
	if status != http.StatusOK {
		t.Fatalf("ack status = %d: %s", status, body)
	}
	var acked model.Alert
	if err := json.Unmarshal(body, &acked); err != nil {
		t.Fatalf("ack response: %v", err)
	}
	if acked.AckedAt == nil || acked.AckedBy != "admin" {
		t.Fatalf("ack not recorded: %+v", acked)
	}
	if acked.Status != model.StatusOpen {
		t.Fatalf("ack changed status to %s", acked.Status)
	}

	body, status = env.do(t, http.MethodPost, "/api/v1/alerts/"+alert.ID.String()+"/resolve", env.token, nil)
	if status != http.StatusOK {
		t.Fatalf("resolve status = %d: %s", status, body)
	}
	var resolved model.Alert
	json.Unmarshal(body, &resolved)
	if resolved.Status != model.StatusResolved || resolved.ResolvedAt == nil {
		t.Fatalf("resolve not applied: %+v", resolved)
	}

	// Active list is empty now.
	body, _ = env.do(t, http.MethodGet, "/api/v1/alerts", env.token, nil)
	if bytes.Contains(body, []byte(alert.ID.String())) {
		t.Fatalf("resolved alert still active: %s", body)
	}
	// History list still has it.
	body, _ = env.do(t, http.MethodGet, "/api/v1/alerts?active=false", env.token, nil)
	if !bytes.Contains(body, []byte(alert.ID.String())) {
		t.Fatalf("resolved alert missing from history: %s", body)
	}
}

func TestSimulateIncidentDedups(t *testing.T) {
	env := newTestEnv(t)
	router := env.createRouter(t)

	payload := map[string]interface{}{
		"router_id":      router.ID.String(),
		"type":           "interface_down",
		"interface_name": "ether1",
	}
	body, status := env.do(t, http.MethodPost, "/api/v1/incidents/simulate", env.token, payload)
	if status != http.StatusCreated {
		t.Fatalf("simulate status = %d: %s", status, body)
	}
	var first model.Incident
	if err := json.Unmarshal(body, &first); err != nil {
		t.Fatalf("simulate response: %v", err)
	}

	body, status = env.do(t, http.MethodPost, "/api/v1/incidents/simulate", env.token, payload)
	if status != http.StatusCreated {
		t.Fatalf("second simulate status = %d: %s", status, body)
	}
	var second model.Incident
	json.Unmarshal(body, &second)
	if second.ID != first.ID {
		t.Fatalf("simulate opened a duplicate row: %s vs %s", second.ID, first.ID)
	}
}

func TestWallboardSlots(t *testing.T) {
	env := newTestEnv(t)
	router := env.createRouter(t)

	payload := map[string]interface{}{
		"slots": []map[string]interface{}{
			{"position": 0, "router_id": router.ID.String(), "interface_name": "ether1", "warn_rx_bps": 1000000},
			{"position": 1, "router_id": router.ID.String(), "interface_name": "sfp-sfpplus1"},
		},
	}
	body, status := env.do(t, http.MethodPut, "/api/v1/wallboard/slots", env.token, payload)
	if status != http.StatusOK {
		t.Fatalf("put slots status = %d: %s", status, body)
	}

	body, status = env.do(t, http.MethodGet, "/api/v1/wallboard/slots", env.token, nil)
	if status != http.StatusOK || !bytes.Contains(body, []byte("sfp-sfpplus1")) {
		t.Fatalf("get slots status=%d body=%s", status, body)
	}

	// A slot pointing at a foreign router is rejected.
	foreign := &model.Router{ID: uuid.New(), TenantID: uuid.New(), Name: "x", Host: "h", Port: 1}
	if err := env.store.CreateRouter(context.Background(), foreign); err != nil {
		t.Fatalf("CreateRouter: %v", err)
	}
	payload = map[string]interface{}{
		"slots": []map[string]interface{}{
			{"position": 0, "router_id": foreign.ID.String(), "interface_name": "ether1"},
		},
	}
	if _, status := env.do(t, http.MethodPut, "/api/v1/wallboard/slots", env.token, payload); status != http.StatusNotFound {
		t.Fatalf("foreign slot status = %d, want 404", status)
	}
}

func TestRouterMetricsBucketing(t *testing.T) {
	env := newTestEnv(t)
	router := env.createRouter(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-4 * 24 * time.Hour)
	for i := 0; i < 48; i++ {
		err := env.store.AppendMetric(ctx, &model.RouterMetricSample{
			RouterID:  router.ID,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			CPULoad:   float64(i),
		})
		if err != nil {
			t.Fatalf("AppendMetric: %v", err)
		}
	}

	from := base.Add(-time.Hour).Format(time.RFC3339)
	to := time.Now().UTC().Format(time.RFC3339)
	path := fmt.Sprintf("/api/v1/routers/%s/metrics?from=%s&to=%s", router.ID, from, to)
	body, status := env.do(t, http.MethodGet, path, env.token, nil)
	if status != http.StatusOK {
		t.Fatalf("metrics status = %d: %s", status, body)
	}
	var resp struct {
		Bucket string                      `json:"bucket"`
		Points []*model.RouterMetricSample `json:"points"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("metrics response: %v", err)
	}
	if resp.Bucket != "hourly" {
		t.Fatalf("bucket = %q, want hourly for a 4-day window", resp.Bucket)
	}
	if len(resp.Points) != 48 {
		t.Fatalf("points = %d, want 48 hourly buckets", len(resp.Points))
	}

	// Inverted range is a 400.
	path = fmt.Sprintf("/api/v1/routers/%s/metrics?from=%s&to=%s", router.ID, to, from)
	if _, status := env.do(t, http.MethodGet, path, env.token, nil); status != http.StatusBadRequest {
		t.Fatalf("inverted range status = %d, want 400", status)
	}
}

func TestNOCOverview(t *testing.T) {
	env := newTestEnv(t)
	router := env.createRouter(t)
	ctx := context.Background()

	env.store.AppendMetric(ctx, &model.RouterMetricSample{
		RouterID: router.ID, Timestamp: time.Now().UTC(), CPULoad: 33,
	})
	env.store.UpsertOpenAlert(ctx, &model.Alert{
		TenantID: env.tenant, RouterID: router.ID, Type: model.AlertCPU,
		Severity: model.SeverityWarning, LastSeenAt: time.Now().UTC(),
	})

	body, status := env.do(t, http.MethodGet, "/api/v1/noc", env.token, nil)
	if status != http.StatusOK {
		t.Fatalf("noc status = %d: %s", status, body)
	}
	var resp struct {
		Routers []struct {
			OpenAlerts int                       `json:"open_alerts"`
			Latest     *model.RouterMetricSample `json:"latest_sample"`
		} `json:"routers"`
		OpenAlerts int `json:"open_alerts"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("noc response: %v", err)
	}
	if len(resp.Routers) != 1 || resp.Routers[0].OpenAlerts != 1 || resp.OpenAlerts != 1 {
		t.Fatalf("overview = %+v", resp)
	}
	if resp.Routers[0].Latest == nil || resp.Routers[0].Latest.CPULoad != 33 {
		t.Fatalf("latest sample missing: %+v", resp.Routers[0].Latest)
	}
}

func TestRouterCounters(t *testing.T) {
	env := newTestEnv(t)
	router := env.createRouter(t)
	env.device.counters = []model.InterfaceCounters{
		{Name: "ether1", RxByte: 1000, TxByte: 2000, Running: true},
		{Name: "ether2", RxByte: 3000, TxByte: 4000, Disabled: true},
	}

	body, status := env.do(t, http.MethodGet, "/api/v1/routers/"+router.ID.String()+"/counters", env.token, nil)
	if status != http.StatusOK {
		t.Fatalf("counters status = %d: %s", status, body)
	}
	var resp struct {
		Counters []model.InterfaceCounters `json:"counters"`
		Count    int                       `json:"count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("counters response: %v", err)
	}
	if resp.Count != 2 || len(resp.Counters) != 2 {
		t.Fatalf("count = %d, want 2: %s", resp.Count, body)
	}

	// The names filter narrows the result to the requested interfaces.
	body, status = env.do(t, http.MethodGet,
		"/api/v1/routers/"+router.ID.String()+"/counters?names=ether2", env.token, nil)
	if status != http.StatusOK {
		t.Fatalf("filtered counters status = %d: %s", status, body)
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("filtered response: %v", err)
	}
	if len(resp.Counters) != 1 || resp.Counters[0].Name != "ether2" {
		t.Fatalf("filter not applied: %s", body)
	}
	if !resp.Counters[0].Disabled || resp.Counters[0].RxByte != 3000 {
		t.Fatalf("counter fields lost: %+v", resp.Counters[0])
	}

	// An unreachable device is a 502, same as the snapshot endpoint.
	env.device.err = errors.New("dial tcp 10.0.0.1:8728: i/o timeout")
	if _, status := env.do(t, http.MethodGet, "/api/v1/routers/"+router.ID.String()+"/counters", env.token, nil); status != http.StatusBadGateway {
		t.Fatalf("unreachable status = %d, want 502", status)
	}
}

func TestWallboardStream(t *testing.T) {
	env := newTestEnvLive(t, live.Config{
		TickInterval:  10 * time.Millisecond,
		PollTimeout:   time.Second,
		FlushInterval: time.Hour,
		SlotRefresh:   time.Hour,
	})
	router := env.createRouter(t)

	payload := map[string]interface{}{
		"slots": []map[string]interface{}{
			{"position": 0, "router_id": router.ID.String(), "interface_name": "ether1"},
		},
	}
	if _, status := env.do(t, http.MethodPut, "/api/v1/wallboard/slots", env.token, payload); status != http.StatusOK {
		t.Fatalf("put slots status = %d", status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.live.Run(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/v1/wallboard/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+env.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	events := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				events <- strings.TrimPrefix(line, "data: ")
				return
			}
		}
	}()

	select {
	case raw := <-events:
		var u live.Update
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			t.Fatalf("stream payload %q: %v", raw, err)
		}
		if u.Slot.InterfaceName != "ether1" {
			t.Errorf("update for %q, want ether1", u.Slot.InterfaceName)
		}
		if u.Point.RxBps <= 0 {
			t.Errorf("rx_bps = %v, want > 0", u.Point.RxBps)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no stream update within deadline")
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	body, status := env.do(t, http.MethodGet, "/health", "", nil)
	if status != http.StatusOK || !bytes.Contains(body, []byte(`"status":"ok"`)) {
		t.Fatalf("health status=%d body=%s", status, body)
	}
}
