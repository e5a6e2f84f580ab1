package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/model"
)

// Memory is an in-memory Store used by tests and by demo mode. It enforces
// the same open-row uniqueness contract as the Postgres implementation: all
// mutations happen under one mutex, so the find-open-or-create operations
// are atomic.
type Memory struct {
	mu        sync.RWMutex
	routers   map[uuid.UUID]*model.Router
	metrics   map[uuid.UUID][]*model.RouterMetricSample
	alerts    map[uuid.UUID]*model.Alert
	incidents map[uuid.UUID]*model.Incident
	slots     map[uuid.UUID][]model.WallboardSlot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		routers:   make(map[uuid.UUID]*model.Router),
		metrics:   make(map[uuid.UUID][]*model.RouterMetricSample),
		alerts:    make(map[uuid.UUID]*model.Alert),
		incidents: make(map[uuid.UUID]*model.Incident),
		slots:     make(map[uuid.UUID][]model.WallboardSlot),
	}
}

func copyRouter(r *model.Router) *model.Router {
	c := *r
	return &c
}

func (m *Memory) CreateRouter(_ context.Context, r *model.Router) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	m.routers[r.ID] = copyRouter(r)
	return nil
}

func (m *Memory) GetRouter(_ context.Context, id uuid.UUID) (*model.Router, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRouter(r), nil
}

func (m *Memory) ListRouters(_ context.Context, tenantID uuid.UUID) ([]*model.Router, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Router
	for _, r := range m.routers {
		if r.TenantID == tenantID {
			out = append(out, copyRouter(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListEnabledRouters(_ context.Context) ([]*model.Router, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Router
	for _, r := range m.routers {
		if r.Enabled {
			out = append(out, copyRouter(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdateRouterConfig(_ context.Context, r *model.Router) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.routers[r.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Name = r.Name
	cur.Host = r.Host
	cur.Port = r.Port
	cur.Username = r.Username
	cur.Password = r.Password
	cur.UseTLS = r.UseTLS
	cur.Enabled = r.Enabled
	cur.MaintenanceUntil = r.MaintenanceUntil
	cur.MaintenanceReason = r.MaintenanceReason
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkRouterOnline(_ context.Context, id uuid.UUID, st OnlineStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routers[id]
	if !ok {
		return ErrNotFound
	}
	seen := st.LastSeenAt
	r.IsOnline = true
	r.LastSeenAt = &seen
	r.LatencyMS = st.LatencyMS
	r.Identity = st.Identity
	r.RosVersion = st.RosVersion
	r.LastError = ""
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkRouterOffline(_ context.Context, id uuid.UUID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routers[id]
	if !ok {
		return ErrNotFound
	}
	r.IsOnline = false
	r.LastError = lastError
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteRouter(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routers[id]; !ok {
		return ErrNotFound
	}
	delete(m.routers, id)
	delete(m.metrics, id)
	for aid, a := range m.alerts {
		if a.RouterID == id {
			delete(m.alerts, aid)
		}
	}
	for iid, in := range m.incidents {
		if in.RouterID == id {
			delete(m.incidents, iid)
		}
	}
	return nil
}

func (m *Memory) AppendMetric(_ context.Context, s *model.RouterMetricSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.metrics[s.RouterID] = append(m.metrics[s.RouterID], &c)
	return nil
}

func (m *Memory) LatestMetric(_ context.Context, routerID uuid.UUID) (*model.RouterMetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	samples := m.metrics[routerID]
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].InterfaceName == "" {
			c := *samples[i]
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) QueryMetrics(_ context.Context, q MetricQuery) ([]*model.RouterMetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.RouterMetricSample
	for _, s := range m.metrics[q.RouterID] {
		if s.InterfaceName != q.InterfaceName {
			continue
		}
		if s.Timestamp.Before(q.From) || s.Timestamp.After(q.To) {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func copyAlert(a *model.Alert) *model.Alert {
	c := *a
	return &c
}

func (m *Memory) findOpenAlert(tenantID, routerID uuid.UUID, typ model.AlertType) *model.Alert {
	for _, a := range m.alerts {
		if a.TenantID == tenantID && a.RouterID == routerID && a.Type == typ && a.ResolvedAt == nil {
			return a
		}
	}
	return nil
}

func (m *Memory) UpsertOpenAlert(_ context.Context, a *model.Alert) (*model.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if open := m.findOpenAlert(a.TenantID, a.RouterID, a.Type); open != nil {
		open.LastSeenAt = a.LastSeenAt
		open.Value = a.Value
		open.Message = a.Message
		return copyAlert(open), false, nil
	}
	created := copyAlert(a)
	created.ID = uuid.New()
	created.Status = model.StatusOpen
	created.TriggeredAt = a.LastSeenAt
	created.ResolvedAt = nil
	created.AckedAt = nil
	created.AckedBy = ""
	m.alerts[created.ID] = created
	return copyAlert(created), true, nil
}

func (m *Memory) ResolveOpenAlert(_ context.Context, tenantID, routerID uuid.UUID, typ model.AlertType, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := m.findOpenAlert(tenantID, routerID, typ)
	if open == nil {
		return false, nil
	}
	resolved := at
	open.Status = model.StatusResolved
	open.ResolvedAt = &resolved
	return true, nil
}

func (m *Memory) GetAlert(_ context.Context, id uuid.UUID) (*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAlert(a), nil
}

func (m *Memory) AckAlert(_ context.Context, id uuid.UUID, by string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	acked := at
	a.AckedAt = &acked
	a.AckedBy = by
	return nil
}

func (m *Memory) ResolveAlert(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || a.ResolvedAt != nil {
		return ErrNotFound
	}
	resolved := at
	a.Status = model.StatusResolved
	a.ResolvedAt = &resolved
	return nil
}

func (m *Memory) ListAlerts(_ context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Alert
	for _, a := range m.alerts {
		if a.TenantID != tenantID {
			continue
		}
		if activeOnly && a.ResolvedAt != nil {
			continue
		}
		out = append(out, copyAlert(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyIncident(in *model.Incident) *model.Incident {
	c := *in
	return &c
}

func (m *Memory) findOpenIncident(tenantID, routerID uuid.UUID, typ model.IncidentType, iface string) *model.Incident {
	for _, in := range m.incidents {
		if in.TenantID == tenantID && in.RouterID == routerID &&
			in.Type == typ && in.InterfaceName == iface && in.ResolvedAt == nil {
			return in
		}
	}
	return nil
}

func (m *Memory) UpsertOpenIncident(_ context.Context, in *model.Incident) (*model.Incident, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if open := m.findOpenIncident(in.TenantID, in.RouterID, in.Type, in.InterfaceName); open != nil {
		open.LastSeenAt = in.LastSeenAt
		open.Message = in.Message
		return copyIncident(open), false, nil
	}
	created := copyIncident(in)
	created.ID = uuid.New()
	created.Status = model.StatusOpen
	created.TriggeredAt = in.LastSeenAt
	created.ResolvedAt = nil
	created.AckedAt = nil
	created.AckedBy = ""
	m.incidents[created.ID] = created
	return copyIncident(created), true, nil
}

func (m *Memory) ResolveOpenIncident(_ context.Context, tenantID, routerID uuid.UUID, typ model.IncidentType, iface string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := m.findOpenIncident(tenantID, routerID, typ, iface)
	if open == nil {
		return false, nil
	}
	resolved := at
	open.Status = model.StatusResolved
	open.ResolvedAt = &resolved
	return true, nil
}

func (m *Memory) GetIncident(_ context.Context, id uuid.UUID) (*model.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIncident(in), nil
}

func (m *Memory) AckIncident(_ context.Context, id uuid.UUID, by string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.incidents[id]
	if !ok {
		return ErrNotFound
	}
	acked := at
	in.AckedAt = &acked
	in.AckedBy = by
	return nil
}

func (m *Memory) ResolveIncident(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.incidents[id]
	if !ok || in.ResolvedAt != nil {
		return ErrNotFound
	}
	resolved := at
	in.Status = model.StatusResolved
	in.ResolvedAt = &resolved
	return nil
}

func (m *Memory) ListIncidents(_ context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]*model.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Incident
	for _, in := range m.incidents {
		if in.TenantID != tenantID {
			continue
		}
		if activeOnly && in.ResolvedAt != nil {
			continue
		}
		out = append(out, copyIncident(in))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SaveWallboardSlots(_ context.Context, tenantID uuid.UUID, slots []model.WallboardSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make([]model.WallboardSlot, len(slots))
	copy(saved, slots)
	for i := range saved {
		saved[i].TenantID = tenantID
	}
	sort.Slice(saved, func(i, j int) bool { return saved[i].Position < saved[j].Position })
	m.slots[tenantID] = saved
	return nil
}

func (m *Memory) GetWallboardSlots(_ context.Context, tenantID uuid.UUID) ([]model.WallboardSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.WallboardSlot, len(m.slots[tenantID]))
	copy(out, m.slots[tenantID])
	return out, nil
}

func (m *Memory) ListAllWallboardSlots(_ context.Context) ([]model.WallboardSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.WallboardSlot
	for _, slots := range m.slots {
		out = append(out, slots...)
	}
	return out, nil
}
