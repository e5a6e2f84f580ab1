// Package store defines the persistence contracts for routers, metric
// samples, alerts, incidents and wallboard configuration, with a PostgreSQL
// implementation and an in-memory one used by tests and demo mode.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// OnlineStatus carries the status fields written after a successful poll.
// The whole set is applied atomically so a shutdown mid-poll can never leave
// a half-updated router row.
type OnlineStatus struct {
	LastSeenAt time.Time
	LatencyMS  int64
	Identity   string
	RosVersion string
}

// MetricQuery selects a window of samples for one router, oldest first.
// InterfaceName is empty for router-level samples. A Limit of zero or less
// means no limit; both implementations honor that convention.
type MetricQuery struct {
	RouterID      uuid.UUID
	InterfaceName string
	From          time.Time
	To            time.Time
	Limit         int
}

// RouterStore persists router configuration and scheduler-owned status.
type RouterStore interface {
	CreateRouter(ctx context.Context, r *model.Router) error
	GetRouter(ctx context.Context, id uuid.UUID) (*model.Router, error)
	ListRouters(ctx context.Context, tenantID uuid.UUID) ([]*model.Router, error)
	ListEnabledRouters(ctx context.Context) ([]*model.Router, error)
	UpdateRouterConfig(ctx context.Context, r *model.Router) error
	MarkRouterOnline(ctx context.Context, id uuid.UUID, st OnlineStatus) error
	MarkRouterOffline(ctx context.Context, id uuid.UUID, lastError string) error
	DeleteRouter(ctx context.Context, id uuid.UUID) error
}

// MetricStore is the append-only time-series store.
type MetricStore interface {
	AppendMetric(ctx context.Context, s *model.RouterMetricSample) error
	LatestMetric(ctx context.Context, routerID uuid.UUID) (*model.RouterMetricSample, error)
	QueryMetrics(ctx context.Context, q MetricQuery) ([]*model.RouterMetricSample, error)
}

// AlertStore persists coarse router-level alerts. UpsertOpenAlert is the
// atomic find-open-or-create operation: when an open row already exists for
// the (tenant, router, type) key it bumps last_seen_at, value and message
// without touching triggered_at or acknowledgement state, and reports
// created=false. List limits of zero or less mean no limit.
type AlertStore interface {
	UpsertOpenAlert(ctx context.Context, a *model.Alert) (alert *model.Alert, created bool, err error)
	ResolveOpenAlert(ctx context.Context, tenantID, routerID uuid.UUID, typ model.AlertType, at time.Time) (resolved bool, err error)
	GetAlert(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	AckAlert(ctx context.Context, id uuid.UUID, by string, at time.Time) error
	ResolveAlert(ctx context.Context, id uuid.UUID, at time.Time) error
	ListAlerts(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]*model.Alert, error)
}

// IncidentStore persists fine-grained, optionally interface-scoped
// incidents with the same open-row uniqueness contract as AlertStore.
type IncidentStore interface {
	UpsertOpenIncident(ctx context.Context, in *model.Incident) (incident *model.Incident, created bool, err error)
	ResolveOpenIncident(ctx context.Context, tenantID, routerID uuid.UUID, typ model.IncidentType, interfaceName string, at time.Time) (resolved bool, err error)
	GetIncident(ctx context.Context, id uuid.UUID) (*model.Incident, error)
	AckIncident(ctx context.Context, id uuid.UUID, by string, at time.Time) error
	ResolveIncident(ctx context.Context, id uuid.UUID, at time.Time) error
	ListIncidents(ctx context.Context, tenantID uuid.UUID, activeOnly bool, limit int) ([]*model.Incident, error)
}

// WallboardStore persists the tenant wallboard grid configuration.
type WallboardStore interface {
	SaveWallboardSlots(ctx context.Context, tenantID uuid.UUID, slots []model.WallboardSlot) error
	GetWallboardSlots(ctx context.Context, tenantID uuid.UUID) ([]model.WallboardSlot, error)
	ListAllWallboardSlots(ctx context.Context) ([]model.WallboardSlot, error)
}

// Store aggregates all persistence contracts.
type Store interface {
	RouterStore
	MetricStore
	AlertStore
	IncidentStore
	WallboardStore
}
