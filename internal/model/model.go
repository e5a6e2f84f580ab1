// Package model defines the domain types shared by the polling, alerting
// and API layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// AlertType identifies a coarse router-level alert rule.
type AlertType string

const (
	AlertOffline AlertType = "offline"
	AlertCPU     AlertType = "cpu"
	AlertLatency AlertType = "latency"
)

// IncidentType identifies a fine-grained incident rule. Incident types are a
// superset of alert types: they additionally cover interface-scoped rules.
type IncidentType string

const (
	IncidentOffline       IncidentType = "offline"
	IncidentCPU           IncidentType = "cpu"
	IncidentLatency       IncidentType = "latency"
	IncidentInterfaceDown IncidentType = "interface_down"
	IncidentRateBelow     IncidentType = "rate_below"
)

// Severity levels for alerts and incidents.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status values shared by alerts and incidents. Acknowledgement is tracked
// separately via AckedAt/AckedBy and never changes the status.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

// Router is a managed MikroTik device polled over the RouterOS binary API.
// Configuration fields are owned by the admin API; status fields (IsOnline,
// LastSeenAt, LatencyMS, Identity, RosVersion, LastError) are owned by the
// polling scheduler and written atomically after each poll.
type Router struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Host     string    `json:"host"`
	Port     int       `json:"port"`
	Username string    `json:"username"`
	// Password is stored AES-256-GCM encrypted at rest and never serialized.
	Password string `json:"-"`
	UseTLS   bool   `json:"use_tls"`
	Enabled  bool   `json:"enabled"`

	Identity   string     `json:"identity,omitempty"`
	RosVersion string     `json:"ros_version,omitempty"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	LatencyMS  int64      `json:"latency_ms"`
	LastError  string     `json:"last_error,omitempty"`

	MaintenanceUntil  *time.Time `json:"maintenance_until,omitempty"`
	MaintenanceReason string     `json:"maintenance_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InMaintenance reports whether the router is inside a maintenance window.
// Routers in maintenance are still polled for metrics continuity but are
// excluded from alert evaluation.
func (r *Router) InMaintenance(now time.Time) bool {
	return r.MaintenanceUntil != nil && r.MaintenanceUntil.After(now)
}

// Address returns the host:port dial target for the RouterOS API.
func (r *Router) Address() string {
	return JoinHostPort(r.Host, r.Port)
}

// RouterMetricSample is one append-only time-series row. Router-level samples
// (one per poll cycle) have an empty InterfaceName; aggregated live-counter
// snapshots carry the interface they were measured on.
type RouterMetricSample struct {
	RouterID      uuid.UUID `json:"router_id"`
	InterfaceName string    `json:"interface_name,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CPULoad       float64   `json:"cpu_load"`
	MemoryTotal   int64     `json:"memory_total"`
	MemoryFree    int64     `json:"memory_free"`
	DiskTotal     int64     `json:"disk_total"`
	DiskFree      int64     `json:"disk_free"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	RxBps         float64   `json:"rx_bps"`
	TxBps         float64   `json:"tx_bps"`
}

// InterfaceStatus describes one interface as reported by /interface/print.
type InterfaceStatus struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Running  bool   `json:"running"`
	Disabled bool   `json:"disabled"`
	Comment  string `json:"comment,omitempty"`
}

// InterfaceCounters holds raw cumulative byte counters for one interface.
// Counters are ephemeral: rates are derived by differencing two fetches for
// the same (router, interface) key, they are never persisted raw.
type InterfaceCounters struct {
	Name     string `json:"name"`
	RxByte   uint64 `json:"rx_byte"`
	TxByte   uint64 `json:"tx_byte"`
	Running  bool   `json:"running"`
	Disabled bool   `json:"disabled"`
}

// SystemResource maps the fields of /system/resource/print that the poller
// consumes. Fields absent on older firmware stay at their zero value.
type SystemResource struct {
	BoardName     string  `json:"board_name"`
	Version       string  `json:"version"`
	CPULoad       float64 `json:"cpu_load"`
	MemoryTotal   int64   `json:"memory_total"`
	MemoryFree    int64   `json:"memory_free"`
	DiskTotal     int64   `json:"disk_total"`
	DiskFree      int64   `json:"disk_free"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// RouterSnapshot is the result of one full poll of a device.
type RouterSnapshot struct {
	Identity   string              `json:"identity"`
	RosVersion string              `json:"ros_version"`
	Resource   SystemResource      `json:"resource"`
	Interfaces []InterfaceStatus   `json:"interfaces"`
	Counters   []InterfaceCounters `json:"counters"`
	Latency    time.Duration       `json:"-"`
}

// Alert is a coarse router-level threshold condition record. At most one
// unresolved alert may exist per (tenant, router, type); the store enforces
// this with a partial unique constraint.
type Alert struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	RouterID    uuid.UUID  `json:"router_id"`
	Type        AlertType  `json:"alert_type"`
	Severity    Severity   `json:"severity"`
	Status      string     `json:"status"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Value       float64    `json:"value_num"`
	Threshold   float64    `json:"threshold_num"`
	TriggeredAt time.Time  `json:"triggered_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	AckedAt     *time.Time `json:"acked_at,omitempty"`
	AckedBy     string     `json:"acked_by,omitempty"`
}

// Incident is a fine-grained condition record, optionally interface-scoped.
// InterfaceName is empty for router-level incidents; the open-row uniqueness
// key includes it.
type Incident struct {
	ID            uuid.UUID    `json:"id"`
	TenantID      uuid.UUID    `json:"tenant_id"`
	RouterID      uuid.UUID    `json:"router_id"`
	InterfaceName string       `json:"interface_name,omitempty"`
	Type          IncidentType `json:"incident_type"`
	Severity      Severity     `json:"severity"`
	Status        string       `json:"status"`
	Title         string       `json:"title"`
	Message       string       `json:"message"`
	TriggeredAt   time.Time    `json:"triggered_at"`
	LastSeenAt    time.Time    `json:"last_seen_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
	AckedAt       *time.Time   `json:"acked_at,omitempty"`
	AckedBy       string       `json:"acked_by,omitempty"`
	OwnerUserID   string       `json:"owner_user_id,omitempty"`
	Notes         string       `json:"notes,omitempty"`
}

// WallboardSlot maps a wallboard grid position to a (router, interface) pair
// with optional warn-below rate floors in bits per second. Zero floor means
// no warning for that direction.
type WallboardSlot struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	Position      int       `json:"position"`
	RouterID      uuid.UUID `json:"router_id"`
	InterfaceName string    `json:"interface_name"`
	WarnRxBps     float64   `json:"warn_rx_bps,omitempty"`
	WarnTxBps     float64   `json:"warn_tx_bps,omitempty"`
}

// RatePoint is one computed instantaneous rate sample for a live counter key.
type RatePoint struct {
	At    time.Time `json:"at"`
	RxBps float64   `json:"rx_bps"`
	TxBps float64   `json:"tx_bps"`
}
