// Package channels provides typed Go channels for the event-driven parts of
// the system, giving compile-time type safety instead of a generic event bus.
package channels

import (
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/model"
)

// RouterStateEvent is published when a router transitions between reachable
// and unreachable as seen by the polling scheduler.
type RouterStateEvent struct {
	TenantID  uuid.UUID
	RouterID  uuid.UUID
	Host      string
	EventType string // "down", "recovered"
	Failures  int    // consecutive failures, only set when EventType == "down"
	Timestamp time.Time
}

// AlertEvent is published when the evaluator opens or resolves an alert or
// incident. Incident events carry the interface name where applicable.
type AlertEvent struct {
	TenantID      uuid.UUID
	RouterID      uuid.UUID
	Kind          string // "alert", "incident"
	Type          string
	InterfaceName string
	Severity      model.Severity
	EventType     string // "opened", "resolved"
	Timestamp     time.Time
}

// EventChannels is the hub of typed channels shared by scheduler, evaluator
// and consumers. Producers must never block: sends use select/default and
// drop on a full buffer.
type EventChannels struct {
	RouterState chan RouterStateEvent
	Alert       chan AlertEvent

	done chan struct{}
}

// Config sets the buffer size per channel.
type Config struct {
	RouterStateBufferSize int
	AlertBufferSize       int
}

// NewEventChannels creates a hub with the configured buffer sizes.
func NewEventChannels(cfg Config) *EventChannels {
	if cfg.RouterStateBufferSize <= 0 {
		cfg.RouterStateBufferSize = 64
	}
	if cfg.AlertBufferSize <= 0 {
		cfg.AlertBufferSize = 64
	}
	return &EventChannels{
		RouterState: make(chan RouterStateEvent, cfg.RouterStateBufferSize),
		Alert:       make(chan AlertEvent, cfg.AlertBufferSize),
		done:        make(chan struct{}),
	}
}

// PublishRouterState emits a router state event without blocking. It reports
// whether the event was accepted.
func (ec *EventChannels) PublishRouterState(ev RouterStateEvent) bool {
	select {
	case ec.RouterState <- ev:
		return true
	default:
		return false
	}
}

// PublishAlert emits an alert event without blocking.
func (ec *EventChannels) PublishAlert(ev AlertEvent) bool {
	select {
	case ec.Alert <- ev:
		return true
	default:
		return false
	}
}

// Close shuts the hub down. Consumers exit when Done is closed.
func (ec *EventChannels) Close() {
	close(ec.done)
}

// Done returns a channel that is closed when the hub is shutting down.
func (ec *EventChannels) Done() <-chan struct{} {
	return ec.done
}
