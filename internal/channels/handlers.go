package channels

import (
	"context"
	"log/slog"
)

// StartEventLogger starts a goroutine that logs router state and alert
// transitions. This is the incident-event feed consumed by operators until a
// notification integration takes its place.
func StartEventLogger(ctx context.Context, events *EventChannels, logger *slog.Logger) {
	go func() {
		for {
			select {
			case ev, ok := <-events.RouterState:
				if !ok {
					return
				}
				logger.InfoContext(ctx, "Router state changed",
					slog.String("router_id", ev.RouterID.String()),
					slog.String("host", ev.Host),
					slog.String("event", ev.EventType),
					slog.Int("failures", ev.Failures),
				)
			case ev, ok := <-events.Alert:
				if !ok {
					return
				}
				logger.InfoContext(ctx, "Alert transition",
					slog.String("router_id", ev.RouterID.String()),
					slog.String("kind", ev.Kind),
					slog.String("type", ev.Type),
					slog.String("interface", ev.InterfaceName),
					slog.String("severity", string(ev.Severity)),
					slog.String("event", ev.EventType),
				)
			case <-ctx.Done():
				return
			case <-events.Done():
				return
			}
		}
	}()
}
