// Package api exposes the HTTP surface: router administration, NOC overview,
// metrics history, alert/incident workflow and the live wallboard.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mikronoc/mikronoc/internal/alerting"
	"github.com/mikronoc/mikronoc/internal/auth"
	"github.com/mikronoc/mikronoc/internal/config"
	"github.com/mikronoc/mikronoc/internal/live"
	"github.com/mikronoc/mikronoc/internal/middleware"
	"github.com/mikronoc/mikronoc/internal/model"
	"github.com/mikronoc/mikronoc/internal/store"
)

// DeviceClient performs on-demand RPCs against one router for the snapshot
// and counters endpoints. Satisfied by *routeros.Dialer.
type DeviceClient interface {
	FetchSnapshot(ctx context.Context, r *model.Router) (*model.RouterSnapshot, error)
	FetchCounters(ctx context.Context, r *model.Router, names []string) ([]model.InterfaceCounters, error)
}

// Dependencies carries everything the handlers need.
type Dependencies struct {
	Store     store.Store
	Auth      *auth.Service
	Cipher    *auth.Cipher
	Dialer    DeviceClient
	Live      *live.Service
	Evaluator *alerting.Evaluator
	Logger    *slog.Logger

	// ProbeTimeout bounds the verify endpoint's reachability checks.
	ProbeTimeout time.Duration
}

// Handlers implements the HTTP handlers.
type Handlers struct {
	deps     *Dependencies
	validate *validator.Validate
}

// NewHandlers creates the handler set.
func NewHandlers(deps *Dependencies) *Handlers {
	if deps.ProbeTimeout <= 0 {
		deps.ProbeTimeout = 3 * time.Second
	}
	return &Handlers{deps: deps, validate: validator.New()}
}

// NewRouter creates and configures the API router.
func NewRouter(cfg *config.Config, deps *Dependencies) http.Handler {
	logger := deps.Logger
	h := NewHandlers(deps)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	if cfg.CORS.Enabled {
		r.Use(middleware.CORS(
			cfg.CORS.AllowedOrigins,
			cfg.CORS.AllowedMethods,
			cfg.CORS.AllowedHeaders,
			cfg.CORS.MaxAgeSeconds,
		))
	}

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(deps.Auth))

			r.Get("/noc", h.NOCOverview)

			r.Route("/routers", func(r chi.Router) {
				r.Get("/", h.ListRouters)
				r.Post("/", h.CreateRouter)
				r.Get("/{id}", h.GetRouter)
				r.Put("/{id}", h.UpdateRouter)
				r.Delete("/{id}", h.DeleteRouter)
				r.Post("/{id}/verify", h.VerifyRouter)
				r.Post("/{id}/maintenance", h.SetMaintenance)
				r.Get("/{id}/snapshot", h.RouterSnapshot)
				r.Get("/{id}/counters", h.RouterCounters)
				r.Get("/{id}/metrics", h.RouterMetrics)
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", h.ListAlerts)
				r.Post("/{id}/ack", h.AckAlert)
				r.Post("/{id}/resolve", h.ResolveAlert)
			})

			r.Route("/incidents", func(r chi.Router) {
				r.Get("/", h.ListIncidents)
				r.Post("/simulate", h.SimulateIncident)
				r.Post("/{id}/ack", h.AckIncident)
				r.Post("/{id}/resolve", h.ResolveIncident)
			})

			r.Route("/wallboard", func(r chi.Router) {
				r.Get("/", h.WallboardSnapshot)
				r.Get("/stream", h.WallboardStream)
				r.Get("/slots", h.GetWallboardSlots)
				r.Put("/slots", h.PutWallboardSlots)
			})
		})
	})

	return r
}
