// Package poller runs the metrics polling scheduler: a fixed tick loop that
// fans router polls out over a bounded worker pool, tracks per-router failure
// state with exponential backoff, and writes poll outcomes atomically.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/channels"
	"github.com/mikronoc/mikronoc/internal/live"
	"github.com/mikronoc/mikronoc/internal/model"
	"github.com/mikronoc/mikronoc/internal/routeros"
	"github.com/mikronoc/mikronoc/internal/store"
)

// Client fetches one full snapshot from a router. Satisfied by
// *routeros.Dialer.
type Client interface {
	FetchSnapshot(ctx context.Context, r *model.Router) (*model.RouterSnapshot, error)
}

// Evaluator receives every poll outcome for alert evaluation. sample is nil
// when the poll failed.
type Evaluator interface {
	EvaluateRouter(ctx context.Context, r *model.Router, sample *model.RouterMetricSample) error
}

// Config holds the scheduler knobs.
type Config struct {
	TickInterval      time.Duration
	PollTimeout       time.Duration
	Workers           int
	RecoveryThreshold int
}

// routerState is the scheduler's in-memory bookkeeping for one router.
// polling guards against overlapping polls of the same device; fails drives
// the backoff and the down/recovered transitions.
type routerState struct {
	polling     bool
	fails       int
	nextRetryAt time.Time
}

// Scheduler owns the slow polling cadence (metrics and alert evaluation).
// The fast wallboard cadence lives in the live package.
type Scheduler struct {
	store     store.Store
	client    Client
	evaluator Evaluator
	events    *channels.EventChannels
	logger    *slog.Logger

	tickInterval      time.Duration
	pollTimeout       time.Duration
	recoveryThreshold int

	sem   chan struct{}
	rates *live.RateTracker

	mu     sync.Mutex
	states map[uuid.UUID]*routerState

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler. Zero config fields fall back to defaults.
func NewScheduler(st store.Store, client Client, evaluator Evaluator, events *channels.EventChannels, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 4 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 12
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = 3
	}
	return &Scheduler{
		store:             st,
		client:            client,
		evaluator:         evaluator,
		events:            events,
		logger:            logger.With("component", "poller"),
		tickInterval:      cfg.TickInterval,
		pollTimeout:       cfg.PollTimeout,
		recoveryThreshold: cfg.RecoveryThreshold,
		sem:               make(chan struct{}, cfg.Workers),
		rates:             live.NewRateTracker(),
		states:            make(map[uuid.UUID]*routerState),
	}
}

// Run blocks until ctx is cancelled, polling all enabled routers every tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting poll scheduler",
		"tick_interval", s.tickInterval,
		"poll_timeout", s.pollTimeout,
		"workers", cap(s.sem),
		"recovery_threshold", s.recoveryThreshold,
	)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poll scheduler shutting down, waiting for in-flight polls")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick schedules a poll for every enabled router that is not already being
// polled and not inside its backoff window. When the worker pool is
// saturated the router simply waits for the next tick; ticks never queue up.
func (s *Scheduler) tick(ctx context.Context) {
	routers, err := s.store.ListEnabledRouters(ctx)
	if err != nil {
		s.logger.Error("listing enabled routers failed", "error", err)
		return
	}

	now := time.Now().UTC()
	active := make(map[uuid.UUID]bool, len(routers))
	for _, r := range routers {
		active[r.ID] = true

		st, ok := s.claim(r.ID, now)
		if !ok {
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.release(r.ID)
			s.logger.Debug("worker pool saturated, deferring poll",
				"router_id", r.ID)
			continue
		}

		s.wg.Add(1)
		go func(r *model.Router, st *routerState) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer s.release(r.ID)
			s.poll(ctx, r, st)
		}(r, st)
	}

	s.prune(active)
}

// prune drops bookkeeping for routers that left the enabled set, so deleted
// or disabled routers stop occupying state and rate-tracker entries. A router
// with a poll still in flight keeps its state until the next tick.
func (s *Scheduler) prune(active map[uuid.UUID]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.states {
		if active[id] || st.polling {
			continue
		}
		delete(s.states, id)
		s.rates.Forget(id.String())
	}
}

// claim marks a router as being polled. It fails when a poll is already in
// flight or the router is still backing off.
func (s *Scheduler) claim(id uuid.UUID, now time.Time) (*routerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		st = &routerState{}
		s.states[id] = st
	}
	if st.polling || now.Before(st.nextRetryAt) {
		return nil, false
	}
	st.polling = true
	return st, true
}

func (s *Scheduler) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		st.polling = false
	}
}

// poll executes one poll of one router and records the outcome.
func (s *Scheduler) poll(ctx context.Context, r *model.Router, st *routerState) {
	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	snap, err := s.client.FetchSnapshot(pollCtx, r)
	if err != nil {
		s.handleFailure(ctx, r, st, err)
		return
	}
	s.handleSuccess(ctx, r, st, snap)
}

// handleSuccess resets failure state, writes the status fields and appends
// one metric sample, then hands the router to the evaluator. A recovered
// event fires only when the router had crossed the down threshold.
func (s *Scheduler) handleSuccess(ctx context.Context, r *model.Router, st *routerState, snap *model.RouterSnapshot) {
	now := time.Now().UTC()

	s.mu.Lock()
	wasDown := st.fails >= s.recoveryThreshold
	st.fails = 0
	st.nextRetryAt = time.Time{}
	s.mu.Unlock()

	latencyMS := snap.Latency.Milliseconds()
	if err := s.store.MarkRouterOnline(ctx, r.ID, store.OnlineStatus{
		LastSeenAt: now,
		LatencyMS:  latencyMS,
		Identity:   snap.Identity,
		RosVersion: snap.RosVersion,
	}); err != nil {
		s.logger.Error("writing online status failed", "router_id", r.ID, "error", err)
	}

	sample := s.buildSample(r.ID, snap, now)
	if err := s.store.AppendMetric(ctx, sample); err != nil {
		s.logger.Error("appending metric sample failed", "router_id", r.ID, "error", err)
	}

	s.logger.Debug("poll succeeded",
		"router_id", r.ID,
		"latency_ms", latencyMS,
		"cpu_load", sample.CPULoad,
	)

	if wasDown {
		s.logger.Info("router recovered", "router_id", r.ID, "host", r.Host)
		if !s.events.PublishRouterState(channels.RouterStateEvent{
			TenantID:  r.TenantID,
			RouterID:  r.ID,
			Host:      r.Host,
			EventType: "recovered",
			Timestamp: now,
		}) {
			s.logger.Warn("router state channel full, recovered event dropped",
				"router_id", r.ID)
		}
	}

	// Evaluate against the freshly written status.
	r.IsOnline = true
	r.LastSeenAt = &now
	r.LatencyMS = latencyMS
	r.Identity = snap.Identity
	r.RosVersion = snap.RosVersion
	r.LastError = ""
	if err := s.evaluator.EvaluateRouter(ctx, r, sample); err != nil {
		s.logger.Error("alert evaluation failed", "router_id", r.ID, "error", err)
	}
}

// handleFailure bumps the failure count, schedules the backoff and marks the
// router offline. Failed polls never append a metric sample; gaps in the
// series are the record of the outage.
func (s *Scheduler) handleFailure(ctx context.Context, r *model.Router, st *routerState, pollErr error) {
	now := time.Now().UTC()

	s.mu.Lock()
	st.fails++
	fails := st.fails
	backoff := nextBackoff(fails)
	st.nextRetryAt = now.Add(backoff)
	s.mu.Unlock()

	if routeros.IsAuthError(pollErr) {
		s.logger.Error("poll failed: authentication rejected, check credentials",
			"router_id", r.ID, "host", r.Host, "error", pollErr)
	} else {
		s.logger.Warn("poll failed",
			"router_id", r.ID,
			"host", r.Host,
			"consecutive_failures", fails,
			"backoff", backoff,
			"error", pollErr,
		)
	}

	if err := s.store.MarkRouterOffline(ctx, r.ID, pollErr.Error()); err != nil {
		s.logger.Error("writing offline status failed", "router_id", r.ID, "error", err)
	}

	if fails == s.recoveryThreshold {
		s.logger.Warn("router is down",
			"router_id", r.ID, "host", r.Host, "failures", fails)
		if !s.events.PublishRouterState(channels.RouterStateEvent{
			TenantID:  r.TenantID,
			RouterID:  r.ID,
			Host:      r.Host,
			EventType: "down",
			Failures:  fails,
			Timestamp: now,
		}) {
			s.logger.Warn("router state channel full, down event dropped",
				"router_id", r.ID)
		}
	}

	r.IsOnline = false
	r.LastError = pollErr.Error()
	if err := s.evaluator.EvaluateRouter(ctx, r, nil); err != nil {
		s.logger.Error("alert evaluation failed", "router_id", r.ID, "error", err)
	}
}

// buildSample maps a snapshot to one time-series row. Router-level rx/tx is
// the rate over the sum of all interface counters; the first poll after
// startup has no previous point and reports zero.
func (s *Scheduler) buildSample(routerID uuid.UUID, snap *model.RouterSnapshot, now time.Time) *model.RouterMetricSample {
	var rxTotal, txTotal uint64
	for _, c := range snap.Counters {
		rxTotal += c.RxByte
		txTotal += c.TxByte
	}
	point, haveRate := s.rates.Observe(routerID.String(), rxTotal, txTotal, now)

	sample := &model.RouterMetricSample{
		RouterID:      routerID,
		Timestamp:     now,
		CPULoad:       snap.Resource.CPULoad,
		MemoryTotal:   snap.Resource.MemoryTotal,
		MemoryFree:    snap.Resource.MemoryFree,
		DiskTotal:     snap.Resource.DiskTotal,
		DiskFree:      snap.Resource.DiskFree,
		UptimeSeconds: snap.Resource.UptimeSeconds,
	}
	if haveRate {
		sample.RxBps = point.RxBps
		sample.TxBps = point.TxBps
	}
	return sample
}

// nextBackoff returns min(30s, 1s * 2^min(fails, 5)). fails is the count
// after the failure being handled, so the first failure waits 2s.
func nextBackoff(fails int) time.Duration {
	shift := fails
	if shift > 5 {
		shift = 5
	}
	d := time.Second << uint(shift)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
