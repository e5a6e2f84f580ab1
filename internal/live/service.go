package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/model"
	"github.com/mikronoc/mikronoc/internal/store"
)

// CounterClient fetches raw interface counters from one router.
type CounterClient interface {
	FetchCounters(ctx context.Context, r *model.Router, names []string) ([]model.InterfaceCounters, error)
}

// InterfaceObserver receives every live observation so interface rules
// (interface-down, rate-below-floor) can be evaluated on the fast path.
type InterfaceObserver interface {
	ObserveInterface(ctx context.Context, r *model.Router, slot model.WallboardSlot, counters model.InterfaceCounters, point model.RatePoint, haveRate bool)
}

// Update is one computed live point pushed to subscribers.
type Update struct {
	Slot  model.WallboardSlot `json:"slot"`
	Point model.RatePoint     `json:"point"`
	Warn  bool                `json:"warn"`
}

// TileSnapshot is the pull-side view of one wallboard tile.
type TileSnapshot struct {
	Slot  model.WallboardSlot `json:"slot"`
	Last  *model.RatePoint    `json:"last,omitempty"`
	Warn  bool                `json:"warn"`
	Spark []model.RatePoint   `json:"spark"`
}

// Config tunes the fast polling loop.
type Config struct {
	TickInterval  time.Duration
	PollTimeout   time.Duration
	FlushInterval time.Duration
	SlotRefresh   time.Duration
	RingSize      int
}

// Service runs the UI-driven fast polling path. It does not persist every
// sample: per-key means are flushed to the metric store once per
// FlushInterval so historical interface charts stay cheap.
type Service struct {
	store    store.Store
	client   CounterClient
	observer InterfaceObserver
	logger   *slog.Logger
	cfg      Config

	tracker *RateTracker

	mu    sync.RWMutex
	slots []model.WallboardSlot
	rings map[string]*Ring
	warns map[string]bool
	accum map[string]*flushAccum

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int
}

type flushAccum struct {
	routerID uuid.UUID
	iface    string
	rxSum    float64
	txSum    float64
	count    int
	last     time.Time
}

// NewService creates the live counter service. observer may be nil when no
// interface rules are configured.
func NewService(st store.Store, client CounterClient, observer InterfaceObserver, logger *slog.Logger, cfg Config) *Service {
	if cfg.RingSize <= 0 {
		cfg.RingSize = 60
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.SlotRefresh <= 0 {
		cfg.SlotRefresh = 30 * time.Second
	}
	return &Service{
		store:    st,
		client:   client,
		observer: observer,
		logger:   logger.With("component", "live"),
		cfg:      cfg,
		tracker:  NewRateTracker(),
		rings:    make(map[string]*Ring),
		warns:    make(map[string]bool),
		accum:    make(map[string]*flushAccum),
		subs:     make(map[int]chan Update),
	}
}

func tileKey(routerID uuid.UUID, iface string) string {
	return routerID.String() + "/" + iface
}

// Run drives the fast polling loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting live counter service",
		"tick_interval", s.cfg.TickInterval,
		"ring_size", s.cfg.RingSize,
	)

	if err := s.refreshSlots(ctx); err != nil {
		s.logger.Error("initial slot load failed", "error", err)
	}

	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	refresh := time.NewTicker(s.cfg.SlotRefresh)
	defer refresh.Stop()
	flush := time.NewTicker(s.cfg.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("live counter service stopped")
			return ctx.Err()
		case <-refresh.C:
			if err := s.refreshSlots(ctx); err != nil {
				s.logger.Warn("slot refresh failed", "error", err)
			}
		case <-flush.C:
			s.flushAggregates(ctx)
		case <-tick.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) refreshSlots(ctx context.Context) error {
	slots, err := s.store.ListAllWallboardSlots(ctx)
	if err != nil {
		return fmt.Errorf("list wallboard slots: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]bool, len(slots))
	for _, sl := range slots {
		active[tileKey(sl.RouterID, sl.InterfaceName)] = true
	}
	// Drop state for removed tiles so a re-added tile starts fresh.
	for key := range s.rings {
		if !active[key] {
			delete(s.rings, key)
			delete(s.warns, key)
			delete(s.accum, key)
			s.tracker.Forget(key)
		}
	}
	s.slots = slots
	return nil
}

// tick polls every router that backs at least one tile, once, and fans the
// counters out to its tiles.
func (s *Service) tick(ctx context.Context) {
	s.mu.RLock()
	byRouter := make(map[uuid.UUID][]model.WallboardSlot)
	for _, sl := range s.slots {
		byRouter[sl.RouterID] = append(byRouter[sl.RouterID], sl)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for routerID, slots := range byRouter {
		wg.Add(1)
		go func(routerID uuid.UUID, slots []model.WallboardSlot) {
			defer wg.Done()
			s.pollRouter(ctx, routerID, slots)
		}(routerID, slots)
	}
	wg.Wait()
}

func (s *Service) pollRouter(ctx context.Context, routerID uuid.UUID, slots []model.WallboardSlot) {
	router, err := s.store.GetRouter(ctx, routerID)
	if err != nil {
		s.logger.Debug("live poll skipped, router missing", "router_id", routerID, "error", err)
		return
	}
	if !router.Enabled {
		return
	}

	names := make([]string, 0, len(slots))
	for _, sl := range slots {
		names = append(names, sl.InterfaceName)
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	counters, err := s.client.FetchCounters(pollCtx, router, names)
	if err != nil {
		s.logger.Debug("live counter fetch failed",
			"router_id", routerID, "host", router.Host, "error", err)
		return
	}

	byName := make(map[string]model.InterfaceCounters, len(counters))
	for _, c := range counters {
		byName[c.Name] = c
	}

	now := time.Now().UTC()
	for _, sl := range slots {
		c, ok := byName[sl.InterfaceName]
		if !ok {
			continue
		}
		s.observe(ctx, router, sl, c, now)
	}
}

func (s *Service) observe(ctx context.Context, router *model.Router, sl model.WallboardSlot, c model.InterfaceCounters, now time.Time) {
	key := tileKey(sl.RouterID, sl.InterfaceName)
	point, haveRate := s.tracker.Observe(key, c.RxByte, c.TxByte, now)

	if s.observer != nil {
		s.observer.ObserveInterface(ctx, router, sl, c, point, haveRate)
	}
	if !haveRate {
		return
	}

	warn := (sl.WarnRxBps > 0 && point.RxBps < sl.WarnRxBps) ||
		(sl.WarnTxBps > 0 && point.TxBps < sl.WarnTxBps)

	s.mu.Lock()
	ring, ok := s.rings[key]
	if !ok {
		ring = NewRing(s.cfg.RingSize)
		s.rings[key] = ring
	}
	ring.Push(point)
	s.warns[key] = warn

	acc, ok := s.accum[key]
	if !ok {
		acc = &flushAccum{routerID: sl.RouterID, iface: sl.InterfaceName}
		s.accum[key] = acc
	}
	acc.rxSum += point.RxBps
	acc.txSum += point.TxBps
	acc.count++
	acc.last = point.At
	s.mu.Unlock()

	s.publish(Update{Slot: sl, Point: point, Warn: warn})
}

// flushAggregates persists one averaged sample per active key and resets the
// accumulators. Raw fast-tick points never reach the store.
func (s *Service) flushAggregates(ctx context.Context) {
	s.mu.Lock()
	pending := s.accum
	s.accum = make(map[string]*flushAccum)
	s.mu.Unlock()

	for _, acc := range pending {
		if acc.count == 0 {
			continue
		}
		sample := &model.RouterMetricSample{
			RouterID:      acc.routerID,
			InterfaceName: acc.iface,
			Timestamp:     acc.last,
			RxBps:         acc.rxSum / float64(acc.count),
			TxBps:         acc.txSum / float64(acc.count),
		}
		if err := s.store.AppendMetric(ctx, sample); err != nil {
			s.logger.Warn("failed to flush live aggregate",
				"router_id", acc.routerID, "interface", acc.iface, "error", err)
		}
	}
}

// Snapshot returns the current tile states for one tenant's wallboard.
func (s *Service) Snapshot(tenantID uuid.UUID) []TileSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TileSnapshot
	for _, sl := range s.slots {
		if sl.TenantID != tenantID {
			continue
		}
		key := tileKey(sl.RouterID, sl.InterfaceName)
		tile := TileSnapshot{Slot: sl, Warn: s.warns[key]}
		if ring, ok := s.rings[key]; ok {
			tile.Spark = ring.Points()
			if last, ok := ring.Last(); ok {
				tile.Last = &last
			}
		}
		out = append(out, tile)
	}
	return out
}

// Subscribe registers a consumer for live updates. The returned cancel
// function must be called to release the subscription. Slow consumers drop
// updates rather than stalling the polling loop.
func (s *Service) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Service) publish(u Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
