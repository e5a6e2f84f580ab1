// Package live computes instantaneous interface rates for the operator
// wallboard by differencing raw cumulative byte counters.
package live

import (
	"sync"
	"time"

	"github.com/mikronoc/mikronoc/internal/model"
)

type counterSample struct {
	rx uint64
	tx uint64
	at time.Time
}

// RateTracker derives bit rates from cumulative byte counters, keyed by an
// opaque string (router id, or router id + interface name). The first
// observation for a key yields no rate; a rate needs two points.
type RateTracker struct {
	mu   sync.Mutex
	prev map[string]counterSample
}

func NewRateTracker() *RateTracker {
	return &RateTracker{prev: make(map[string]counterSample)}
}

// Observe records the current counters for key and returns the rate since
// the previous observation. ok is false on the first sample for a key, when
// no wall-clock time elapsed, or when a counter went backwards (device
// reboot or counter reset) -- a negative rate is never reported.
func (t *RateTracker) Observe(key string, rx, tx uint64, at time.Time) (model.RatePoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.prev[key]
	t.prev[key] = counterSample{rx: rx, tx: tx, at: at}

	if !seen {
		return model.RatePoint{}, false
	}

	dt := at.Sub(prev.at).Seconds()
	if dt <= 0 {
		return model.RatePoint{}, false
	}

	point := model.RatePoint{
		At:    at,
		RxBps: deltaBps(prev.rx, rx, dt),
		TxBps: deltaBps(prev.tx, tx, dt),
	}
	return point, true
}

// Forget drops the stored counters for a key, e.g. when a tile is removed.
func (t *RateTracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.prev, key)
}

// deltaBps implements max(0, (cur-prev)/dt*8).
func deltaBps(prev, cur uint64, dt float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / dt * 8
}
