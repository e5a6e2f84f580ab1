// Package timeseries downsamples raw metric samples into coarser buckets for
// long-range charts. Bucketing is a presentation concern: the store always
// holds raw samples.
package timeseries

import (
	"time"

	"github.com/mikronoc/mikronoc/internal/model"
)

// Bucket is the aggregation interval applied to a query window.
type Bucket time.Duration

const (
	// BucketRaw returns samples untouched.
	BucketRaw Bucket = 0
	// BucketHourly averages samples per hour.
	BucketHourly Bucket = Bucket(time.Hour)
	// BucketDaily averages samples per day.
	BucketDaily Bucket = Bucket(24 * time.Hour)
)

// String names the bucket for API responses.
func (b Bucket) String() string {
	switch b {
	case BucketHourly:
		return "hourly"
	case BucketDaily:
		return "daily"
	default:
		return "raw"
	}
}

// ChooseBucket picks the bucket size for a requested range: raw detail up to
// two days, hourly averages up to two weeks, daily averages beyond that.
func ChooseBucket(from, to time.Time) Bucket {
	span := to.Sub(from)
	switch {
	case span <= 48*time.Hour:
		return BucketRaw
	case span <= 14*24*time.Hour:
		return BucketHourly
	default:
		return BucketDaily
	}
}

// Downsample aggregates samples (ordered oldest to newest) into buckets,
// taking the arithmetic mean of every numeric field and keeping the last
// sample's timestamp as the bucket's timestamp. Buckets with no samples are
// not synthesized; gaps simply produce fewer points.
func Downsample(samples []*model.RouterMetricSample, bucket Bucket) []*model.RouterMetricSample {
	if bucket == BucketRaw || len(samples) == 0 {
		return samples
	}

	size := time.Duration(bucket)
	var out []*model.RouterMetricSample
	var acc *model.RouterMetricSample
	var key time.Time
	var count int

	flush := func() {
		if acc == nil {
			return
		}
		n := float64(count)
		acc.CPULoad /= n
		acc.MemoryTotal = int64(float64(acc.MemoryTotal) / n)
		acc.MemoryFree = int64(float64(acc.MemoryFree) / n)
		acc.DiskTotal = int64(float64(acc.DiskTotal) / n)
		acc.DiskFree = int64(float64(acc.DiskFree) / n)
		acc.UptimeSeconds = int64(float64(acc.UptimeSeconds) / n)
		acc.RxBps /= n
		acc.TxBps /= n
		out = append(out, acc)
		acc = nil
		count = 0
	}

	for _, s := range samples {
		k := s.Timestamp.UTC().Truncate(size)
		if acc == nil || !k.Equal(key) {
			flush()
			key = k
			c := *s
			acc = &c
			count = 1
			continue
		}
		acc.CPULoad += s.CPULoad
		acc.MemoryTotal += s.MemoryTotal
		acc.MemoryFree += s.MemoryFree
		acc.DiskTotal += s.DiskTotal
		acc.DiskFree += s.DiskFree
		acc.UptimeSeconds += s.UptimeSeconds
		acc.RxBps += s.RxBps
		acc.TxBps += s.TxBps
		acc.Timestamp = s.Timestamp // bucket keeps the last sample's timestamp
		count++
	}
	flush()

	return out
}
