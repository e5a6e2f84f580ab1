package timeseries

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mikronoc/mikronoc/internal/model"
)

func TestChooseBucket(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		span time.Duration
		want Bucket
	}{
		{"one hour", time.Hour, BucketRaw},
		{"two days", 48 * time.Hour, BucketRaw},
		{"one week", 7 * 24 * time.Hour, BucketHourly},
		{"two weeks", 14 * 24 * time.Hour, BucketHourly},
		{"thirty days", 30 * 24 * time.Hour, BucketDaily},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChooseBucket(base, base.Add(tt.span)); got != tt.want {
				t.Errorf("ChooseBucket(%v) = %v, want %v", tt.span, got, tt.want)
			}
		})
	}
}

func TestDownsample_ThirtyDayRange(t *testing.T) {
	router := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Four samples per day for 30 days.
	var samples []*model.RouterMetricSample
	for day := 0; day < 30; day++ {
		for i := 0; i < 4; i++ {
			samples = append(samples, &model.RouterMetricSample{
				RouterID:  router,
				Timestamp: base.AddDate(0, 0, day).Add(time.Duration(i*6) * time.Hour),
				CPULoad:   float64(10 + i), // day mean is 11.5
				RxBps:     1000,
			})
		}
	}

	out := Downsample(samples, BucketDaily)

	if len(out) > 31 {
		t.Fatalf("expected at most 31 daily points, got %d", len(out))
	}
	if len(out) != 30 {
		t.Fatalf("expected 30 daily points, got %d", len(out))
	}
	for _, p := range out {
		if math.Abs(p.CPULoad-11.5) > 1e-9 {
			t.Errorf("bucket mean = %v, want 11.5", p.CPULoad)
		}
	}
	// Bucket keeps the last raw sample's timestamp.
	if want := base.Add(18 * time.Hour); !out[0].Timestamp.Equal(want) {
		t.Errorf("first bucket timestamp = %v, want %v", out[0].Timestamp, want)
	}
}

func TestDownsample_GapsProduceFewerPoints(t *testing.T) {
	router := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	samples := []*model.RouterMetricSample{
		{RouterID: router, Timestamp: base, CPULoad: 10},
		// two-day gap: no bucket is synthesized for the missing day
		{RouterID: router, Timestamp: base.AddDate(0, 0, 2), CPULoad: 20},
	}

	out := Downsample(samples, BucketDaily)
	if len(out) != 2 {
		t.Fatalf("expected 2 points across the gap, got %d", len(out))
	}
}

func TestDownsample_RawPassthrough(t *testing.T) {
	samples := []*model.RouterMetricSample{
		{Timestamp: time.Now(), CPULoad: 5},
	}
	out := Downsample(samples, BucketRaw)
	if len(out) != 1 || out[0].CPULoad != 5 {
		t.Error("raw bucket must pass samples through untouched")
	}
}
