package collector

import (
	"math"
	"time"
)

// deltaRate converts cumulative counters into per-second rates between
// consecutive observations. Counters are aggregated by the caller before
// observe so sub-source churn cannot produce spikes.
//
// Cold (no prior sample): every counter yields a zero baseline.
// Warm with elapsed <= 0: no rates are emitted.
// Warm otherwise: rate = round((cur-last)/elapsedSeconds), and a counter
// that went backwards yields 0.
//
// The counters and time are stored after every observation.
type deltaRate struct {
	now    func() time.Time
	last   map[string]uint64
	lastAt time.Time
	warm   bool
}

func newDeltaRate(now func() time.Time) *deltaRate {
	return &deltaRate{now: now}
}

// observe records counters and returns the rate for each counter name,
// or nil for a degenerate interval.
func (d *deltaRate) observe(counters map[string]uint64) map[string]float64 {
	now := d.now()
	defer func() {
		d.last = counters
		d.lastAt = now
		d.warm = true
	}()

	rates := make(map[string]float64, len(counters))
	if !d.warm {
		for name := range counters {
			rates[name] = 0
		}
		return rates
	}

	elapsed := now.Sub(d.lastAt).Seconds()
	if elapsed <= 0 {
		return nil
	}

	for name, cur := range counters {
		prev, ok := d.last[name]
		if !ok || cur < prev {
			rates[name] = 0
			continue
		}
		rates[name] = math.Round(float64(cur-prev) / elapsed)
	}
	return rates
}
