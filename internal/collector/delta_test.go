package collector

import (
	"testing"
	"time"

	"github.com/HerbHall/hostagent/internal/testutil"
)

func TestDeltaRate_ColdBaselineIsZero(t *testing.T) {
	clk := testutil.NewClock()
	d := newDeltaRate(clk.Now)

	rates := d.observe(map[string]uint64{"rx": 5000, "tx": 100})

	if len(rates) != 2 {
		t.Fatalf("len(rates) = %d, want 2", len(rates))
	}
	for name, v := range rates {
		if v != 0 {
			t.Errorf("cold rate[%s] = %v, want 0", name, v)
		}
	}
	if !d.warm {
		t.Error("state not warm after first observation")
	}
}

func TestDeltaRate_Warm(t *testing.T) {
	tests := []struct {
		name    string
		c1, c2  uint64
		elapsed time.Duration
		want    float64
	}{
		{"steady", 1000, 6000, 5 * time.Second, 1000},
		{"sub-second", 0, 500, 500 * time.Millisecond, 1000},
		{"rounds", 0, 10, 3 * time.Second, 3},
		{"rounds half up", 0, 5, 2 * time.Second, 3},
		{"no change", 42, 42, time.Second, 0},
		{"counter regression clamps", 9000, 100, 10 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := testutil.NewClock()
			d := newDeltaRate(clk.Now)

			d.observe(map[string]uint64{"bytes": tt.c1})
			clk.Advance(tt.elapsed)
			rates := d.observe(map[string]uint64{"bytes": tt.c2})

			if got := rates["bytes"]; got != tt.want {
				t.Errorf("rate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeltaRate_ZeroElapsedEmitsNothing(t *testing.T) {
	clk := testutil.NewClock()
	d := newDeltaRate(clk.Now)

	d.observe(map[string]uint64{"bytes": 100})
	rates := d.observe(map[string]uint64{"bytes": 900})
	if rates != nil {
		t.Errorf("rates = %v, want nil for zero elapsed", rates)
	}

	// The degenerate sample still becomes the new baseline.
	clk.Advance(2 * time.Second)
	rates = d.observe(map[string]uint64{"bytes": 1100})
	if got := rates["bytes"]; got != 100 {
		t.Errorf("rate after degenerate = %v, want 100", got)
	}
}

func TestDeltaRate_BackwardsClockEmitsNothing(t *testing.T) {
	clk := testutil.NewClock()
	d := newDeltaRate(clk.Now)

	d.observe(map[string]uint64{"bytes": 100})
	clk.Set(clk.Now().Add(-time.Minute))
	if rates := d.observe(map[string]uint64{"bytes": 200}); rates != nil {
		t.Errorf("rates = %v, want nil when the clock went backwards", rates)
	}
}

func TestDeltaRate_NewCounterStartsAtZero(t *testing.T) {
	clk := testutil.NewClock()
	d := newDeltaRate(clk.Now)

	d.observe(map[string]uint64{"a": 10})
	clk.Advance(time.Second)
	rates := d.observe(map[string]uint64{"a": 20, "b": 5000})

	if rates["a"] != 10 {
		t.Errorf("rate[a] = %v, want 10", rates["a"])
	}
	if rates["b"] != 0 {
		t.Errorf("rate[b] = %v, want 0 for a counter with no baseline", rates["b"])
	}
}
