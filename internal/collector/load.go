package collector

import (
	"context"
	"fmt"

	"github.com/HerbHall/hostagent/pkg/models"
	"github.com/shirou/gopsutil/v4/load"
)

// Load reports the 1, 5 and 15 minute load averages.
type Load struct {
	enabled bool
	avg     func(ctx context.Context) (*load.AvgStat, error)
}

var _ Collector = (*Load)(nil)

// NewLoad creates the load collector.
func NewLoad(enabled bool) *Load {
	return &Load{enabled: enabled, avg: load.AvgWithContext}
}

func (l *Load) Name() string  { return "load" }
func (l *Load) Enabled() bool { return l.enabled }

func (l *Load) Collect(ctx context.Context) (models.Fields, error) {
	avg, err := l.avg(ctx)
	if err != nil {
		return nil, newError(l.Name(), fmt.Errorf("read load average: %w", err))
	}
	return models.Fields{
		"load_avg_1m":  round2(avg.Load1),
		"load_avg_5m":  round2(avg.Load5),
		"load_avg_15m": round2(avg.Load15),
	}, nil
}
