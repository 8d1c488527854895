package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/HerbHall/hostagent/pkg/models"
	"github.com/shirou/gopsutil/v4/cpu"
)

// CPU reports utilisation split into user, system and idle time over the
// interval since the previous call. The first call reports averages
// since boot.
type CPU struct {
	enabled bool
	times   func(ctx context.Context) ([]cpu.TimesStat, error)
	last    *cpu.TimesStat
}

var _ Collector = (*CPU)(nil)

// NewCPU creates the cpu collector.
func NewCPU(enabled bool) *CPU {
	return &CPU{
		enabled: enabled,
		times: func(ctx context.Context) ([]cpu.TimesStat, error) {
			return cpu.TimesWithContext(ctx, false)
		},
	}
}

func (c *CPU) Name() string  { return "cpu" }
func (c *CPU) Enabled() bool { return c.enabled }

func (c *CPU) Collect(ctx context.Context) (models.Fields, error) {
	stats, err := c.times(ctx)
	if err != nil {
		return nil, newError(c.Name(), fmt.Errorf("read cpu times: %w", err))
	}
	if len(stats) == 0 {
		return nil, newError(c.Name(), errors.New("no cpu times reported"))
	}
	cur := stats[0]

	var prev cpu.TimesStat
	if c.last != nil {
		prev = *c.last
	}
	c.last = &cur

	user := (cur.User + cur.Nice) - (prev.User + prev.Nice)
	system := (cur.System + cur.Irq + cur.Softirq + cur.Steal) - (prev.System + prev.Irq + prev.Softirq + prev.Steal)
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	total := user + system + idle

	// Counters reset (e.g. after suspend); fall back to since-boot values.
	if total <= 0 || user < 0 || system < 0 || idle < 0 {
		user = cur.User + cur.Nice
		system = cur.System + cur.Irq + cur.Softirq + cur.Steal
		idle = cur.Idle + cur.Iowait
		total = user + system + idle
	}
	if total <= 0 {
		return models.Fields{}, nil
	}

	idlePct := idle / total * 100
	return models.Fields{
		"cpu_usage_percent":  round2(100 - idlePct),
		"cpu_user_percent":   round2(user / total * 100),
		"cpu_system_percent": round2(system / total * 100),
		"cpu_idle_percent":   round2(idlePct),
	}, nil
}
