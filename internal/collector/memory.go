package collector

import (
	"context"
	"fmt"

	"github.com/HerbHall/hostagent/pkg/models"
	"github.com/shirou/gopsutil/v4/mem"
)

// Memory reports physical memory usage.
type Memory struct {
	enabled bool
	virtual func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

var _ Collector = (*Memory)(nil)

// NewMemory creates the memory collector.
func NewMemory(enabled bool) *Memory {
	return &Memory{enabled: enabled, virtual: mem.VirtualMemoryWithContext}
}

func (m *Memory) Name() string  { return "memory" }
func (m *Memory) Enabled() bool { return m.enabled }

func (m *Memory) Collect(ctx context.Context) (models.Fields, error) {
	vm, err := m.virtual(ctx)
	if err != nil {
		return nil, newError(m.Name(), fmt.Errorf("read virtual memory: %w", err))
	}
	return models.Fields{
		"memory_usage_percent":   percent(vm.Used, vm.Total),
		"memory_used_bytes":      vm.Used,
		"memory_total_bytes":     vm.Total,
		"memory_available_bytes": vm.Available,
		"memory_free_bytes":      vm.Free,
	}, nil
}
