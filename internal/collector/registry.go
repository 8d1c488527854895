package collector

import (
	"github.com/HerbHall/hostagent/internal/config"
	"go.uber.org/zap"
)

// FromConfig builds the fixed collector list in reporting order: cpu,
// memory, disk, network, load, process, ping. Disabled collectors are
// registered too so their state shows up in logs.
func FromConfig(cfg config.CollectorsConfig, states StateLister, containerMode bool, logger *zap.Logger) (*Registry, error) {
	reg := NewRegistry(logger)
	collectors := []Collector{
		NewCPU(cfg.CPU.Enabled),
		NewMemory(cfg.Memory.Enabled),
		NewDisk(cfg.Disk.Enabled, cfg.Disk.MountPoints, containerMode, logger.Named("disk")),
		NewNetwork(cfg.Network.Enabled, cfg.Network.Interfaces),
		NewLoad(cfg.Load.Enabled),
		NewProcess(cfg.Process.Enabled, states),
		NewPing(cfg.Ping.Enabled, cfg.Ping.Target, cfg.Ping.Count, cfg.Ping.Timeout),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
