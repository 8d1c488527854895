package collector

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/HerbHall/hostagent/pkg/models"
	"github.com/shirou/gopsutil/v4/net"
)

// Network reports cumulative interface counters and receive/transmit
// throughput summed across interfaces.
type Network struct {
	enabled    bool
	interfaces []string
	ioCounters func(ctx context.Context, pernic bool) ([]net.IOCountersStat, error)
	rates      *deltaRate
}

var _ Collector = (*Network)(nil)

// NewNetwork creates the network collector. An empty interfaces list
// sums every interface except loopback.
func NewNetwork(enabled bool, interfaces []string) *Network {
	return &Network{
		enabled:    enabled,
		interfaces: interfaces,
		ioCounters: net.IOCountersWithContext,
		rates:      newDeltaRate(time.Now),
	}
}

func (n *Network) Name() string  { return "network" }
func (n *Network) Enabled() bool { return n.enabled }

func (n *Network) Collect(ctx context.Context) (models.Fields, error) {
	stats, err := n.ioCounters(ctx, true)
	if err != nil {
		return nil, newError(n.Name(), fmt.Errorf("read interface counters: %w", err))
	}

	var sum net.IOCountersStat
	for _, s := range stats {
		if !n.include(s.Name) {
			continue
		}
		sum.BytesRecv += s.BytesRecv
		sum.BytesSent += s.BytesSent
		sum.PacketsRecv += s.PacketsRecv
		sum.PacketsSent += s.PacketsSent
		sum.Errin += s.Errin
		sum.Errout += s.Errout
	}

	fields := models.Fields{
		"network_rx_bytes":   sum.BytesRecv,
		"network_tx_bytes":   sum.BytesSent,
		"network_rx_packets": sum.PacketsRecv,
		"network_tx_packets": sum.PacketsSent,
		"network_rx_errors":  sum.Errin,
		"network_tx_errors":  sum.Errout,
	}

	rates := n.rates.observe(map[string]uint64{
		"network_rx_rate_bytes": sum.BytesRecv,
		"network_tx_rate_bytes": sum.BytesSent,
	})
	for name, v := range rates {
		fields[name] = v
	}
	return fields, nil
}

func (n *Network) include(name string) bool {
	if len(n.interfaces) > 0 {
		return slices.Contains(n.interfaces, name)
	}
	return name != "lo" && name != "lo0"
}
