package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/hostagent/internal/testutil"
	"github.com/HerbHall/hostagent/pkg/models"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const mib = 1024 * 1024

type fakeStates struct {
	states []models.ProcessState
	err    error
}

func (f fakeStates) States(context.Context) ([]models.ProcessState, error) {
	return f.states, f.err
}

func TestCPU_ColdThenWarm(t *testing.T) {
	samples := [][]cpu.TimesStat{
		{{User: 60, System: 20, Idle: 20}},
		{{User: 70, System: 30, Idle: 100}},
	}
	c := NewCPU(true)
	c.times = func(context.Context) ([]cpu.TimesStat, error) {
		s := samples[0]
		samples = samples[1:]
		return s, nil
	}

	cold, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 80.0, cold["cpu_usage_percent"])
	assert.Equal(t, 60.0, cold["cpu_user_percent"])
	assert.Equal(t, 20.0, cold["cpu_system_percent"])
	assert.Equal(t, 20.0, cold["cpu_idle_percent"])

	warm, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20.0, warm["cpu_usage_percent"])
	assert.Equal(t, 10.0, warm["cpu_user_percent"])
	assert.Equal(t, 10.0, warm["cpu_system_percent"])
	assert.Equal(t, 80.0, warm["cpu_idle_percent"])
}

func TestCPU_Errors(t *testing.T) {
	c := NewCPU(true)
	c.times = func(context.Context) ([]cpu.TimesStat, error) { return nil, nil }

	_, err := c.Collect(context.Background())
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "cpu", ce.Collector)

	c.times = func(context.Context) ([]cpu.TimesStat, error) { return nil, errors.New("no /proc") }
	_, err = c.Collect(context.Background())
	assert.ErrorContains(t, err, "no /proc")
}

func TestMemory(t *testing.T) {
	m := NewMemory(true)
	m.virtual = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 8000, Used: 2000, Available: 5000, Free: 1000}, nil
	}

	f, err := m.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25.0, f["memory_usage_percent"])
	assert.Equal(t, uint64(2000), f["memory_used_bytes"])
	assert.Equal(t, uint64(8000), f["memory_total_bytes"])
	assert.Equal(t, uint64(5000), f["memory_available_bytes"])
	assert.Equal(t, uint64(1000), f["memory_free_bytes"])
}

func TestLoad(t *testing.T) {
	l := NewLoad(true)
	l.avg = func(context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 0.456, Load5: 1.2, Load15: 2}, nil
	}

	f, err := l.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.46, f["load_avg_1m"])
	assert.Equal(t, 1.2, f["load_avg_5m"])
	assert.Equal(t, 2.0, f["load_avg_15m"])
}

func newTestDisk(clk *testutil.Clock, io *map[string]disk.IOCountersStat) *Disk {
	d := NewDisk(true, nil, false, zap.NewNop())
	d.rates = newDeltaRate(clk.Now)
	d.partitions = func(context.Context, bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
			{Device: "tmpfs", Mountpoint: "/run", Fstype: "tmpfs"},
			{Device: "/dev/sda1", Mountpoint: "/var/lib/bind", Fstype: "ext4"},
			{Device: "/dev/sdb1", Mountpoint: "/boot/efi", Fstype: "vfat"},
		}, nil
	}
	d.usage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		switch path {
		case "/", "/var/lib/bind":
			return &disk.UsageStat{Total: 1000 * mib, Used: 250 * mib, Free: 750 * mib}, nil
		case "/run":
			return &disk.UsageStat{Total: 500 * mib, Used: 500 * mib}, nil
		case "/boot/efi":
			return &disk.UsageStat{Total: 50 * mib, Used: 10 * mib, Free: 40 * mib}, nil
		}
		return nil, errors.New("not mounted")
	}
	d.ioCounters = func(context.Context, ...string) (map[string]disk.IOCountersStat, error) {
		return *io, nil
	}
	d.statfs = func(string) (usage, error) { return usage{}, errors.New("unused") }
	return d
}

func TestDisk_UsageCountsRealFilesystemsOnce(t *testing.T) {
	clk := testutil.NewClock()
	io := map[string]disk.IOCountersStat{}
	d := newTestDisk(clk, &io)

	f, err := d.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000*mib), f["disk_total_bytes"])
	assert.Equal(t, uint64(250*mib), f["disk_used_bytes"])
	assert.Equal(t, uint64(750*mib), f["disk_free_bytes"])
	assert.Equal(t, 25.0, f["disk_usage_percent"])
}

func TestDisk_FallsBackToAllFilesystems(t *testing.T) {
	clk := testutil.NewClock()
	io := map[string]disk.IOCountersStat{}
	d := newTestDisk(clk, &io)
	d.mountPoints = []string{"/boot/efi"}

	f, err := d.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(50*mib), f["disk_total_bytes"])
	assert.Equal(t, 20.0, f["disk_usage_percent"])
}

func TestDisk_RootFS(t *testing.T) {
	clk := testutil.NewClock()
	io := map[string]disk.IOCountersStat{}
	d := newTestDisk(clk, &io)
	d.rootfs = "/rootfs"
	d.statfs = func(path string) (usage, error) {
		assert.Equal(t, "/rootfs", path)
		return usage{total: 400, used: 100, free: 300}, nil
	}
	d.partitions = func(context.Context, bool) ([]disk.PartitionStat, error) {
		t.Error("partitions read although /rootfs statfs succeeded")
		return nil, nil
	}

	f, err := d.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(400), f["disk_total_bytes"])
	assert.Equal(t, 25.0, f["disk_usage_percent"])
}

func TestDisk_IORates(t *testing.T) {
	clk := testutil.NewClock()
	io := map[string]disk.IOCountersStat{
		"sda":       {ReadBytes: 1000, WriteBytes: 2000, ReadCount: 10, WriteCount: 20},
		"sda1":      {ReadBytes: 1 << 40, WriteBytes: 1 << 40},
		"nvme0n1":   {ReadBytes: 500, WriteBytes: 500, ReadCount: 5, WriteCount: 5},
		"nvme0n1p2": {ReadBytes: 1 << 40},
		"loop0":     {ReadBytes: 1 << 40},
	}
	d := newTestDisk(clk, &io)

	cold, err := d.Collect(context.Background())
	require.NoError(t, err)
	for _, name := range []string{"disk_read_bytes", "disk_write_bytes", "disk_io_read_ops", "disk_io_write_ops"} {
		assert.Equal(t, 0.0, cold[name], name)
	}

	clk.Advance(10 * time.Second)
	io = map[string]disk.IOCountersStat{
		"sda":       {ReadBytes: 11000, WriteBytes: 2000, ReadCount: 110, WriteCount: 20},
		"sda1":      {ReadBytes: 2 << 40, WriteBytes: 2 << 40},
		"nvme0n1":   {ReadBytes: 500, WriteBytes: 5500, ReadCount: 5, WriteCount: 55},
		"nvme0n1p2": {ReadBytes: 2 << 40},
		"loop0":     {ReadBytes: 2 << 40},
	}

	warm, err := d.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, warm["disk_read_bytes"])
	assert.Equal(t, 500.0, warm["disk_write_bytes"])
	assert.Equal(t, 10.0, warm["disk_io_read_ops"])
	assert.Equal(t, 5.0, warm["disk_io_write_ops"])
}

func TestParentDevice(t *testing.T) {
	tests := []struct {
		name, want string
	}{
		{"sda", ""},
		{"sda1", "sda"},
		{"vdb12", "vdb"},
		{"nvme0n1", "nvme0n"},
		{"nvme0n1p2", "nvme0n1"},
		{"mmcblk0p1", "mmcblk0"},
		{"dm-0", "dm-"},
	}
	for _, tt := range tests {
		if got := parentDevice(tt.name); got != tt.want {
			t.Errorf("parentDevice(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestNetwork(t *testing.T) {
	clk := testutil.NewClock()
	stats := []net.IOCountersStat{
		{Name: "lo", BytesRecv: 1 << 30, BytesSent: 1 << 30},
		{Name: "eth0", BytesRecv: 1000, BytesSent: 200, PacketsRecv: 10, PacketsSent: 2, Errin: 1},
		{Name: "eth1", BytesRecv: 3000, BytesSent: 800, PacketsRecv: 30, PacketsSent: 8, Errout: 2},
	}
	n := NewNetwork(true, nil)
	n.rates = newDeltaRate(clk.Now)
	n.ioCounters = func(context.Context, bool) ([]net.IOCountersStat, error) { return stats, nil }

	cold, err := n.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), cold["network_rx_bytes"])
	assert.Equal(t, uint64(1000), cold["network_tx_bytes"])
	assert.Equal(t, uint64(40), cold["network_rx_packets"])
	assert.Equal(t, uint64(10), cold["network_tx_packets"])
	assert.Equal(t, uint64(1), cold["network_rx_errors"])
	assert.Equal(t, uint64(2), cold["network_tx_errors"])
	assert.Equal(t, 0.0, cold["network_rx_rate_bytes"])
	assert.Equal(t, 0.0, cold["network_tx_rate_bytes"])

	clk.Advance(2 * time.Second)
	stats[1].BytesRecv += 4000
	// eth1 disappears; the aggregate tx counter drops and clamps to 0.
	stats = stats[:2]

	warm, err := n.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500.0, warm["network_rx_rate_bytes"])
	assert.Equal(t, 0.0, warm["network_tx_rate_bytes"])
}

func TestNetwork_InterfaceFilter(t *testing.T) {
	n := NewNetwork(true, []string{"eth1"})
	n.ioCounters = func(context.Context, bool) ([]net.IOCountersStat, error) {
		return []net.IOCountersStat{
			{Name: "eth0", BytesRecv: 1000},
			{Name: "eth1", BytesRecv: 3000},
		}, nil
	}

	f, err := n.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), f["network_rx_bytes"])
}

func TestProcess(t *testing.T) {
	p := NewProcess(true, fakeStates{states: []models.ProcessState{
		models.ProcessRunning,
		models.ProcessSleeping,
		models.ProcessSleeping,
		models.ProcessZombie,
		models.ProcessIdle,
	}})

	f, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, f["process_count"])
	assert.Equal(t, 1, f["process_running_count"])
	assert.Equal(t, 2, f["process_sleeping_count"])
	assert.Equal(t, 1, f["process_zombie_count"])

	p = NewProcess(true, fakeStates{err: errors.New("denied")})
	_, err = p.Collect(context.Background())
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "process", ce.Collector)
}

func TestPing(t *testing.T) {
	tests := []struct {
		name   string
		result pingResult
		err    error
		want   models.Fields
	}{
		{
			name:   "reachable",
			result: pingResult{sent: 3, recv: 3, avgRtt: 1500 * time.Microsecond},
			want:   models.Fields{"ping_success": true, "ping_packet_loss": 0.0, "ping_latency_ms": 1.5},
		},
		{
			name:   "partial loss",
			result: pingResult{sent: 4, recv: 3, avgRtt: 2 * time.Millisecond, lossPct: 25},
			want:   models.Fields{"ping_success": true, "ping_packet_loss": 0.25, "ping_latency_ms": 2.0},
		},
		{
			name:   "all lost",
			result: pingResult{sent: 3, lossPct: 100},
			want:   models.Fields{"ping_success": false, "ping_packet_loss": 1.0},
		},
		{
			name: "run error",
			err:  errors.New("socket: operation not permitted"),
			want: models.Fields{"ping_success": false, "ping_packet_loss": 1.0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPing(true, "192.0.2.1", 3, time.Second)
			p.run = func(context.Context, string, int, time.Duration) (pingResult, error) {
				return tt.result, tt.err
			}
			got, err := p.Collect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPing_SetupErrorFails(t *testing.T) {
	p := NewPing(true, "no-such-host.invalid", 1, time.Second)
	p.run = func(context.Context, string, int, time.Duration) (pingResult, error) {
		return pingResult{}, &pingSetupError{err: errors.New("lookup failed")}
	}

	_, err := p.Collect(context.Background())
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ping", ce.Collector)
}

func TestPing_DisabledWithoutTarget(t *testing.T) {
	if NewPing(true, "", 0, 0).Enabled() {
		t.Error("Enabled() = true with empty target, want false")
	}
	if !NewPing(true, "1.1.1.1", 0, 0).Enabled() {
		t.Error("Enabled() = false with target, want true")
	}
}
