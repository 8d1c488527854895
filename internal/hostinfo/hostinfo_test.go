package hostinfo

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestDescriber() *Describer {
	return &Describer{
		info: func(context.Context) (*host.InfoStat, error) {
			return &host.InfoStat{
				Hostname:        "web-01",
				OS:              "linux",
				KernelVersion:   "6.8.0-45-generic",
				Platform:        "ubuntu",
				PlatformVersion: "24.04",
			}, nil
		},
		interfaces: func(context.Context) (net.InterfaceStatList, error) {
			return net.InterfaceStatList{
				{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: []net.InterfaceAddr{{Addr: "127.0.0.1/8"}}},
				{Name: "eth1", Flags: []string{"broadcast"}, Addrs: []net.InterfaceAddr{{Addr: "10.9.9.9/24"}}},
				{Name: "eth0", Flags: []string{"up", "broadcast"}, Addrs: []net.InterfaceAddr{
					{Addr: "fe80::1/64"},
					{Addr: "192.168.1.20/24"},
				}},
			}, nil
		},
		memory: func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Total: 16 << 30}, nil
		},
		cpus:     func(context.Context, bool) (int, error) { return 8, nil },
		hostname: func() (string, error) { return "os-hostname", nil },
	}
}

func TestDescribe(t *testing.T) {
	reg, err := newTestDescriber().Describe(context.Background(), AutoDetect)
	require.NoError(t, err)

	assert.Equal(t, "web-01", reg.Hostname)
	assert.Equal(t, "192.168.1.20", reg.IPAddress)
	assert.Equal(t, "Linux 6.8.0-45-generic", reg.OS)
	assert.Equal(t, "ubuntu 24.04", reg.OSVersion)
	assert.Equal(t, runtime.GOOS, reg.Metadata.Platform)
	assert.Equal(t, runtime.GOARCH, reg.Metadata.Arch)
	assert.Equal(t, 8, reg.Metadata.CPUs)
	assert.Equal(t, uint64(16<<30), reg.Metadata.TotalMemory)
}

func TestDescribe_HostnameOverride(t *testing.T) {
	reg, err := newTestDescriber().Describe(context.Background(), "custom-name")
	require.NoError(t, err)
	assert.Equal(t, "custom-name", reg.Hostname)
}

func TestDescribe_FallsBackToOSHostname(t *testing.T) {
	d := newTestDescriber()
	d.info = func(context.Context) (*host.InfoStat, error) { return &host.InfoStat{OS: "linux"}, nil }

	reg, err := d.Describe(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "os-hostname", reg.Hostname)
}

func TestDescribe_OptionalLeavesMayFail(t *testing.T) {
	d := newTestDescriber()
	d.interfaces = func(context.Context) (net.InterfaceStatList, error) { return nil, errors.New("denied") }
	d.memory = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, errors.New("denied") }
	d.cpus = func(context.Context, bool) (int, error) { return 0, errors.New("denied") }

	reg, err := d.Describe(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, reg.IPAddress)
	assert.Zero(t, reg.Metadata.TotalMemory)
	assert.Equal(t, runtime.NumCPU(), reg.Metadata.CPUs)
}

func TestDescribe_HostInfoFailure(t *testing.T) {
	d := newTestDescriber()
	d.info = func(context.Context) (*host.InfoStat, error) { return nil, errors.New("no /etc/os-release") }

	_, err := d.Describe(context.Background(), "")
	assert.ErrorContains(t, err, "read host info")
}

func TestDetectContainer(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]bool
		env       string
		want      bool
		wantWarns int
	}{
		{"bare host", map[string]bool{"/proc/1/cgroup": true}, "", false, 0},
		{"dockerenv", map[string]bool{"/.dockerenv": true, "/proc/1/cgroup": true}, "", true, 0},
		{"env override", map[string]bool{"/proc/1/cgroup": true}, "true", true, 0},
		{"env must be true", map[string]bool{}, "1", false, 0},
		{"no cgroup warns", map[string]bool{"/.dockerenv": true}, "", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			got := detectContainer(
				func(p string) bool { return tt.files[p] },
				func(string) string { return tt.env },
				zap.New(core),
			)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantWarns, logs.Len())
		})
	}
}
