// Package hostinfo gathers the descriptive host data sent at
// registration and detects whether the agent runs inside a container.
package hostinfo

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"runtime"
	"slices"
	"strings"
	"unicode"

	"github.com/HerbHall/hostagent/pkg/models"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"go.uber.org/zap"
)

// AutoDetect as the configured hostname means "use the OS hostname".
const AutoDetect = "auto-detect"

// DockerModeEnv forces container mode when set to "true".
const DockerModeEnv = "HOSTAGENT_DOCKER_MODE"

// Describer builds the registration payload from the running host.
type Describer struct {
	info       func(ctx context.Context) (*host.InfoStat, error)
	interfaces func(ctx context.Context) (net.InterfaceStatList, error)
	memory     func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	cpus       func(ctx context.Context, logical bool) (int, error)
	hostname   func() (string, error)
}

// NewDescriber returns a Describer backed by gopsutil.
func NewDescriber() *Describer {
	return &Describer{
		info:       host.InfoWithContext,
		interfaces: net.InterfacesWithContext,
		memory:     mem.VirtualMemoryWithContext,
		cpus:       cpu.CountsWithContext,
		hostname:   os.Hostname,
	}
}

// Describe returns the registration data for this host. A non-empty
// hostnameOverride other than AutoDetect replaces the OS hostname.
func (d *Describer) Describe(ctx context.Context, hostnameOverride string) (models.HostRegistration, error) {
	info, err := d.info(ctx)
	if err != nil {
		return models.HostRegistration{}, fmt.Errorf("read host info: %w", err)
	}

	hostname := hostnameOverride
	if hostname == "" || hostname == AutoDetect {
		hostname = info.Hostname
		if hostname == "" {
			if hostname, err = d.hostname(); err != nil {
				return models.HostRegistration{}, fmt.Errorf("read hostname: %w", err)
			}
		}
	}

	reg := models.HostRegistration{
		Hostname:  hostname,
		OS:        strings.TrimSpace(capitalize(info.OS) + " " + info.KernelVersion),
		OSVersion: strings.TrimSpace(info.Platform + " " + info.PlatformVersion),
		Metadata: models.HostMetadata{
			Platform: runtime.GOOS,
			Arch:     runtime.GOARCH,
			CPUs:     runtime.NumCPU(),
		},
	}

	if n, err := d.cpus(ctx, true); err == nil && n > 0 {
		reg.Metadata.CPUs = n
	}
	if vm, err := d.memory(ctx); err == nil {
		reg.Metadata.TotalMemory = vm.Total
	}
	if ifaces, err := d.interfaces(ctx); err == nil {
		reg.IPAddress = firstIPv4(ifaces)
	}
	return reg, nil
}

// firstIPv4 returns the first non-loopback IPv4 address of an up
// interface, or "".
func firstIPv4(ifaces net.InterfaceStatList) string {
	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") {
			continue
		}
		if len(iface.Flags) > 0 && !slices.Contains(iface.Flags, "up") {
			continue
		}
		for _, a := range iface.Addrs {
			prefix, err := netip.ParsePrefix(a.Addr)
			var addr netip.Addr
			if err == nil {
				addr = prefix.Addr()
			} else if addr, err = netip.ParseAddr(a.Addr); err != nil {
				continue
			}
			if addr.Is4() && !addr.IsLoopback() {
				return addr.String()
			}
		}
	}
	return ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// DetectContainer reports whether the agent runs inside a container:
// /.dockerenv exists or HOSTAGENT_DOCKER_MODE is "true".
func DetectContainer(logger *zap.Logger) bool {
	return detectContainer(fileExists, os.Getenv, logger)
}

func detectContainer(exists func(string) bool, getenv func(string) string, logger *zap.Logger) bool {
	if !exists("/.dockerenv") && getenv(DockerModeEnv) != "true" {
		return false
	}
	logger.Info("running in container mode")
	if !exists("/proc/1/cgroup") {
		logger.Warn("/proc/1/cgroup not readable; host metrics may describe the container instead of the host")
	}
	return true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
