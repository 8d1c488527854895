package collector

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/HerbHall/hostagent/pkg/models"
	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"
)

// minRealFilesystem is the size below which a filesystem is treated as
// a pseudo or scratch mount and left out of usage totals.
const minRealFilesystem = 100 * 1024 * 1024

// RootFSPath is where the host root is bind-mounted when the agent runs
// inside a container.
const RootFSPath = "/rootfs"

// usage is the aggregated capacity of the counted filesystems.
type usage struct {
	total, used, free uint64
}

// Disk reports filesystem usage and whole-disk I/O throughput.
type Disk struct {
	enabled     bool
	mountPoints []string
	rootfs      string
	logger      *zap.Logger

	partitions func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
	ioCounters func(ctx context.Context, names ...string) (map[string]disk.IOCountersStat, error)
	statfs     func(path string) (usage, error)

	rates *deltaRate
}

var _ Collector = (*Disk)(nil)

// NewDisk creates the disk collector. In container mode with the host
// root mounted at RootFSPath, usage is read from that mount instead of
// the container's own partitions.
func NewDisk(enabled bool, mountPoints []string, containerMode bool, logger *zap.Logger) *Disk {
	d := &Disk{
		enabled:     enabled,
		mountPoints: mountPoints,
		logger:      logger,
		partitions:  disk.PartitionsWithContext,
		usage:       disk.UsageWithContext,
		ioCounters:  disk.IOCountersWithContext,
		statfs:      statfsUsage,
		rates:       newDeltaRate(time.Now),
	}
	if containerMode {
		if _, err := os.Stat(RootFSPath); err == nil {
			d.rootfs = RootFSPath
		}
	}
	return d
}

func (d *Disk) Name() string  { return "disk" }
func (d *Disk) Enabled() bool { return d.enabled }

func (d *Disk) Collect(ctx context.Context) (models.Fields, error) {
	u, err := d.readUsage(ctx)
	if err != nil {
		return nil, newError(d.Name(), err)
	}
	io, err := d.ioCounters(ctx)
	if err != nil {
		return nil, newError(d.Name(), fmt.Errorf("read disk io counters: %w", err))
	}

	fields := models.Fields{}
	if u.total > 0 {
		fields["disk_usage_percent"] = percent(u.used, u.total)
		fields["disk_used_bytes"] = u.used
		fields["disk_total_bytes"] = u.total
		fields["disk_free_bytes"] = u.free
	}

	rates := d.rates.observe(sumDiskIO(io))
	for name, v := range rates {
		fields[name] = v
	}
	return fields, nil
}

func (d *Disk) readUsage(ctx context.Context) (usage, error) {
	if d.rootfs != "" {
		u, err := d.statfs(d.rootfs)
		if err == nil {
			return u, nil
		}
		d.logger.Warn("statfs on host root failed, falling back to partitions",
			zap.String("path", d.rootfs),
			zap.Error(err),
		)
	}

	parts, err := d.partitions(ctx, false)
	if err != nil {
		return usage{}, fmt.Errorf("list partitions: %w", err)
	}

	var counted, all usage
	seen := make(map[string]bool)
	for _, p := range parts {
		if len(d.mountPoints) > 0 && !slices.Contains(d.mountPoints, p.Mountpoint) {
			continue
		}
		// Bind mounts of the same device would be counted twice.
		if seen[p.Device] {
			continue
		}
		s, err := d.usage(ctx, p.Mountpoint)
		if err != nil {
			d.logger.Debug("skipping unreadable filesystem",
				zap.String("mountpoint", p.Mountpoint),
				zap.Error(err),
			)
			continue
		}
		seen[p.Device] = true

		all.add(s)
		if isRealFilesystem(p, s) {
			counted.add(s)
		}
	}

	if counted.total > 0 {
		return counted, nil
	}
	return all, nil
}

func (u *usage) add(s *disk.UsageStat) {
	u.total += s.Total
	u.used += s.Used
	u.free += s.Free
}

func isRealFilesystem(p disk.PartitionStat, s *disk.UsageStat) bool {
	if s.Total <= minRealFilesystem {
		return false
	}
	return !strings.Contains(p.Fstype, "tmpfs") && !strings.Contains(p.Device, "tmpfs")
}

var partitionSuffix = regexp.MustCompile(`^(.*\d)p\d+$|^(.*\D)\d+$`)

// sumDiskIO sums counters across whole disks. Loop and ram devices are
// ignored, as are partitions whose parent disk is also reported.
func sumDiskIO(io map[string]disk.IOCountersStat) map[string]uint64 {
	var readBytes, writeBytes, readOps, writeOps uint64
	for name, c := range io {
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") {
			continue
		}
		if parent := parentDevice(name); parent != "" {
			if _, ok := io[parent]; ok {
				continue
			}
		}
		readBytes += c.ReadBytes
		writeBytes += c.WriteBytes
		readOps += c.ReadCount
		writeOps += c.WriteCount
	}
	return map[string]uint64{
		"disk_read_bytes":   readBytes,
		"disk_write_bytes":  writeBytes,
		"disk_io_read_ops":  readOps,
		"disk_io_write_ops": writeOps,
	}
}

// parentDevice returns the disk a partition name belongs to, e.g.
// sda1 -> sda and nvme0n1p2 -> nvme0n1, or "" when name has no
// partition suffix.
func parentDevice(name string) string {
	m := partitionSuffix.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
