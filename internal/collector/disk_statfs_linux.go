//go:build linux

package collector

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func statfsUsage(path string) (usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bfree * bsize
	return usage{
		total: total,
		used:  total - free,
		free:  st.Bavail * bsize,
	}, nil
}
