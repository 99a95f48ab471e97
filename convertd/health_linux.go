//go:build linux

package convertd

import "golang.org/x/sys/unix"

func memoryStats() (*sysStats, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return nil, err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(si.Totalram) * unit
	free := (uint64(si.Freeram) + uint64(si.Bufferram)) * unit
	var pct float64
	if total > 0 {
		pct = float64(total-free) / float64(total) * 100
	}
	return &sysStats{Total: total, Available: free, PercentUsed: pct}, nil
}

func diskStats(path string) (*sysStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, err
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	avail := st.Bavail * bsize
	var pct float64
	if total > 0 {
		pct = float64(total-avail) / float64(total) * 100
	}
	return &sysStats{Total: total, Available: avail, PercentUsed: pct}, nil
}
