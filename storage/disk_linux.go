//go:build linux

package storage

import "golang.org/x/sys/unix"

// DiskUsage reports filesystem capacity for the volume holding path.
func DiskUsage(path string) (DiskStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskStats{}, err
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bavail * bsize
	return DiskStats{
		Path:       path,
		TotalBytes: total,
		FreeBytes:  free,
		UsedBytes:  total - st.Bfree*bsize,
	}, nil
}
