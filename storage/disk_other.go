//go:build !linux

package storage

import "errors"

func DiskUsage(path string) (DiskStats, error) {
	return DiskStats{Path: path}, errors.New("disk usage is only reported on linux")
}
