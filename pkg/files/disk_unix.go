//go:build !windows

// Package files holds OS-specific filesystem helpers the rest of the
// control plane can't get from the standard library alone.
package files

import (
	"fmt"
	"syscall"
)

// AvailableBytes returns the free disk space at path, in bytes, usable by
// the calling user (Bavail, not the root-reserved Bfree).
func AvailableBytes(path string) (int64, error) {
	var stat syscall.Statfs_t

	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to get disk stats for %s: %w", path, err)
	}

	return int64(stat.Bavail) * int64(stat.Bsize), nil
}