//go:build windows

// Package files holds OS-specific filesystem helpers the rest of the
// control plane can't get from the standard library alone.
package files

import (
	"fmt"
	"syscall"
	"unsafe"
)

// AvailableBytes returns the free disk space at path, in bytes, usable by
// the calling user.
func AvailableBytes(path string) (int64, error) {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpaceEx := kernel32.NewProc("GetDiskFreeSpaceExW")

	var freeBytesAvailable, totalNumberOfBytes, totalNumberOfFreeBytes int64

	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return 0, fmt.Errorf("failed to convert path to UTF16: %w", err)
	}

	ret, _, err := getDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		uintptr(unsafe.Pointer(&totalNumberOfBytes)),
		uintptr(unsafe.Pointer(&totalNumberOfFreeBytes)),
	)

	if ret == 0 {
		return 0, fmt.Errorf("failed to get disk stats for %s: %w", path, err)
	}

	return freeBytesAvailable, nil
}