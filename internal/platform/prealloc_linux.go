//go:build linux

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// Preallocate reserves disk space for size bytes. It is advisory: errors
// are ignored because not every filesystem supports fallocate.
//
//nolint:gosec // G115: fd values are small non-negative integers
func Preallocate(f *os.File, size int64) {
	if size <= 0 {
		return
	}
	//nolint:errcheck // advisory
	unix.Fallocate(int(f.Fd()), 0, 0, size)
}
