//go:build !linux

package platform

import "os"

// Preallocate is a no-op where fallocate is unavailable.
func Preallocate(_ *os.File, _ int64) {}
