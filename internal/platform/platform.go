// Package platform wraps the kernel copy and allocation primitives used when
// writing shard files.
package platform

import "os"

// CopyMethod identifies which strategy performed a copy.
type CopyMethod int

const (
	ReadWrite     CopyMethod = iota
	CopyFileRange            // Linux copy_file_range(2)
)

func (m CopyMethod) String() string {
	switch m {
	case ReadWrite:
		return "read_write"
	case CopyFileRange:
		return "copy_file_range"
	default:
		return "unknown"
	}
}

// CopyResult reports the outcome of a copy.
type CopyResult struct {
	BytesWritten int64
	Method       CopyMethod
}

// RangeParams copies Length bytes from Src at SrcOffset to Dst at
// DstOffset. Dst must not be opened with O_APPEND.
type RangeParams struct {
	Src       *os.File
	SrcOffset int64
	Dst       *os.File
	DstOffset int64
	Length    int64
}
