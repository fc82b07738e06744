//go:build linux

package platform

import (
	"errors"

	"golang.org/x/sys/unix"
)

// CopyRange uses copy_file_range and falls back to read/write when the
// filesystem pair does not support it.
func CopyRange(p RangeParams) (CopyResult, error) {
	result, err := copyFileRange(p)
	if err == nil || !isFallbackErr(err) || result.BytesWritten > 0 {
		return result, err
	}
	return copyReadWrite(p)
}

//nolint:gosec // G115: fd values are small non-negative integers
func copyFileRange(p RangeParams) (CopyResult, error) {
	roff := p.SrcOffset
	woff := p.DstOffset
	remaining := p.Length

	var total int64
	for remaining > 0 {
		n, err := unix.CopyFileRange(int(p.Src.Fd()), &roff, int(p.Dst.Fd()), &woff, int(min(remaining, 1<<30)), 0)
		if err != nil {
			return CopyResult{BytesWritten: total, Method: CopyFileRange}, err
		}
		if n == 0 {
			break
		}
		remaining -= int64(n)
		total += int64(n)
	}
	return CopyResult{BytesWritten: total, Method: CopyFileRange}, nil
}

func isFallbackErr(err error) bool {
	return errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EXDEV) ||
		errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.EOPNOTSUPP) ||
		errors.Is(err, unix.EBADF)
}
