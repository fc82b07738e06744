package platform

import (
	"io"
	"sync"
)

const bufferSize = 1 << 20 // 1 MiB

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// copyReadWrite copies with positioned reads and writes through a pooled
// buffer, leaving both file offsets untouched.
func copyReadWrite(p RangeParams) (CopyResult, error) {
	bufp := bufPool.Get().(*[]byte) //nolint:errcheck,forcetypeassert // pool only holds *[]byte
	defer bufPool.Put(bufp)
	buf := *bufp

	roff, woff := p.SrcOffset, p.DstOffset
	remaining := p.Length

	var total int64
	for remaining > 0 {
		n, err := p.Src.ReadAt(buf[:min(remaining, bufferSize)], roff)
		if n > 0 {
			if _, werr := p.Dst.WriteAt(buf[:n], woff); werr != nil {
				return CopyResult{BytesWritten: total, Method: ReadWrite}, werr
			}
			roff += int64(n)
			woff += int64(n)
			remaining -= int64(n)
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return CopyResult{BytesWritten: total, Method: ReadWrite}, err
		}
	}
	return CopyResult{BytesWritten: total, Method: ReadWrite}, nil
}

// CopyReadWrite forces the portable path. Tests use it to cover the
// fallback on systems where copy_file_range always succeeds.
func CopyReadWrite(p RangeParams) (CopyResult, error) {
	return copyReadWrite(p)
}
