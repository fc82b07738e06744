//go:build !linux

package platform

// CopyRange copies with read/write on platforms without copy_file_range.
func CopyRange(p RangeParams) (CopyResult, error) {
	return copyReadWrite(p)
}
