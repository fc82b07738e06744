package filter

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = map[byte]int64{
	'B': 1,
	'K': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
	'T': 1 << 40,
}

// ParseSize parses sizes like 100, 512K, 1.5G or 2MiB into bytes. Units are
// powers of 1024; a trailing "iB" is accepted.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	num := strings.TrimSuffix(s, "IB")
	if num == "" {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	mult := int64(1)
	if m, ok := sizeUnits[num[len(num)-1]]; ok {
		mult = m
		num = num[:len(num)-1]
	} else if num != s {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	if num == "" {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	if n, err := strconv.ParseInt(num, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size: %q", s)
		}
		return n * mult, nil
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	return int64(f * float64(mult)), nil
}
