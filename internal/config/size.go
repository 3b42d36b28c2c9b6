package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Byte size units.
const (
	KB int64 = 1024
	MB       = 1024 * KB
	GB       = 1024 * MB
)

// ParseSize parses a byte size like "64KB", "1.5 MB" or "4096". Units are
// binary and case-insensitive; no unit means bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	num, unit := s, ""
	if i >= 0 {
		num, unit = s[:i], strings.TrimSpace(s[i:])
	}

	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}

	var mult int64
	switch strings.ToUpper(unit) {
	case "", "B":
		mult = 1
	case "K", "KB", "KI", "KIB":
		mult = KB
	case "M", "MB", "MI", "MIB":
		mult = MB
	case "G", "GB", "GI", "GIB":
		mult = GB
	default:
		return 0, fmt.Errorf("unknown unit: %q", unit)
	}
	return int64(value * float64(mult)), nil
}
