// Package bytefmt renders and parses the byte-count sizes used throughout
// the CLI flags and log output: final size, block size, and progress
// counters.
package bytefmt

import (
	"fmt"
	"strconv"
	"strings"
)

// ToString renders n as a short human-readable size: raw bytes below one
// KiB, otherwise repeatedly divided by 1024 until below that threshold and
// reported in KiB.
func ToString(n float64) string {
	if n < 1024 {
		return fmt.Sprintf("%.0fB", n)
	}
	v := n / 1024
	for v >= 1024 {
		v /= 1024
	}
	return fmt.Sprintf("%.2fKiB", v)
}

// ParseSize parses a size flag value per §6: a plain integer is bytes, a
// trailing k/K multiplies by 1024, a trailing m/M multiplies by 1024*1024.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	numPart := s
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1024
		numPart = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		numPart = s[:len(s)-1]
	}
	numPart = strings.TrimSpace(numPart)
	v, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return v * mult, nil
}
