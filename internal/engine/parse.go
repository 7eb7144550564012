package engine

import (
	"strconv"
	"strings"
)

// ParsePrice converts a raw price string from a signal payload into a
// float. Upstream sources produce display strings, so currency symbols,
// thousands separators and stray whitespace are stripped before parsing.
// The second return value is false when no usable number remains; callers
// treat that as a silent no-op, never an error.
func ParsePrice(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseClockMinutes parses "HH:MM" into minutes since midnight.
func parseClockMinutes(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
