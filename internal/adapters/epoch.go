package adapters

import (
	"fmt"
	"strconv"
	"time"
)

// FormatEpoch renders t as the wire cursor: Unix seconds in decimal.
// The zero time renders as "" (no cursor).
func FormatEpoch(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

// ParseEpoch is the inverse of FormatEpoch.
func ParseEpoch(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse epoch %q: %w", s, err)
	}
	return EpochTime(n), nil
}

// EpochTime converts wire seconds to a time; 0 is the zero time.
func EpochTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// Epoch converts t to wire seconds; the zero time is 0.
func Epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
