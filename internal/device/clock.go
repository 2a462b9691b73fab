package device

import (
	"encoding/json"
	"math"
	"time"
)

// Clock returns the current instant. Tests substitute a fixed or stepping clock.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Bounds accepted by ParseUnixSeconds: the unix epoch through the end of year 9999.
var (
	MinTimestamp = time.Unix(0, 0).UTC()
	MaxTimestamp = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)
)

// InRange reports whether t lies within [MinTimestamp, MaxTimestamp].
func InRange(t time.Time) bool {
	return !t.Before(MinTimestamp) && !t.After(MaxTimestamp)
}

// ParseUnixSeconds converts a decoded JSON value holding unix seconds (integer
// or fractional) into a UTC time. It reports false for anything non-numeric,
// including NaN and infinities, and for instants outside InRange such as
// millisecond timestamps.
func ParseUnixSeconds(v any) (time.Time, bool) {
	t, ok := parseUnixSeconds(v)
	if !ok || !InRange(t) {
		return time.Time{}, false
	}
	return t, true
}

func parseUnixSeconds(v any) (time.Time, bool) {
	var secs float64
	switch n := v.(type) {
	case float64:
		secs = n
	case float32:
		secs = float64(n)
	case int:
		return time.Unix(int64(n), 0).UTC(), true
	case int64:
		return time.Unix(n, 0).UTC(), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return time.Unix(i, 0).UTC(), true
		}
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	default:
		return time.Time{}, false
	}

	if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > math.MaxInt64/2 {
		return time.Time{}, false
	}

	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), true
}
