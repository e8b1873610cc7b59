// Package timestamp normalizes time handling around int64 Unix
// milliseconds so event times, replay positions, and record audit
// fields share one representation.
//
// A value of 0 means "not set". Every function treats zero as absent
// rather than as the epoch: conversions return zero values and
// arithmetic passes the zero through.
//
//	now := timestamp.Now()
//	t := timestamp.FromUnixMs(ts)
//	display := timestamp.Format(ts)
//
//	// Caller-supplied replay positions arrive as RFC3339 strings,
//	// epoch seconds, or epoch milliseconds; Parse accepts all three.
//	ts := timestamp.Parse("2023-01-01T12:00:00Z")
//	ts := timestamp.Parse(1672574400000)
package timestamp

import (
	"fmt"
	"strconv"
	"time"
)

// Numeric inputs above this are epoch milliseconds, below it epoch
// seconds. The cutover sits at year 2001 in seconds and 2286 in
// milliseconds, far outside any value the gateway handles.
const secondsCutoff = int64(1e12)

// maxValid rejects timestamps past year 3000.
const maxValid = int64(32503680000000)

// Now returns the current time in Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time, mapping the zero time to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds, mapping 0 to the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders a timestamp as RFC3339 in UTC, or "" when unset.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func fromNumeric(v int64) int64 {
	switch {
	case v == 0:
		return 0
	case v > secondsCutoff:
		return v
	default:
		return v * 1000
	}
}

// Parse coerces a caller-supplied value to Unix milliseconds. It
// accepts integers and floats (seconds or milliseconds, decided by
// magnitude), RFC3339 or numeric strings, and time.Time values.
// Anything unparseable comes back as 0, the unset value.
func Parse(input any) int64 {
	switch v := input.(type) {
	case nil:
		return 0

	case int64:
		return fromNumeric(v)

	case int:
		return fromNumeric(int64(v))

	case int32:
		return fromNumeric(int64(v))

	case float64:
		if v == 0 {
			return 0
		}
		if v > float64(secondsCutoff) {
			return int64(v)
		}
		return int64(v * 1000)

	case string:
		if v == "" {
			return 0
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return ToUnixMs(t)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return fromNumeric(n)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return Parse(f)
		}
		return 0

	case time.Time:
		return ToUnixMs(v)

	case *time.Time:
		if v == nil {
			return 0
		}
		return ToUnixMs(*v)

	default:
		return 0
	}
}

// IsZero reports whether a timestamp is unset.
func IsZero(ms int64) bool {
	return ms == 0
}

// Since returns how long ago the timestamp was, or 0 when unset.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(ms))
}

// Add offsets a timestamp by a duration. An unset timestamp stays
// unset.
func Add(ms int64, d time.Duration) int64 {
	if ms == 0 {
		return 0
	}
	return time.UnixMilli(ms).Add(d).UnixMilli()
}

// Validate rejects negative timestamps and values past year 3000.
func Validate(ms int64) error {
	if ms < 0 {
		return fmt.Errorf("timestamp cannot be negative: %d", ms)
	}
	if ms > maxValid {
		return fmt.Errorf("timestamp too far in future: %d", ms)
	}
	return nil
}
