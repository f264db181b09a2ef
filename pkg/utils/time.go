package utils

import "time"

// msThreshold separates second and millisecond epochs; 1e12 seconds is far past year 33000.
const msThreshold = 1_000_000_000_000

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// UnixToTime converts a gateway epoch to UTC. Gateways send either seconds or milliseconds, so
// values above msThreshold are read as milliseconds. Non-positive values give the zero time.
func UnixToTime(timestamp int64) time.Time {
	switch {
	case timestamp <= 0:
		return time.Time{}
	case timestamp >= msThreshold:
		return time.UnixMilli(timestamp).UTC()
	default:
		return time.Unix(timestamp, 0).UTC()
	}
}

// FormatISO8601 formats t as RFC 3339 in UTC.
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
