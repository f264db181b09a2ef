package autoreply

import (
	"fmt"
	"time"
)

// clockMinutes parses "HH:MM" into minutes after midnight.
func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// WithinWorkingHours reports whether now falls inside [start, end] in loc. A window whose
// start is after its end wraps midnight.
func WithinWorkingHours(start, end string, loc *time.Location, now time.Time) (bool, error) {
	from, err := clockMinutes(start)
	if err != nil {
		return false, err
	}
	to, err := clockMinutes(end)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	m := local.Hour()*60 + local.Minute()
	if from <= to {
		return m >= from && m <= to, nil
	}
	return m >= from || m <= to, nil
}

// location resolves a tenant timezone, falling back to def and then UTC.
func location(name, def string) *time.Location {
	for _, n := range []string{name, def} {
		if n == "" {
			continue
		}
		if loc, err := time.LoadLocation(n); err == nil {
			return loc
		}
	}
	return time.UTC
}
