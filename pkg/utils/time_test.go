package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	now := Now()
	assert.WithinDuration(t, time.Now(), now, 50*time.Millisecond)
	assert.Equal(t, time.UTC, now.Location())
}

func TestUnixToTime(t *testing.T) {
	want := time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name      string
		timestamp int64
		expected  time.Time
	}{
		{"seconds", want.Unix(), want},
		{"milliseconds", want.UnixMilli() + 250, want.Add(250 * time.Millisecond)},
		{"zero", 0, time.Time{}},
		{"negative", -1, time.Time{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, UnixToTime(tc.timestamp))
		})
	}
}

func TestFormatISO8601(t *testing.T) {
	wib := time.FixedZone("WIB", 7*60*60)
	assert.Equal(t, "2024-04-01T02:30:00Z", FormatISO8601(time.Date(2024, 4, 1, 9, 30, 0, 0, wib)))
	assert.Equal(t, "2024-04-01T09:30:00Z", FormatISO8601(time.Date(2024, 4, 1, 9, 30, 0, 999, time.UTC)))
}
