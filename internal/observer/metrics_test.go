package observer

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorType(t *testing.T) {
	testCases := map[string]string{
		"":                                 "none",
		"database error: connection reset": "database",
		"validation failed: phone":         "validation",
		"resource not found":               "not_found",
		"nats communication error":         "nats",
		"context deadline exceeded":        "timeout",
		"json: cannot unmarshal":           "unmarshal",
		"something odd":                    "unknown",
	}
	for in, want := range testCases {
		assert.Equal(t, want, SanitizeErrorType(in), in)
	}
}

func TestSanitizeTenant(t *testing.T) {
	assert.Equal(t, "unknown", sanitizeTenant(""))
	assert.Equal(t, "t1", sanitizeTenant("t1"))
}

func TestCountersRespectEnabledFlag(t *testing.T) {
	t.Cleanup(func() { InitMetrics(true) })

	InitMetrics(true)
	before := testutil.ToFloat64(sendOutcomesTotal.WithLabelValues("campaign", "metrics-tenant", "SENT"))
	IncSendOutcome("campaign", "metrics-tenant", "SENT")
	assert.Equal(t, before+1, testutil.ToFloat64(sendOutcomesTotal.WithLabelValues("campaign", "metrics-tenant", "SENT")))

	InitMetrics(false)
	IncSendOutcome("campaign", "metrics-tenant", "SENT")
	assert.Equal(t, before+1, testutil.ToFloat64(sendOutcomesTotal.WithLabelValues("campaign", "metrics-tenant", "SENT")))
}

func TestObserveDbOperationDuration(t *testing.T) {
	InitMetrics(true)
	ObserveDbOperationDuration("find", "campaign", "metrics-tenant", 5*time.Millisecond, nil)
	ObserveDbOperationDuration("find", "campaign", "metrics-tenant", 5*time.Millisecond, errors.New("boom"))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(DatabaseOperationDurationSeconds), 2)
}
