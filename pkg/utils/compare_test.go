package utils

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func jobStream() nats.StreamConfig {
	return nats.StreamConfig{
		Name:       "WASPREAD_JOBS",
		Subjects:   []string{"jobs.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.WorkQueuePolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 48 * time.Hour,
	}
}

func TestStreamConfigEqual(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*nats.StreamConfig)
		equal  bool
	}{
		{"identical", func(*nats.StreamConfig) {}, true},
		{"description is ignored", func(c *nats.StreamConfig) { c.Description = "jobs" }, true},
		{"name", func(c *nats.StreamConfig) { c.Name = "OTHER" }, false},
		{"retention", func(c *nats.StreamConfig) { c.Retention = nats.LimitsPolicy }, false},
		{"storage", func(c *nats.StreamConfig) { c.Storage = nats.MemoryStorage }, false},
		{"max age", func(c *nats.StreamConfig) { c.MaxAge = time.Hour }, false},
		{"dedupe window", func(c *nats.StreamConfig) { c.Duplicates = time.Minute }, false},
		{"extra subject", func(c *nats.StreamConfig) { c.Subjects = append(c.Subjects, "v1.>") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := jobStream()
			tt.mutate(&existing)
			assert.Equal(t, tt.equal, StreamConfigEqual(existing, jobStream()))
		})
	}

	// Server-assigned dedupe window when none is requested.
	desired := jobStream()
	desired.Duplicates = 0
	assert.True(t, StreamConfigEqual(jobStream(), desired))
}

func gatewayConsumer() nats.ConsumerConfig {
	return nats.ConsumerConfig{
		Durable:        "waspread-gateway",
		FilterSubjects: []string{"v1.messages.upsert.*", "v1.messages.update.*"},
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        30 * time.Second,
		MaxDeliver:     5,
		DeliverSubject: "_INBOX.a",
	}
}

func TestConsumerConfigEqual(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*nats.ConsumerConfig)
		equal  bool
	}{
		{"identical", func(*nats.ConsumerConfig) {}, true},
		{"fresh inbox is ignored", func(c *nats.ConsumerConfig) { c.DeliverSubject = "_INBOX.b" }, true},
		{"durable", func(c *nats.ConsumerConfig) { c.Durable = "other" }, false},
		{"ack policy", func(c *nats.ConsumerConfig) { c.AckPolicy = nats.AckAllPolicy }, false},
		{"filter subjects", func(c *nats.ConsumerConfig) { c.FilterSubjects = c.FilterSubjects[:1] }, false},
		{"max deliver", func(c *nats.ConsumerConfig) { c.MaxDeliver = -1 }, false},
		{"ack wait", func(c *nats.ConsumerConfig) { c.AckWait = time.Minute }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := gatewayConsumer()
			tt.mutate(&existing)
			assert.Equal(t, tt.equal, ConsumerConfigEqual(existing, gatewayConsumer()))
		})
	}
}
