package utils

import (
	"slices"

	"github.com/nats-io/nats.go"
)

// StreamConfigEqual reports whether an existing stream already matches the desired config on
// the fields the services set. Duplicates matters for the job stream, whose dedupe window backs
// job-id idempotency.
func StreamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Retention == b.Retention &&
		a.Storage == b.Storage &&
		a.MaxMsgs == b.MaxMsgs &&
		a.MaxAge == b.MaxAge &&
		(b.Duplicates == 0 || a.Duplicates == b.Duplicates) &&
		slices.Equal(a.Subjects, b.Subjects)
}

// ConsumerConfigEqual is the consumer counterpart of StreamConfigEqual. A zero AckWait on the
// desired side means the server default and is not compared.
func ConsumerConfigEqual(a, b nats.ConsumerConfig) bool {
	return a.Durable == b.Durable &&
		a.AckPolicy == b.AckPolicy &&
		a.FilterSubject == b.FilterSubject &&
		slices.Equal(a.FilterSubjects, b.FilterSubjects) &&
		a.MaxDeliver == b.MaxDeliver &&
		(b.AckWait == 0 || a.AckWait == b.AckWait)
}
