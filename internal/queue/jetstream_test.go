package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/config"
	jsmock "github.com/Linggaept/backend-waspread-sub001/internal/jetstream/mock"
	"github.com/Linggaept/backend-waspread-sub001/internal/storage/memory"
)

type fakeDelivery struct {
	acked  bool
	termed bool
	nakked time.Duration
	nakN   int
}

func (d *fakeDelivery) Ack(...nats.AckOpt) error { d.acked = true; return nil }

func (d *fakeDelivery) NakWithDelay(delay time.Duration, _ ...nats.AckOpt) error {
	d.nakked = delay
	d.nakN++
	return nil
}

func (d *fakeDelivery) Term(...nats.AckOpt) error { d.termed = true; return nil }

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Stream:        "WA_JOBS",
		SubjectPrefix: "jobs",
		MaxAge:        time.Hour,
		AckWait:       time.Minute,
		FetchBatch:    10,
		PoolSize:      2,
		JobTimeout:    time.Second,
	}
}

func newJetStreamTestQueue(t *testing.T) (*JetStreamQueue, *jsmock.ClientMock, *memory.Store) {
	t.Helper()
	js := new(jsmock.ClientMock)
	js.On("SetupStream", mock.Anything, mock.MatchedBy(func(cfg *nats.StreamConfig) bool {
		return cfg.Name == "WA_JOBS" && cfg.Retention == nats.WorkQueuePolicy && cfg.Subjects[0] == "jobs.>"
	})).Return(nil).Once()

	store := memory.New()
	q, err := NewJetStreamQueue(testQueueConfig(), zap.NewNop(), js, store)
	require.NoError(t, err)
	t.Cleanup(q.pool.Release)
	return q, js, store
}

func encodeJob(t *testing.T, job *Job) []byte {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return data
}

func TestNewJetStreamQueue_StreamSetupFails(t *testing.T) {
	js := new(jsmock.ClientMock)
	js.On("SetupStream", mock.Anything, mock.Anything).Return(errors.New("no jetstream"))

	_, err := NewJetStreamQueue(testQueueConfig(), zap.NewNop(), js, nil)
	assert.Error(t, err)
}

func TestJetStreamQueue_Register(t *testing.T) {
	q, js, _ := newJetStreamTestQueue(t)
	js.On("SetupConsumer", mock.Anything, "WA_JOBS", mock.MatchedBy(func(cfg *nats.ConsumerConfig) bool {
		return cfg.Durable == "jobs_campaign_send_worker" && cfg.FilterSubject == "jobs.campaign-send" && cfg.MaxDeliver == -1
	})).Return(nil).Once()

	noop := func(ctx context.Context, job *Job) error { return nil }
	require.NoError(t, q.Register(CampaignSend, noop))
	assert.ErrorIs(t, q.Register(CampaignSend, noop), apperrors.ErrConflict)
	js.AssertExpectations(t)
}

func TestJetStreamQueue_Enqueue(t *testing.T) {
	q, js, _ := newJetStreamTestQueue(t)
	js.On("Publish", "jobs.campaign-send", mock.Anything, mock.MatchedBy(func(h map[string]string) bool {
		return h[nats.MsgIdHdr] == "msg-1-1" && h["Tenant-Id"] == "t1"
	})).Return(nil).Once()

	id, err := q.Enqueue(context.Background(), CampaignSend, "t1", map[string]string{"message_id": "m"}, Options{JobID: "msg-1", Attempts: 3})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	js.ExpectedCalls = nil
	js.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats down"))
	_, err = q.Enqueue(context.Background(), CampaignSend, "t1", nil, Options{})
	assert.ErrorIs(t, err, apperrors.ErrNATS)
}

func TestJetStreamQueue_Handle(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Success Acks", func(t *testing.T) {
		q, _, _ := newJetStreamTestQueue(t)
		q.now = func() time.Time { return now }
		q.handlers[CampaignSend] = func(ctx context.Context, job *Job) error { return nil }

		d := &fakeDelivery{}
		q.handle(context.Background(), CampaignSend, encodeJob(t, &Job{ID: "j", Queue: CampaignSend, Attempt: 1, MaxAttempts: 3, NotBefore: now}), d)
		assert.True(t, d.acked)
	})

	t.Run("Not Yet Due Naks Remaining Delay", func(t *testing.T) {
		q, _, _ := newJetStreamTestQueue(t)
		q.now = func() time.Time { return now }
		called := false
		q.handlers[CampaignSend] = func(ctx context.Context, job *Job) error { called = true; return nil }

		d := &fakeDelivery{}
		q.handle(context.Background(), CampaignSend, encodeJob(t, &Job{ID: "j", Queue: CampaignSend, Attempt: 1, MaxAttempts: 3, NotBefore: now.Add(15 * time.Second)}), d)
		assert.False(t, called)
		assert.Equal(t, 15*time.Second, d.nakked)
	})

	t.Run("Garbage Terminates", func(t *testing.T) {
		q, _, _ := newJetStreamTestQueue(t)
		d := &fakeDelivery{}
		q.handle(context.Background(), CampaignSend, []byte("{"), d)
		assert.True(t, d.termed)
	})

	t.Run("Failure Republishes Next Attempt", func(t *testing.T) {
		q, js, _ := newJetStreamTestQueue(t)
		q.now = func() time.Time { return now }
		q.handlers[FollowupSend] = func(ctx context.Context, job *Job) error { return errors.New("not ready") }

		var republished Job
		js.On("Publish", "jobs.follow-up-send", mock.Anything, mock.MatchedBy(func(h map[string]string) bool {
			return h[nats.MsgIdHdr] == "j-2"
		})).Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal(args.Get(1).([]byte), &republished))
		}).Return(nil).Once()

		d := &fakeDelivery{}
		q.handle(context.Background(), FollowupSend, encodeJob(t, &Job{ID: "j", Queue: FollowupSend, Attempt: 1, MaxAttempts: 3, Backoff: Exponential(time.Minute), NotBefore: now}), d)
		assert.True(t, d.acked)
		assert.Equal(t, 2, republished.Attempt)
		assert.Equal(t, now.Add(time.Minute), republished.NotBefore)
		js.AssertExpectations(t)
	})

	t.Run("Republish Failure Naks", func(t *testing.T) {
		q, js, _ := newJetStreamTestQueue(t)
		q.now = func() time.Time { return now }
		q.handlers[FollowupSend] = func(ctx context.Context, job *Job) error { return errors.New("not ready") }
		js.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats down"))

		d := &fakeDelivery{}
		q.handle(context.Background(), FollowupSend, encodeJob(t, &Job{ID: "j", Queue: FollowupSend, Attempt: 1, MaxAttempts: 3, Backoff: Fixed(time.Minute), NotBefore: now}), d)
		assert.False(t, d.acked)
		assert.Equal(t, time.Minute, d.nakked)
	})

	t.Run("Last Attempt Exhausts", func(t *testing.T) {
		q, _, store := newJetStreamTestQueue(t)
		q.now = func() time.Time { return now }
		q.handlers[CampaignSend] = func(ctx context.Context, job *Job) error { return errors.New("network") }

		d := &fakeDelivery{}
		q.handle(context.Background(), CampaignSend, encodeJob(t, &Job{ID: "j", TenantID: "t1", Queue: CampaignSend, Attempt: 3, MaxAttempts: 3, NotBefore: now, Payload: []byte(`{}`)}), d)
		assert.True(t, d.termed)
		require.Len(t, store.ExhaustedJobs(), 1)
		assert.Equal(t, "t1", store.ExhaustedJobs()[0].TenantID)
	})

	t.Run("Fatal Terminates", func(t *testing.T) {
		q, _, store := newJetStreamTestQueue(t)
		q.now = func() time.Time { return now }
		q.handlers[CampaignSend] = func(ctx context.Context, job *Job) error {
			return apperrors.NewFatal(apperrors.ErrNotFound, "gone")
		}

		d := &fakeDelivery{}
		q.handle(context.Background(), CampaignSend, encodeJob(t, &Job{ID: "j", Queue: CampaignSend, Attempt: 1, MaxAttempts: 3, NotBefore: now}), d)
		assert.True(t, d.termed)
		assert.Empty(t, store.ExhaustedJobs())
	})

	t.Run("Unregistered Queue Terminates", func(t *testing.T) {
		q, _, _ := newJetStreamTestQueue(t)
		q.now = func() time.Time { return now }
		d := &fakeDelivery{}
		q.handle(context.Background(), "unknown", encodeJob(t, &Job{ID: "j", Queue: "unknown", Attempt: 1, MaxAttempts: 1, NotBefore: now}), d)
		assert.True(t, d.termed)
	})
}
