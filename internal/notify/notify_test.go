package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	jsmock "github.com/Linggaept/backend-waspread-sub001/internal/jetstream/mock"
)

func TestNatsNotifier_Publishes(t *testing.T) {
	client := new(jsmock.ClientMock)
	published := make(chan []byte, 1)
	client.On("PublishCore", "events.t1.campaign.completed", mock.Anything).
		Run(func(args mock.Arguments) { published <- args.Get(1).([]byte) }).
		Return(nil)

	n := NewNatsNotifier(client, "events", zap.NewNop())
	n.Notify(context.Background(), Event{Type: CampaignCompleted, TenantID: "t1", Data: map[string]int{"sent": 2}})

	select {
	case data := <-published:
		var e Event
		require.NoError(t, json.Unmarshal(data, &e))
		assert.Equal(t, CampaignCompleted, e.Type)
		assert.False(t, e.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not published")
	}
}

func TestNatsNotifier_FailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	client := new(jsmock.ClientMock)
	client.On("PublishCore", mock.Anything, mock.Anything).Return(errors.New("nats: connection closed"))

	n := NewNatsNotifier(client, "events", zap.New(core))
	n.Notify(context.Background(), Event{Type: FunnelStageChanged, TenantID: "t1"})

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("Failed to publish notification").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Notify(context.Background(), Event{Type: FollowupSent})
	r.Notify(context.Background(), Event{Type: AutoReplySent})
	Nop{}.Notify(context.Background(), Event{Type: AutoReplySent})

	assert.Len(t, r.Events(""), 2)
	assert.Len(t, r.Events(AutoReplySent), 1)
}
