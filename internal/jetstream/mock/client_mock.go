package mock

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"

	"github.com/Linggaept/backend-waspread-sub001/internal/jetstream"
)

// ClientMock stands in for the NATS client in queue, transport and notifier tests.
// Subscriptions cannot be constructed outside nats.go, so Subscribe* expectations return nil.
type ClientMock struct {
	mock.Mock
}

var _ jetstream.ClientInterface = (*ClientMock)(nil)

func (m *ClientMock) SetupStream(ctx context.Context, cfg *nats.StreamConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *ClientMock) SetupConsumer(ctx context.Context, stream string, cfg *nats.ConsumerConfig) error {
	return m.Called(ctx, stream, cfg).Error(0)
}

func (m *ClientMock) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, stream, handler)
	return subscription(args), args.Error(1)
}

func (m *ClientMock) SubscribePull(stream, subject, consumer string) (*nats.Subscription, error) {
	args := m.Called(stream, subject, consumer)
	return subscription(args), args.Error(1)
}

func (m *ClientMock) Publish(subject string, data []byte, headers map[string]string) error {
	return m.Called(subject, data, headers).Error(0)
}

func (m *ClientMock) PublishCore(subject string, data []byte) error {
	return m.Called(subject, data).Error(0)
}

// Request returns a nil reply when the expectation's first value is nil.
func (m *ClientMock) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	args := m.Called(ctx, subject, data)
	reply, _ := args.Get(0).([]byte)
	return reply, args.Error(1)
}

func (m *ClientMock) NatsConn() *nats.Conn {
	conn, _ := m.Called().Get(0).(*nats.Conn)
	return conn
}

func (m *ClientMock) Close() {
	m.Called()
}

func subscription(args mock.Arguments) *nats.Subscription {
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub
}
