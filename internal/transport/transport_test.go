package transport_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/transport"
	jsmock "github.com/Linggaept/backend-waspread-sub001/internal/jetstream/mock"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	tmock "github.com/Linggaept/backend-waspread-sub001/internal/transport/mock"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		err  error
		want model.ErrorKind
	}{
		{nil, model.ErrorKindNone},
		{fmt.Errorf("send: %w", apperrors.ErrNotRegistered), model.ErrorKindInvalidNumber},
		{apperrors.ErrSessionNotReady, model.ErrorKindSession},
		{apperrors.ErrQuotaExhausted, model.ErrorKindSession},
		{apperrors.ErrRateLimited, model.ErrorKindRateLimited},
		{fmt.Errorf("%w: reset", transport.ErrNetwork), model.ErrorKindNetwork},
		{context.DeadlineExceeded, model.ErrorKindNetwork},
		{errors.New("???"), model.ErrorKindUnknown},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, transport.Classify(tc.err), fmt.Sprint(tc.err))
	}
}

func TestNatsTransport_IsSessionReady(t *testing.T) {
	client := new(jsmock.ClientMock)
	tr := transport.NewNatsTransport(client, "wa.gateway", time.Second)

	client.On("Request", mock.Anything, "wa.gateway.t1.status", mock.Anything).Return([]byte(`{"ready":true}`), nil).Once()
	ready, err := tr.IsSessionReady(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, ready)

	client.On("Request", mock.Anything, "wa.gateway.t2.status", mock.Anything).Return(nil, fmt.Errorf("request failed: %w", nats.ErrNoResponders)).Once()
	ready, err = tr.IsSessionReady(context.Background(), "t2")
	require.NoError(t, err, "no gateway for the tenant means not ready")
	assert.False(t, ready)

	client.On("Request", mock.Anything, "wa.gateway.t3.status", mock.Anything).Return(nil, nats.ErrTimeout).Once()
	_, err = tr.IsSessionReady(context.Background(), "t3")
	assert.ErrorIs(t, err, transport.ErrNetwork)
}

func TestNatsTransport_IsRegistered(t *testing.T) {
	client := new(jsmock.ClientMock)
	tr := transport.NewNatsTransport(client, "wa.gateway", time.Second)

	client.On("Request", mock.Anything, "wa.gateway.t1.check", []byte(`{"phone":"628111"}`)).Return([]byte(`{"registered":false}`), nil)
	ok, err := tr.IsRegistered(context.Background(), "t1", "628111")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNatsTransport_Send(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		client := new(jsmock.ClientMock)
		tr := transport.NewNatsTransport(client, "wa.gateway", time.Second)
		client.On("Request", mock.Anything, "wa.gateway.t1.send", mock.Anything).Return([]byte(`{"message_id":"wamid.1"}`), nil)

		id, err := tr.Send(context.Background(), transport.Message{TenantID: "t1", Phone: "628111", Text: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "wamid.1", id)
	})

	t.Run("Gateway Error Codes", func(t *testing.T) {
		testCases := map[string]error{
			"NOT_READY":      apperrors.ErrSessionNotReady,
			"NOT_REGISTERED": apperrors.ErrNotRegistered,
			"RATE_LIMITED":   apperrors.ErrRateLimited,
			"NETWORK":        transport.ErrNetwork,
		}
		for code, want := range testCases {
			client := new(jsmock.ClientMock)
			tr := transport.NewNatsTransport(client, "wa.gateway", time.Second)
			client.On("Request", mock.Anything, mock.Anything, mock.Anything).
				Return([]byte(fmt.Sprintf(`{"error":{"code":%q,"message":"x"}}`, code)), nil)

			_, err := tr.Send(context.Background(), transport.Message{TenantID: "t1", Phone: "628111", Text: "hi"})
			assert.ErrorIs(t, err, want, code)
		}
	})

	t.Run("Malformed Reply", func(t *testing.T) {
		client := new(jsmock.ClientMock)
		tr := transport.NewNatsTransport(client, "wa.gateway", time.Second)
		client.On("Request", mock.Anything, mock.Anything, mock.Anything).Return([]byte(`<html>`), nil)

		_, err := tr.Send(context.Background(), transport.Message{TenantID: "t1", Phone: "628111"})
		assert.ErrorIs(t, err, transport.ErrNetwork)
	})
}

func TestRateLimited(t *testing.T) {
	next := new(tmock.TransportMock)
	next.On("Send", mock.Anything, mock.Anything).Return("id", nil)
	next.On("IsSessionReady", mock.Anything, "t1").Return(true, nil)

	rl := transport.NewRateLimited(next, 0.001, 1)

	ready, err := rl.IsSessionReady(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, ready)

	_, err = rl.Send(context.Background(), transport.Message{TenantID: "t1"})
	require.NoError(t, err)

	_, err = rl.Send(context.Background(), transport.Message{TenantID: "t2"})
	require.NoError(t, err, "tenants have separate buckets")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rl.Send(ctx, transport.Message{TenantID: "t1"})
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	next.AssertNumberOfCalls(t, "Send", 2)
}

func TestRateLimited_Unlimited(t *testing.T) {
	next := new(tmock.TransportMock)
	next.On("Send", mock.Anything, mock.Anything).Return("id", nil)
	rl := transport.NewRateLimited(next, 0, 0)
	for i := 0; i < 5; i++ {
		_, err := rl.Send(context.Background(), transport.Message{TenantID: "t1"})
		require.NoError(t, err)
	}
}
