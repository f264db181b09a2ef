package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestClientMock_Request(t *testing.T) {
	mockClient := new(ClientMock)
	mockClient.On("Request", mock.Anything, "wa.gateway.t1.status", []byte(`{}`)).Return([]byte(`{"ready":true}`), nil).Once()
	mockClient.On("Request", mock.Anything, "wa.gateway.t2.status", mock.Anything).Return(nil, errors.New("no responders")).Once()

	reply, err := mockClient.Request(context.Background(), "wa.gateway.t1.status", []byte(`{}`))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"ready":true}`, string(reply))

	reply, err = mockClient.Request(context.Background(), "wa.gateway.t2.status", []byte(`{}`))
	assert.Error(t, err)
	assert.Nil(t, reply)

	mockClient.AssertExpectations(t)
}

func TestClientMock_Publish(t *testing.T) {
	mockClient := new(ClientMock)
	mockClient.On("PublishCore", "events.t1.campaign.completed", mock.Anything).Return(nil)
	mockClient.On("Publish", "jobs.campaign-send", []byte("job"), map[string]string{"Nats-Msg-Id": "j-1"}).Return(errors.New("stream full"))

	assert.NoError(t, mockClient.PublishCore("events.t1.campaign.completed", []byte("{}")))
	assert.EqualError(t, mockClient.Publish("jobs.campaign-send", []byte("job"), map[string]string{"Nats-Msg-Id": "j-1"}), "stream full")
	mockClient.AssertExpectations(t)
}
