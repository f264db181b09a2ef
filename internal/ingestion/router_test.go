package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"github.com/Linggaept/backend-waspread-sub001/internal/model"
	"github.com/Linggaept/backend-waspread-sub001/internal/tenant"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// MockHandler is a mock of the EventHandler function
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Handle(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	args := m.Called(ctx, eventType, metadata, rawEvent)
	return args.Error(0)
}

func TestRouter_Route_TenantSuffixedSubject(t *testing.T) {
	router := NewRouter()
	mockHandler := new(MockHandler)
	router.Register(model.V1MessagesUpsert, mockHandler.Handle)

	rawEvent := []byte(`{"message_id":"m1"}`)
	metadata := &model.MessageMetadata{
		MessageSubject: "v1.messages.upsert.tenant-1",
		MessageID:      "msg-123",
		TenantID:       "tenant-1",
	}
	mockHandler.On("Handle", mock.MatchedBy(func(ctx context.Context) bool {
		id, err := tenant.FromContext(ctx)
		return err == nil && id == "tenant-1"
	}), model.V1MessagesUpsert, metadata, rawEvent).Return(nil)

	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	assert.NoError(t, router.Route(ctx, metadata, rawEvent))
	mockHandler.AssertExpectations(t)
}

func TestRouter_Route_PropagatesHandlerError(t *testing.T) {
	router := NewRouter()
	mockHandler := new(MockHandler)
	router.Register(model.V1MessagesUpdate, mockHandler.Handle)

	expected := errors.New("handler failed")
	metadata := &model.MessageMetadata{MessageSubject: "v1.messages.update.t1", TenantID: "t1"}
	mockHandler.On("Handle", mock.Anything, model.V1MessagesUpdate, metadata, mock.Anything).Return(expected)

	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	assert.ErrorIs(t, router.Route(ctx, metadata, []byte(`{}`)), expected)
}

func TestRouter_Route_DefaultHandler(t *testing.T) {
	router := NewRouter()
	defaultHandler := new(MockHandler)
	router.RegisterDefault(defaultHandler.Handle)

	metadata := &model.MessageMetadata{MessageSubject: "v1.unknown.event", TenantID: "t1"}
	defaultHandler.On("Handle", mock.Anything, model.EventType(""), metadata, mock.Anything).Return(nil)

	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	assert.NoError(t, router.Route(ctx, metadata, []byte(`{}`)))
	defaultHandler.AssertExpectations(t)
}

func TestRouter_Route_NoHandler(t *testing.T) {
	router := NewRouter()
	metadata := &model.MessageMetadata{MessageSubject: "v1.messages.upsert.t1"}

	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	assert.NoError(t, router.Route(ctx, metadata, []byte(`{}`)))
}
