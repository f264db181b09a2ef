package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Linggaept/backend-waspread-sub001/internal/transport"
)

// TransportMock is a mock implementation of transport.Transport
type TransportMock struct {
	mock.Mock
}

var _ transport.Transport = (*TransportMock)(nil)

func (m *TransportMock) IsSessionReady(ctx context.Context, tenantID string) (bool, error) {
	args := m.Called(ctx, tenantID)
	return args.Bool(0), args.Error(1)
}

func (m *TransportMock) IsRegistered(ctx context.Context, tenantID, phone string) (bool, error) {
	args := m.Called(ctx, tenantID, phone)
	return args.Bool(0), args.Error(1)
}

func (m *TransportMock) Send(ctx context.Context, msg transport.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}
