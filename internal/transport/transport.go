// Package transport sends WhatsApp messages on behalf of a tenant through the gateway.
package transport

import (
	"context"
	"errors"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/internal/model"
)

// ErrNetwork reports that the gateway could not be reached or failed mid-send.
var ErrNetwork = errors.New("transport network error")

// Message is one outbound message.
type Message struct {
	TenantID      string
	Phone         string
	Text          string
	MediaURL      string
	Media         []byte
	MediaMimeType string
}

// Transport is the WhatsApp gateway as seen by the dispatchers.
// Send returns apperrors.ErrSessionNotReady, apperrors.ErrNotRegistered,
// apperrors.ErrRateLimited or ErrNetwork, possibly wrapped.
type Transport interface {
	IsSessionReady(ctx context.Context, tenantID string) (bool, error)
	IsRegistered(ctx context.Context, tenantID, phone string) (bool, error)
	Send(ctx context.Context, msg Message) (string, error)
}

// Classify maps a send error to the error kind stored on the message.
func Classify(err error) model.ErrorKind {
	switch {
	case err == nil:
		return model.ErrorKindNone
	case errors.Is(err, apperrors.ErrNotRegistered):
		return model.ErrorKindInvalidNumber
	case errors.Is(err, apperrors.ErrSessionNotReady), errors.Is(err, apperrors.ErrQuotaExhausted):
		return model.ErrorKindSession
	case errors.Is(err, apperrors.ErrRateLimited):
		return model.ErrorKindRateLimited
	case errors.Is(err, ErrNetwork), errors.Is(err, apperrors.ErrNATS), errors.Is(err, apperrors.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return model.ErrorKindNetwork
	default:
		return model.ErrorKindUnknown
	}
}
