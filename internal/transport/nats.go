package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
	"github.com/Linggaept/backend-waspread-sub001/pkg/logger"
)

// Gateway error codes carried in replies.
const (
	codeNotReady      = "NOT_READY"
	codeNotRegistered = "NOT_REGISTERED"
	codeNetwork       = "NETWORK"
	codeRateLimited   = "RATE_LIMITED"
)

// Requester is the request/reply surface of the NATS client.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type statusReply struct {
	Ready bool          `json:"ready"`
	Error *gatewayError `json:"error,omitempty"`
}

type checkRequest struct {
	Phone string `json:"phone"`
}

type checkReply struct {
	Registered bool          `json:"registered"`
	Error      *gatewayError `json:"error,omitempty"`
}

type sendRequest struct {
	Phone         string `json:"phone"`
	Text          string `json:"text,omitempty"`
	MediaURL      string `json:"media_url,omitempty"`
	Media         []byte `json:"media,omitempty"`
	MediaMimeType string `json:"media_mime_type,omitempty"`
}

type sendReply struct {
	MessageID string        `json:"message_id"`
	Error     *gatewayError `json:"error,omitempty"`
}

// NatsTransport talks to the gateway over NATS request/reply on
// <prefix>.<tenant>.status, <prefix>.<tenant>.check and <prefix>.<tenant>.send.
type NatsTransport struct {
	req     Requester
	prefix  string
	timeout time.Duration
}

var _ Transport = (*NatsTransport)(nil)

// NewNatsTransport creates a gateway client.
func NewNatsTransport(req Requester, prefix string, timeout time.Duration) *NatsTransport {
	return &NatsTransport{req: req, prefix: prefix, timeout: timeout}
}

func (t *NatsTransport) subject(tenantID, op string) string {
	return fmt.Sprintf("%s.%s.%s", t.prefix, tenantID, op)
}

func (t *NatsTransport) call(ctx context.Context, subject string, in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: marshal gateway request: %v", apperrors.ErrBadRequest, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	reply, err := t.req.Request(reqCtx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			// No gateway instance owns the tenant's session.
			return fmt.Errorf("%w: %v", apperrors.ErrSessionNotReady, err)
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if err := json.Unmarshal(reply, out); err != nil {
		return fmt.Errorf("%w: malformed gateway reply: %v", ErrNetwork, err)
	}
	return nil
}

func gatewayErr(e *gatewayError) error {
	if e == nil {
		return nil
	}
	switch e.Code {
	case codeNotReady:
		return fmt.Errorf("%w: %s", apperrors.ErrSessionNotReady, e.Message)
	case codeNotRegistered:
		return fmt.Errorf("%w: %s", apperrors.ErrNotRegistered, e.Message)
	case codeRateLimited:
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimited, e.Message)
	case codeNetwork:
		return fmt.Errorf("%w: %s", ErrNetwork, e.Message)
	default:
		return fmt.Errorf("gateway error %s: %s", e.Code, e.Message)
	}
}

// IsSessionReady asks the gateway whether the tenant's session is connected.
func (t *NatsTransport) IsSessionReady(ctx context.Context, tenantID string) (bool, error) {
	var out statusReply
	if err := t.call(ctx, t.subject(tenantID, "status"), struct{}{}, &out); err != nil {
		if errors.Is(err, apperrors.ErrSessionNotReady) {
			return false, nil
		}
		return false, err
	}
	if err := gatewayErr(out.Error); err != nil {
		if errors.Is(err, apperrors.ErrSessionNotReady) {
			return false, nil
		}
		return false, err
	}
	return out.Ready, nil
}

// IsRegistered asks the gateway whether phone has a WhatsApp account.
func (t *NatsTransport) IsRegistered(ctx context.Context, tenantID, phone string) (bool, error) {
	var out checkReply
	if err := t.call(ctx, t.subject(tenantID, "check"), checkRequest{Phone: phone}, &out); err != nil {
		return false, err
	}
	if err := gatewayErr(out.Error); err != nil {
		return false, err
	}
	return out.Registered, nil
}

// Send delivers msg and returns the gateway's message id.
func (t *NatsTransport) Send(ctx context.Context, msg Message) (string, error) {
	in := sendRequest{
		Phone:         msg.Phone,
		Text:          msg.Text,
		MediaURL:      msg.MediaURL,
		Media:         msg.Media,
		MediaMimeType: msg.MediaMimeType,
	}
	var out sendReply
	if err := t.call(ctx, t.subject(msg.TenantID, "send"), in, &out); err != nil {
		return "", err
	}
	if err := gatewayErr(out.Error); err != nil {
		logger.FromContext(ctx).Warn("Gateway rejected message",
			zap.String("tenant_id", msg.TenantID),
			zap.String("code", out.Error.Code),
			zap.Error(err))
		return "", err
	}
	return out.MessageID, nil
}
