// Package replygen asks the AI reply service for suggested answers to an inbound message.
package replygen

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Linggaept/backend-waspread-sub001/internal/apperrors"
)

// Request is the inbound message to answer.
type Request struct {
	TenantID      string `json:"tenant_id"`
	Phone         string `json:"phone"`
	Text          string `json:"text"`
	Media         []byte `json:"media,omitempty"`
	MediaMimeType string `json:"media_mime_type,omitempty"`
}

// Result carries the generated suggestions and what they cost.
type Result struct {
	Suggestions []string `json:"suggestions"`
	CostUnits   float64  `json:"cost_units"`
}

// Generator produces reply suggestions.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Requester is the request/reply surface of the NATS client.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

type reply struct {
	Result
	Error string `json:"error,omitempty"`
}

// NatsGenerator calls the reply service over NATS request/reply.
type NatsGenerator struct {
	req     Requester
	subject string
	timeout time.Duration
}

var _ Generator = (*NatsGenerator)(nil)

// NewNatsGenerator creates a client for the reply service on subject.
func NewNatsGenerator(req Requester, subject string, timeout time.Duration) *NatsGenerator {
	return &NatsGenerator{req: req, subject: subject, timeout: timeout}
}

// Generate returns an error when the service is unreachable, reports an error, or
// produces no suggestion.
func (g *NatsGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal reply request: %v", apperrors.ErrBadRequest, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.req.Request(reqCtx, g.subject, data)
	if err != nil {
		return nil, fmt.Errorf("%w: reply service: %v", apperrors.ErrNATS, err)
	}

	var out reply
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed reply service response: %v", apperrors.ErrNATS, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("reply service: %s", out.Error)
	}
	if len(out.Suggestions) == 0 || out.Suggestions[0] == "" {
		return nil, fmt.Errorf("%w: reply service returned no suggestion", apperrors.ErrNotFound)
	}
	return &out.Result, nil
}
