package model

// Message flow directions carried by gateway events.
const (
	FlowIn  = "IN"
	FlowOut = "OUT"
)

// Delivery statuses carried by message update events.
const (
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusRead      = "read"
)

// --- Message NATS Payload --- //

// InboundMessagePayload is a message seen by the gateway, in either direction.
type InboundMessagePayload struct {
	MessageID        string `json:"message_id,omitempty" validate:"required"`
	TenantID         string `json:"tenant_id,omitempty" validate:"omitempty"`
	FromPhone        string `json:"from_phone,omitempty" validate:"required_if=Flow IN"`
	ToPhone          string `json:"to_phone,omitempty" validate:"omitempty,phone"`
	Flow             string `json:"flow,omitempty" validate:"required,oneof=IN OUT"`
	MessageType      string `json:"message_type,omitempty" validate:"omitempty"`
	MessageText      string `json:"message_text,omitempty" validate:"omitempty"`
	MediaURL         string `json:"media_url,omitempty" validate:"omitempty,url"`
	MessageTimestamp int64  `json:"message_timestamp,omitempty" validate:"omitempty,gte=0"`
}

// MessageStatusPayload is a delivery receipt for an outbound message.
type MessageStatusPayload struct {
	MessageID string `json:"message_id,omitempty" validate:"required"`
	TenantID  string `json:"tenant_id,omitempty" validate:"omitempty"`
	ToPhone   string `json:"to_phone,omitempty" validate:"required,phone"`
	Status    string `json:"status,omitempty" validate:"required"`
}

// IsDelivered reports whether the receipt confirms the message reached the handset.
func (p *MessageStatusPayload) IsDelivered() bool {
	return p.Status == DeliveryStatusDelivered || p.Status == DeliveryStatusRead
}
