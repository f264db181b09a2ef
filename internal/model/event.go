package model

import (
	"strings"
	"time"
)

// EventType represents different types of inbound gateway events
type EventType string

// Event type constants (with versioning)
const (
	V1MessagesUpsert EventType = "v1.messages.upsert"
	V1MessagesUpdate EventType = "v1.messages.update"
)

// MapToBaseEventType maps a subject (possibly suffixed with a tenant id) back to a known
// base EventType. It returns "" and false if no mapping is found.
func MapToBaseEventType(input string) (EventType, bool) {
	switch EventType(input) {
	case V1MessagesUpsert, V1MessagesUpdate:
		return EventType(input), true
	}

	lastDotIndex := strings.LastIndex(input, ".")
	if lastDotIndex <= 0 {
		return "", false
	}

	switch base := EventType(input[:lastDotIndex]); base {
	case V1MessagesUpsert, V1MessagesUpdate:
		return base, true
	default:
		return "", false
	}
}

// TenantFromSubject returns the last token of a tenant-suffixed subject,
// e.g. "v1.messages.upsert.acme" -> "acme".
func TenantFromSubject(subject string) string {
	base, ok := MapToBaseEventType(subject)
	if !ok || string(base) == subject {
		return ""
	}
	return subject[len(base)+1:]
}

// MessageMetadata is the delivery metadata of a JetStream message.
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	Domain           string
	MessageID        string
	MessageSubject   string
	TenantID         string
}

// GetVersion extracts the version from an event type
// Returns the version string (e.g., "v1") or an empty string if no version specified
func (e EventType) GetVersion() string {
	parts := strings.SplitN(string(e), ".", 2)
	if len(parts) < 2 {
		return ""
	}

	if len(parts[0]) >= 2 && parts[0][0] == 'v' {
		return parts[0]
	}

	return ""
}

// GetBaseType returns the event type without the version prefix
// For example: "v1.messages.upsert" -> "messages.upsert"
func (e EventType) GetBaseType() EventType {
	version := e.GetVersion()
	if version == "" {
		return e
	}
	return EventType(strings.TrimPrefix(string(e), version+"."))
}
