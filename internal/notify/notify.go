// Package notify publishes best-effort state change events for real-time consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Linggaept/backend-waspread-sub001/pkg/utils"
)

// Event types.
const (
	CampaignCompleted   = "campaign.completed"
	CampaignMessageSent = "campaign.message_sent"
	FollowupSent        = "followup.sent"
	ContactFollowupSent = "contact_followup.sent"
	AutoReplySent       = "autoreply.sent"
	FunnelStageChanged  = "funnel.stage_changed"
)

// Event is one committed state change.
type Event struct {
	Type     string      `json:"type"`
	TenantID string      `json:"tenant_id"`
	Data     interface{} `json:"data,omitempty"`
	At       time.Time   `json:"at"`
}

// Notifier delivers events. Notify never blocks on delivery and never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Publisher is the plain publish surface of the NATS client.
type Publisher interface {
	PublishCore(subject string, data []byte) error
}

// NatsNotifier publishes events to <base>.<tenant>.<type>.
type NatsNotifier struct {
	pub    Publisher
	base   string
	logger *zap.Logger
}

var _ Notifier = (*NatsNotifier)(nil)

// NewNatsNotifier creates a notifier publishing under base.
func NewNatsNotifier(pub Publisher, base string, log *zap.Logger) *NatsNotifier {
	return &NatsNotifier{pub: pub, base: base, logger: log.Named("notifier")}
}

func (n *NatsNotifier) subject(e Event) string {
	return fmt.Sprintf("%s.%s.%s", n.base, e.TenantID, e.Type)
}

// Notify publishes the event in the background. Failures are logged and dropped.
func (n *NatsNotifier) Notify(_ context.Context, event Event) {
	if event.At.IsZero() {
		event.At = utils.Now()
	}
	utils.SafeGo(func() {
		data, err := json.Marshal(event)
		if err != nil {
			n.logger.Warn("Failed to marshal notification", zap.String("type", event.Type), zap.Error(err))
			return
		}
		if err := n.pub.PublishCore(n.subject(event), data); err != nil {
			n.logger.Warn("Failed to publish notification",
				zap.String("type", event.Type),
				zap.String("tenant_id", event.TenantID),
				zap.Error(err))
		}
	}, func(r interface{}, stack []byte) {
		n.logger.Error("Notification publish panicked", zap.Any("panic", r), zap.ByteString("stack", stack))
	})
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns the recorded events of the given type, or all of them when typ is empty.
func (r *Recorder) Events(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if typ == "" || e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
