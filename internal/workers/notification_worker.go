package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eventcore/pipeline/internal/broker"
	"github.com/eventcore/pipeline/internal/domain"
	"github.com/eventcore/pipeline/internal/notify"
)

// notificationPayload is the flat entry shape the change-processor and rule
// engine action executor append to the notifications stream.
type notificationPayload struct {
	Recipient string `json:"recipient"`
	Team      string `json:"team"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	SourceRef string `json:"source_ref"`
	Priority  string `json:"priority"`
}

// NotificationWorker implements §4.7: consumes the notifications stream and
// runs each entry through the Fanout.
type NotificationWorker struct {
	fanout *notify.Fanout
}

// NewNotificationWorker constructs a NotificationWorker.
func NewNotificationWorker(fanout *notify.Fanout) *NotificationWorker {
	return &NotificationWorker{fanout: fanout}
}

// Handle implements workers.Handler for the notifications consumer group. A
// rate-limited drop is acknowledged, not retried — it returns nil, not an
// error, per §4.7.
func (w *NotificationWorker) Handle(ctx context.Context, entry broker.Entry) error {
	raw, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("re-encode notification payload: %w", err)
	}
	var p notificationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}

	priority := domain.Priority(p.Priority)
	if priority == "" {
		priority = domain.PriorityNormal
	}

	_, err = w.fanout.Dispatch(ctx, notify.Request{
		Recipient: p.Recipient,
		Team:      p.Team,
		Kind:      p.Kind,
		Title:     p.Title,
		Body:      p.Body,
		SourceRef: p.SourceRef,
		Priority:  priority,
	})
	if err != nil {
		return fmt.Errorf("dispatch notification: %w", err)
	}
	return nil
}
