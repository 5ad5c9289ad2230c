// Package notify delivers workflow events to agents and the human operator.
//
// Every notification is written to the recipient's inbox in the store and
// then pushed to any live websocket subscribers. Delivery is fire-and-forget:
// failures are logged and counted, never returned to the caller, so a broken
// inbox cannot undo a ledger or review transition that already committed.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/metrics"
	"github.com/mistakeknot/intercoord/internal/storage"
)

// Broadcaster pushes an event to the live connections of one agent.
type Broadcaster interface {
	Broadcast(agent string, event any)
}

// Event is the websocket frame carrying a notification.
type Event struct {
	Type         string            `json:"type"`
	Notification core.Notification `json:"notification"`
}

type Notifier struct {
	store  storage.NotificationStore
	bus    Broadcaster
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func New(store storage.NotificationStore, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (n *Notifier) WithBroadcaster(b Broadcaster) *Notifier {
	n.bus = b
	return n
}

func (n *Notifier) WithClock(now func() time.Time) *Notifier {
	n.now = now
	return n
}

// Notify records a notification for recipient and fans it out. payload is
// marshalled to JSON; a payload that cannot be encoded is dropped with a log
// line and the notification is still delivered.
func (n *Notifier) Notify(ctx context.Context, recipient string, typ core.NotificationType, reviewID string, payload any) {
	if recipient == "" {
		n.logger.Warn("notification without recipient dropped", "type", typ, "review_id", reviewID)
		metrics.RecordNotification(string(typ), "failed")
		return
	}
	body, err := core.NewPayload(payload)
	if err != nil {
		n.logger.Warn("notification payload dropped", "type", typ, "review_id", reviewID, "error", err)
		body = nil
	}
	note := core.Notification{
		ID:        n.newID(),
		Recipient: recipient,
		Type:      typ,
		ReviewID:  reviewID,
		Payload:   body,
		CreatedAt: n.now().UTC(),
	}
	if err := n.store.AddNotification(ctx, note); err != nil {
		n.logger.Warn("notification not stored", "recipient", recipient, "type", typ, "review_id", reviewID, "error", err)
		metrics.RecordNotification(string(typ), "failed")
		return
	}
	metrics.RecordNotification(string(typ), "stored")
	if n.bus != nil {
		n.bus.Broadcast(recipient, Event{Type: "notification", Notification: note})
	}
}

// Inbox lists notifications for a recipient, newest first.
func (n *Notifier) Inbox(ctx context.Context, filter core.NotificationFilter) ([]core.Notification, error) {
	if filter.Recipient == "" {
		return nil, core.Invalid("recipient required")
	}
	out, err := n.store.ListNotifications(ctx, filter)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []core.Notification{}
	}
	return out, nil
}

// MarkRead acknowledges one notification. Marking twice is not an error.
func (n *Notifier) MarkRead(ctx context.Context, recipient, id string) error {
	if recipient == "" || id == "" {
		return core.Invalid("recipient and notification id required")
	}
	return n.store.MarkNotificationRead(ctx, recipient, id, n.now().UTC())
}
