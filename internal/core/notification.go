package core

import "time"

// NotificationType names the event carried by a notification.
type NotificationType string

const (
	NotifyReviewRequested    NotificationType = "review_requested"
	NotifyReviewRevision     NotificationType = "review_revision"
	NotifyReviewCompleted    NotificationType = "review_completed"
	NotifyChangesRequested   NotificationType = "changes_requested"
	NotifyEscalated          NotificationType = "escalated"
	NotifyReviewReminder     NotificationType = "review_reminder"
	NotifyAutoSkipEligible   NotificationType = "auto_skip_eligible"
	NotifyEscalationResolved NotificationType = "escalation_resolved"
)

// HumanRecipient receives escalations and operator notices.
const HumanRecipient = "human"

// Notification is a store-and-forward message for one recipient.
type Notification struct {
	ID        string           `json:"id"`
	Recipient string           `json:"recipient"`
	Type      NotificationType `json:"type"`
	ReviewID  string           `json:"review_id,omitempty"`
	Payload   Payload          `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
}

// NotificationFilter narrows an inbox read.
type NotificationFilter struct {
	Recipient  string
	UnreadOnly bool
	Limit      int
}
