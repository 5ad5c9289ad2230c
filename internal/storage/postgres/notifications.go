package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

func (s *Store) AddNotification(ctx context.Context, n core.Notification) error {
	_, err := s.Pool.Exec(ctx, `
INSERT INTO notifications (id, recipient, type, review_id, payload_json, created_at, read_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.Recipient, string(n.Type), optString(n.ReviewID), optPayload(n.Payload), toMS(n.CreatedAt), optMS(n.ReadAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, f core.NotificationFilter) ([]core.Notification, error) {
	query := `SELECT id, recipient, type, review_id, payload_json, created_at, read_at FROM notifications WHERE recipient = $1`
	args := []any{f.Recipient}
	if f.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []core.Notification
	for rows.Next() {
		var (
			n                 core.Notification
			typ               string
			reviewID, payload *string
			createdAt         int64
			readAt            *int64
		)
		if err := rows.Scan(&n.ID, &n.Recipient, &typ, &reviewID, &payload, &createdAt, &readAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = core.NotificationType(typ)
		n.ReviewID = deref(reviewID)
		n.Payload = payloadFrom(payload)
		n.CreatedAt = fromMS(createdAt)
		n.ReadAt = fromOptMS(readAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, recipient, id string, now time.Time) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, $1) WHERE id = $2 AND recipient = $3`,
		toMS(now), id, recipient)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("notification", id)
	}
	return nil
}
