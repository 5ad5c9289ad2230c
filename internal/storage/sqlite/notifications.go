package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

func (s *Store) AddNotification(ctx context.Context, n core.Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, recipient, type, review_id, payload_json, created_at, read_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Recipient, string(n.Type), nullString(n.ReviewID), payloadValue(n.Payload), toMS(n.CreatedAt), nullMS(n.ReadAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns the recipient's inbox, newest first.
func (s *Store) ListNotifications(ctx context.Context, f core.NotificationFilter) ([]core.Notification, error) {
	query := `SELECT id, recipient, type, review_id, payload_json, created_at, read_at
		FROM notifications WHERE recipient=?`
	args := []any{f.Recipient}
	if f.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var (
			n         core.Notification
			typ       string
			reviewID  sql.NullString
			payload   sql.NullString
			createdAt int64
			readAt    sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.Recipient, &typ, &reviewID, &payload, &createdAt, &readAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = core.NotificationType(typ)
		n.ReviewID = reviewID.String
		n.Payload = payloadFrom(payload)
		n.CreatedAt = fromMS(createdAt)
		n.ReadAt = fromNullMS(readAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// MarkNotificationRead is idempotent for notifications already read.
func (s *Store) MarkNotificationRead(ctx context.Context, recipient, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at=COALESCE(read_at, ?) WHERE id=? AND recipient=?`,
		toMS(now), id, recipient)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("notification", id)
	}
	return nil
}
