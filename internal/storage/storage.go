package storage

import (
	"context"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

// LedgerStore holds task claims, agent liveness and file locks. Claim and
// lock acquisition are single conditional writes: two concurrent callers on
// the same key never both succeed.
type LedgerStore interface {
	ClaimTask(ctx context.Context, taskID, agentID string, now time.Time) (core.Task, error)
	CompleteTask(ctx context.Context, taskID string) (core.Task, error)
	GetTask(ctx context.Context, taskID string) (core.Task, error)
	Heartbeat(ctx context.Context, agent core.AgentStatus, taskID string, now time.Time) (core.HeartbeatResult, error)
	ListAgentStatuses(ctx context.Context) ([]core.AgentStatus, error)
	AcquireLock(ctx context.Context, lock core.FileLock, now time.Time) (core.FileLock, error)
	// ReleaseLock reports whether a lock owned by agentID was removed.
	ReleaseLock(ctx context.Context, filePath, agentID string) (bool, error)
	ListLocks(ctx context.Context, now time.Time) ([]core.FileLock, error)
	PurgeExpiredLocks(ctx context.Context, now time.Time) (int, error)
}

// ReviewStore persists reviews and guards every status change with the
// allowed source states declared in core.
type ReviewStore interface {
	CreateReview(ctx context.Context, review core.Review) (core.Review, error)
	GetReview(ctx context.Context, id string) (core.Review, error)
	ListReviews(ctx context.Context, filter core.ReviewFilter) ([]core.Review, error)
	AssignReviewer(ctx context.Context, id, reviewer string) (core.Review, error)
	StartReview(ctx context.Context, id, reviewer string, now time.Time) (core.Review, error)
	SubmitReview(ctx context.Context, decision core.ReviewDecision, now time.Time) (core.Review, error)
	RequestReReview(ctx context.Context, id string, revisionNumber int, changesMade string, artifacts core.Payload, now time.Time) (core.Review, error)
	EscalateReview(ctx context.Context, id string, reason core.EscalationReason, creatorArgument string) (core.Review, error)
	ResolveEscalation(ctx context.Context, id string, resolution core.Resolution, resolvedBy string, now time.Time) (core.Review, error)
	QueueDepth(ctx context.Context, reviewer string) (int, error)
	// ReviewsOlderThan lists reviews in status created before cutoff.
	ReviewsOlderThan(ctx context.Context, status core.ReviewStatus, cutoff time.Time) ([]core.Review, error)
	ReviewsSince(ctx context.Context, filter core.MetricsFilter) ([]core.Review, error)
	RecordDailyRollup(ctx context.Context, review core.Review) error
	ListDailyRollups(ctx context.Context, since time.Time) ([]core.DailyRollup, error)
}

// PatternStore holds learned auto-skip patterns.
type PatternStore interface {
	GetPattern(ctx context.Context, id string) (core.AutoSkipPattern, error)
	ListPatterns(ctx context.Context, eligibleOnly bool) ([]core.AutoSkipPattern, error)
	// UpdatePattern loads (or zero-initialises) the pattern for
	// (actionType, creator), applies fn and writes the result back inside one
	// transaction.
	UpdatePattern(ctx context.Context, actionType, creator string, fn func(*core.AutoSkipPattern) error) (core.AutoSkipPattern, error)
	SetSkipEnabled(ctx context.Context, id string, enabled bool, now time.Time) (core.AutoSkipPattern, error)
}

// NotificationStore is the store-and-forward inbox.
type NotificationStore interface {
	AddNotification(ctx context.Context, n core.Notification) error
	ListNotifications(ctx context.Context, filter core.NotificationFilter) ([]core.Notification, error)
	MarkNotificationRead(ctx context.Context, recipient, id string, now time.Time) error
}

// Store is the single source of truth for every component.
type Store interface {
	LedgerStore
	ReviewStore
	PatternStore
	NotificationStore
	Close() error
}
