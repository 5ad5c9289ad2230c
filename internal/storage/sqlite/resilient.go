package sqlite

import (
	"context"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/metrics"
	"github.com/mistakeknot/intercoord/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore wraps every method of a storage.Store with CircuitBreaker +
// RetryBusy. A briefly busy database never reaches agents; repeated
// infrastructure failures open the breaker.
type ResilientStore struct {
	inner storage.Store
	cb    *CircuitBreaker
}

// NewResilient creates a ResilientStore with default circuit breaker settings
// (threshold=5, resetTimeout=30s).
func NewResilient(inner storage.Store) *ResilientStore {
	cb := NewCircuitBreaker(5, 30*time.Second).OnStateChange(func(_, to BreakerState) {
		metrics.SetBreakerState(int(to))
	})
	return &ResilientStore{inner: inner, cb: cb}
}

// NewResilientWithBreaker creates a ResilientStore with a custom circuit breaker.
func NewResilientWithBreaker(inner storage.Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

// CircuitBreakerState returns the current state of the circuit breaker as a string.
func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

func call[T any](ctx context.Context, r *ResilientStore, fn func() (T, error)) (T, error) {
	var result T
	err := exec(ctx, r, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

func exec(ctx context.Context, r *ResilientStore, fn func() error) error {
	return r.cb.Execute(func() error {
		return RetryBusy(ctx, DefaultBackoff, fn)
	})
}

// Ledger

func (r *ResilientStore) ClaimTask(ctx context.Context, taskID, agentID string, now time.Time) (core.Task, error) {
	return call(ctx, r, func() (core.Task, error) { return r.inner.ClaimTask(ctx, taskID, agentID, now) })
}

func (r *ResilientStore) CompleteTask(ctx context.Context, taskID string) (core.Task, error) {
	return call(ctx, r, func() (core.Task, error) { return r.inner.CompleteTask(ctx, taskID) })
}

func (r *ResilientStore) GetTask(ctx context.Context, taskID string) (core.Task, error) {
	return call(ctx, r, func() (core.Task, error) { return r.inner.GetTask(ctx, taskID) })
}

func (r *ResilientStore) Heartbeat(ctx context.Context, agent core.AgentStatus, taskID string, now time.Time) (core.HeartbeatResult, error) {
	return call(ctx, r, func() (core.HeartbeatResult, error) { return r.inner.Heartbeat(ctx, agent, taskID, now) })
}

func (r *ResilientStore) ListAgentStatuses(ctx context.Context) ([]core.AgentStatus, error) {
	return call(ctx, r, func() ([]core.AgentStatus, error) { return r.inner.ListAgentStatuses(ctx) })
}

func (r *ResilientStore) AcquireLock(ctx context.Context, lock core.FileLock, now time.Time) (core.FileLock, error) {
	return call(ctx, r, func() (core.FileLock, error) { return r.inner.AcquireLock(ctx, lock, now) })
}

func (r *ResilientStore) ReleaseLock(ctx context.Context, filePath, agentID string) (bool, error) {
	return call(ctx, r, func() (bool, error) { return r.inner.ReleaseLock(ctx, filePath, agentID) })
}

func (r *ResilientStore) ListLocks(ctx context.Context, now time.Time) ([]core.FileLock, error) {
	return call(ctx, r, func() ([]core.FileLock, error) { return r.inner.ListLocks(ctx, now) })
}

func (r *ResilientStore) PurgeExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	return call(ctx, r, func() (int, error) { return r.inner.PurgeExpiredLocks(ctx, now) })
}

// Reviews

func (r *ResilientStore) CreateReview(ctx context.Context, review core.Review) (core.Review, error) {
	return call(ctx, r, func() (core.Review, error) { return r.inner.CreateReview(ctx, review) })
}

func (r *ResilientStore) GetReview(ctx context.Context, id string) (core.Review, error) {
	return call(ctx, r, func() (core.Review, error) { return r.inner.GetReview(ctx, id) })
}

func (r *ResilientStore) ListReviews(ctx context.Context, filter core.ReviewFilter) ([]core.Review, error) {
	return call(ctx, r, func() ([]core.Review, error) { return r.inner.ListReviews(ctx, filter) })
}

func (r *ResilientStore) AssignReviewer(ctx context.Context, id, reviewer string) (core.Review, error) {
	return call(ctx, r, func() (core.Review, error) { return r.inner.AssignReviewer(ctx, id, reviewer) })
}

func (r *ResilientStore) StartReview(ctx context.Context, id, reviewer string, now time.Time) (core.Review, error) {
	return call(ctx, r, func() (core.Review, error) { return r.inner.StartReview(ctx, id, reviewer, now) })
}

func (r *ResilientStore) SubmitReview(ctx context.Context, decision core.ReviewDecision, now time.Time) (core.Review, error) {
	return call(ctx, r, func() (core.Review, error) { return r.inner.SubmitReview(ctx, decision, now) })
}

func (r *ResilientStore) RequestReReview(ctx context.Context, id string, revisionNumber int, changesMade string, artifacts core.Payload, now time.Time) (core.Review, error) {
	return call(ctx, r, func() (core.Review, error) {
		return r.inner.RequestReReview(ctx, id, revisionNumber, changesMade, artifacts, now)
	})
}

func (r *ResilientStore) EscalateReview(ctx context.Context, id string, reason core.EscalationReason, creatorArgument string) (core.Review, error) {
	return call(ctx, r, func() (core.Review, error) { return r.inner.EscalateReview(ctx, id, reason, creatorArgument) })
}

func (r *ResilientStore) ResolveEscalation(ctx context.Context, id string, resolution core.Resolution, resolvedBy string, now time.Time) (core.Review, error) {
	return call(ctx, r, func() (core.Review, error) {
		return r.inner.ResolveEscalation(ctx, id, resolution, resolvedBy, now)
	})
}

func (r *ResilientStore) QueueDepth(ctx context.Context, reviewer string) (int, error) {
	return call(ctx, r, func() (int, error) { return r.inner.QueueDepth(ctx, reviewer) })
}

func (r *ResilientStore) ReviewsOlderThan(ctx context.Context, status core.ReviewStatus, cutoff time.Time) ([]core.Review, error) {
	return call(ctx, r, func() ([]core.Review, error) { return r.inner.ReviewsOlderThan(ctx, status, cutoff) })
}

func (r *ResilientStore) ReviewsSince(ctx context.Context, filter core.MetricsFilter) ([]core.Review, error) {
	return call(ctx, r, func() ([]core.Review, error) { return r.inner.ReviewsSince(ctx, filter) })
}

func (r *ResilientStore) RecordDailyRollup(ctx context.Context, review core.Review) error {
	return exec(ctx, r, func() error { return r.inner.RecordDailyRollup(ctx, review) })
}

func (r *ResilientStore) ListDailyRollups(ctx context.Context, since time.Time) ([]core.DailyRollup, error) {
	return call(ctx, r, func() ([]core.DailyRollup, error) { return r.inner.ListDailyRollups(ctx, since) })
}

// Patterns

func (r *ResilientStore) GetPattern(ctx context.Context, id string) (core.AutoSkipPattern, error) {
	return call(ctx, r, func() (core.AutoSkipPattern, error) { return r.inner.GetPattern(ctx, id) })
}

func (r *ResilientStore) ListPatterns(ctx context.Context, eligibleOnly bool) ([]core.AutoSkipPattern, error) {
	return call(ctx, r, func() ([]core.AutoSkipPattern, error) { return r.inner.ListPatterns(ctx, eligibleOnly) })
}

func (r *ResilientStore) UpdatePattern(ctx context.Context, actionType, creator string, fn func(*core.AutoSkipPattern) error) (core.AutoSkipPattern, error) {
	return call(ctx, r, func() (core.AutoSkipPattern, error) { return r.inner.UpdatePattern(ctx, actionType, creator, fn) })
}

func (r *ResilientStore) SetSkipEnabled(ctx context.Context, id string, enabled bool, now time.Time) (core.AutoSkipPattern, error) {
	return call(ctx, r, func() (core.AutoSkipPattern, error) { return r.inner.SetSkipEnabled(ctx, id, enabled, now) })
}

// Notifications

func (r *ResilientStore) AddNotification(ctx context.Context, n core.Notification) error {
	return exec(ctx, r, func() error { return r.inner.AddNotification(ctx, n) })
}

func (r *ResilientStore) ListNotifications(ctx context.Context, filter core.NotificationFilter) ([]core.Notification, error) {
	return call(ctx, r, func() ([]core.Notification, error) { return r.inner.ListNotifications(ctx, filter) })
}

func (r *ResilientStore) MarkNotificationRead(ctx context.Context, recipient, id string, now time.Time) error {
	return exec(ctx, r, func() error { return r.inner.MarkNotificationRead(ctx, recipient, id, now) })
}

func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
