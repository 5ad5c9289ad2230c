// Package ledger coordinates agents through task claims, heartbeats and
// file locks. Contention fails fast: nothing here waits for a claim or lock
// to free up.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/metrics"
	"github.com/mistakeknot/intercoord/internal/storage"
)

// Ledger is the CoordinationLedger.
type Ledger struct {
	store  storage.LedgerStore
	logger *slog.Logger
	now    func() time.Time
}

func New(store storage.LedgerStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) ClaimTask(ctx context.Context, taskID, agentID string) (core.Task, error) {
	if err := required("task_id", taskID, "agent_id", agentID); err != nil {
		return core.Task{}, err
	}
	task, err := l.store.ClaimTask(ctx, taskID, agentID, l.now().UTC())
	metrics.RecordLedgerOp("claim", outcome(err))
	if err != nil {
		return core.Task{}, err
	}
	l.logger.Info("task claimed", "task_id", taskID, "agent_id", agentID)
	return task, nil
}

// CompleteTask is idempotent for known tasks.
func (l *Ledger) CompleteTask(ctx context.Context, taskID string) (core.Task, error) {
	if err := required("task_id", taskID); err != nil {
		return core.Task{}, err
	}
	return l.store.CompleteTask(ctx, taskID)
}

func (l *Ledger) GetTask(ctx context.Context, taskID string) (core.Task, error) {
	if err := required("task_id", taskID); err != nil {
		return core.Task{}, err
	}
	return l.store.GetTask(ctx, taskID)
}

// Heartbeat records agent liveness. A task heartbeat from an agent that does
// not own the claim is accepted but changes nothing on the task.
func (l *Ledger) Heartbeat(ctx context.Context, agentID, taskID, status string) (core.HeartbeatResult, error) {
	if err := required("agent_id", agentID); err != nil {
		return core.HeartbeatResult{}, err
	}
	if status == "" {
		status = "active"
	}
	return l.store.Heartbeat(ctx, core.AgentStatus{AgentID: agentID, Status: status}, taskID, l.now().UTC())
}

func (l *Ledger) AgentStatuses(ctx context.Context) ([]core.AgentStatus, error) {
	agents, err := l.store.ListAgentStatuses(ctx)
	if err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []core.AgentStatus{}
	}
	return agents, nil
}

// AcquireLock takes or renews a lock for ttl (DefaultLockTTL when zero).
func (l *Ledger) AcquireLock(ctx context.Context, filePath, agentID string, lockType core.LockType, ttl time.Duration) (core.FileLock, error) {
	if err := required("file_path", filePath, "agent_id", agentID); err != nil {
		return core.FileLock{}, err
	}
	if lockType == "" {
		lockType = core.LockWrite
	}
	if !lockType.Valid() {
		return core.FileLock{}, core.Invalid("lock_type must be read or write, got %q", lockType)
	}
	if ttl < 0 {
		return core.FileLock{}, core.Invalid("lock duration must be positive")
	}
	if ttl == 0 {
		ttl = core.DefaultLockTTL
	}
	now := l.now().UTC()
	lock := core.FileLock{FilePath: filePath, LockedBy: agentID, LockType: lockType, ExpiresAt: now.Add(ttl)}
	got, err := l.store.AcquireLock(ctx, lock, now)
	metrics.RecordLedgerOp("lock", outcome(err))
	return got, err
}

// ReleaseLock reports false, without error, when agentID holds no lock on
// filePath.
func (l *Ledger) ReleaseLock(ctx context.Context, filePath, agentID string) (bool, error) {
	if err := required("file_path", filePath, "agent_id", agentID); err != nil {
		return false, err
	}
	return l.store.ReleaseLock(ctx, filePath, agentID)
}

func (l *Ledger) ActiveLocks(ctx context.Context) ([]core.FileLock, error) {
	locks, err := l.store.ListLocks(ctx, l.now().UTC())
	if err != nil {
		return nil, err
	}
	if locks == nil {
		locks = []core.FileLock{}
	}
	return locks, nil
}

// PurgeExpiredLocks deletes rows that are already treated as absent.
func (l *Ledger) PurgeExpiredLocks(ctx context.Context) (int, error) {
	n, err := l.store.PurgeExpiredLocks(ctx, l.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("purged expired locks", "count", n)
	}
	return n, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrConflict):
		return "conflict"
	}
	return "error"
}

// required checks name/value pairs for blank values.
func required(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return core.Invalid("missing %s", strings.Join(missing, ", "))
	}
	return nil
}
