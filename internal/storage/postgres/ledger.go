package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/storage"
)

func (s *Store) ClaimTask(ctx context.Context, taskID, agentID string, now time.Time) (core.Task, error) {
	ts := toMS(now)
	tag, err := s.Pool.Exec(ctx, `
INSERT INTO work_queue (task_id, claimed_by, claimed_at, heartbeat_at, status)
VALUES ($1, $2, $3, $3, 'in_progress')
ON CONFLICT (task_id) DO UPDATE SET
  claimed_by = EXCLUDED.claimed_by,
  claimed_at = EXCLUDED.claimed_at,
  heartbeat_at = EXCLUDED.heartbeat_at,
  status = 'in_progress'
WHERE work_queue.status <> 'completed'
  AND (work_queue.claimed_by IS NULL OR work_queue.claimed_by = EXCLUDED.claimed_by)`,
		taskID, agentID, ts)
	if err != nil {
		return core.Task{}, fmt.Errorf("claim task: %w", err)
	}
	task, err := s.getTask(ctx, s.Pool, taskID)
	if err != nil {
		return core.Task{}, err
	}
	if tag.RowsAffected() == 0 {
		return core.Task{}, storage.ClaimConflict(task)
	}
	return task, nil
}

func (s *Store) CompleteTask(ctx context.Context, taskID string) (core.Task, error) {
	tag, err := s.Pool.Exec(ctx, `UPDATE work_queue SET status = 'completed' WHERE task_id = $1`, taskID)
	if err != nil {
		return core.Task{}, fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.Task{}, core.NotFound("task", taskID)
	}
	return s.getTask(ctx, s.Pool, taskID)
}

func (s *Store) GetTask(ctx context.Context, taskID string) (core.Task, error) {
	return s.getTask(ctx, s.Pool, taskID)
}

func (s *Store) getTask(ctx context.Context, q querier, taskID string) (core.Task, error) {
	var (
		task                   core.Task
		claimedBy              *string
		claimedAt, heartbeatAt *int64
		status                 string
	)
	err := q.QueryRow(ctx,
		`SELECT task_id, claimed_by, claimed_at, heartbeat_at, status FROM work_queue WHERE task_id = $1`, taskID,
	).Scan(&task.ID, &claimedBy, &claimedAt, &heartbeatAt, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Task{}, core.NotFound("task", taskID)
	}
	if err != nil {
		return core.Task{}, fmt.Errorf("get task: %w", err)
	}
	task.ClaimedBy = deref(claimedBy)
	task.ClaimedAt = fromOptMS(claimedAt)
	task.HeartbeatAt = fromOptMS(heartbeatAt)
	task.Status = core.TaskStatus(status)
	return task, nil
}

func (s *Store) Heartbeat(ctx context.Context, agent core.AgentStatus, taskID string, now time.Time) (core.HeartbeatResult, error) {
	ts := toMS(now)
	var result core.HeartbeatResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO agent_status (agent_id, current_task, status, last_heartbeat)
VALUES ($1, $2, $3, $4)
ON CONFLICT (agent_id) DO UPDATE SET
  current_task = EXCLUDED.current_task,
  status = EXCLUDED.status,
  last_heartbeat = EXCLUDED.last_heartbeat`,
			agent.AgentID, optString(taskID), agent.Status, ts); err != nil {
			return fmt.Errorf("upsert agent status: %w", err)
		}
		if taskID == "" {
			return nil
		}
		tag, err := tx.Exec(ctx,
			`UPDATE work_queue SET heartbeat_at = $1 WHERE task_id = $2 AND claimed_by = $3`,
			ts, taskID, agent.AgentID)
		if err != nil {
			return fmt.Errorf("refresh task heartbeat: %w", err)
		}
		result.TaskRefreshed = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return core.HeartbeatResult{}, err
	}
	at := fromMS(ts)
	result.Agent = core.AgentStatus{AgentID: agent.AgentID, CurrentTask: taskID, Status: agent.Status, LastHeartbeat: &at}
	return result, nil
}

func (s *Store) ListAgentStatuses(ctx context.Context) ([]core.AgentStatus, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT agent_id, current_task, status, last_heartbeat FROM agent_status ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agent status: %w", err)
	}
	defer rows.Close()
	var out []core.AgentStatus
	for rows.Next() {
		var (
			a    core.AgentStatus
			task *string
			last *int64
		)
		if err := rows.Scan(&a.AgentID, &task, &a.Status, &last); err != nil {
			return nil, fmt.Errorf("scan agent status: %w", err)
		}
		a.CurrentTask = deref(task)
		a.LastHeartbeat = fromOptMS(last)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AcquireLock(ctx context.Context, lock core.FileLock, now time.Time) (core.FileLock, error) {
	upsert := func(ctx context.Context) (int64, error) {
		tag, err := s.Pool.Exec(ctx, `
INSERT INTO file_locks (file_path, locked_by, lock_type, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (file_path) DO UPDATE SET
  locked_by = EXCLUDED.locked_by,
  lock_type = EXCLUDED.lock_type,
  expires_at = EXCLUDED.expires_at
WHERE file_locks.locked_by = EXCLUDED.locked_by OR file_locks.expires_at <= $5`,
			lock.FilePath, lock.LockedBy, string(lock.LockType), toMS(lock.ExpiresAt), toMS(now))
		if err != nil {
			return 0, fmt.Errorf("acquire lock: %w", err)
		}
		return tag.RowsAffected(), nil
	}
	read := func(ctx context.Context) (core.FileLock, error) { return s.getLock(ctx, lock.FilePath) }
	return storage.AcquireLock(ctx, lock.FilePath, upsert, read)
}

func (s *Store) getLock(ctx context.Context, filePath string) (core.FileLock, error) {
	var (
		l         core.FileLock
		lockType  string
		expiresAt int64
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT file_path, locked_by, lock_type, expires_at FROM file_locks WHERE file_path = $1`, filePath,
	).Scan(&l.FilePath, &l.LockedBy, &lockType, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.FileLock{}, core.NotFound("lock", filePath)
	}
	if err != nil {
		return core.FileLock{}, fmt.Errorf("get lock: %w", err)
	}
	l.LockType = core.LockType(lockType)
	l.ExpiresAt = fromMS(expiresAt)
	return l, nil
}

func (s *Store) ReleaseLock(ctx context.Context, filePath, agentID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM file_locks WHERE file_path = $1 AND locked_by = $2`, filePath, agentID)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListLocks(ctx context.Context, now time.Time) ([]core.FileLock, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT file_path, locked_by, lock_type, expires_at FROM file_locks WHERE expires_at > $1 ORDER BY file_path`,
		toMS(now))
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()
	var out []core.FileLock
	for rows.Next() {
		var (
			l         core.FileLock
			lockType  string
			expiresAt int64
		)
		if err := rows.Scan(&l.FilePath, &l.LockedBy, &lockType, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		l.LockType = core.LockType(lockType)
		l.ExpiresAt = fromMS(expiresAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) PurgeExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM file_locks WHERE expires_at <= $1`, toMS(now))
	if err != nil {
		return 0, fmt.Errorf("purge locks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
