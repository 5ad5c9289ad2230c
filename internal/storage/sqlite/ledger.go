package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/storage"
)

// ClaimTask inserts the task or takes over an unclaimed / self-claimed row in
// one statement. A refused upsert touches no row.
func (s *Store) ClaimTask(ctx context.Context, taskID, agentID string, now time.Time) (core.Task, error) {
	ts := toMS(now)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO work_queue (task_id, claimed_by, claimed_at, heartbeat_at, status)
		 VALUES (?, ?, ?, ?, 'in_progress')
		 ON CONFLICT(task_id) DO UPDATE SET
		   claimed_by=excluded.claimed_by,
		   claimed_at=excluded.claimed_at,
		   heartbeat_at=excluded.heartbeat_at,
		   status='in_progress'
		 WHERE work_queue.status != 'completed'
		   AND (work_queue.claimed_by IS NULL OR work_queue.claimed_by = excluded.claimed_by)`,
		taskID, agentID, ts, ts,
	)
	if err != nil {
		return core.Task{}, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Task{}, fmt.Errorf("claim task: %w", err)
	}
	task, err := s.getTask(ctx, s.db, taskID)
	if err != nil {
		return core.Task{}, err
	}
	if n == 0 {
		return core.Task{}, storage.ClaimConflict(task)
	}
	return task, nil
}

func (s *Store) CompleteTask(ctx context.Context, taskID string) (core.Task, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE work_queue SET status='completed' WHERE task_id=?`, taskID)
	if err != nil {
		return core.Task{}, fmt.Errorf("complete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Task{}, core.NotFound("task", taskID)
	}
	return s.getTask(ctx, s.db, taskID)
}

func (s *Store) GetTask(ctx context.Context, taskID string) (core.Task, error) {
	return s.getTask(ctx, s.db, taskID)
}

func (s *Store) getTask(ctx context.Context, q querier, taskID string) (core.Task, error) {
	var (
		task                   core.Task
		claimedBy              sql.NullString
		claimedAt, heartbeatAt sql.NullInt64
		status                 string
	)
	err := q.QueryRowContext(ctx,
		`SELECT task_id, claimed_by, claimed_at, heartbeat_at, status FROM work_queue WHERE task_id=?`, taskID,
	).Scan(&task.ID, &claimedBy, &claimedAt, &heartbeatAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Task{}, core.NotFound("task", taskID)
	}
	if err != nil {
		return core.Task{}, fmt.Errorf("get task: %w", err)
	}
	task.ClaimedBy = claimedBy.String
	task.ClaimedAt = fromNullMS(claimedAt)
	task.HeartbeatAt = fromNullMS(heartbeatAt)
	task.Status = core.TaskStatus(status)
	return task, nil
}

// Heartbeat upserts the agent row and refreshes the task heartbeat only when
// the agent owns the claim.
func (s *Store) Heartbeat(ctx context.Context, agent core.AgentStatus, taskID string, now time.Time) (core.HeartbeatResult, error) {
	ts := toMS(now)
	var result core.HeartbeatResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_status (agent_id, current_task, status, last_heartbeat)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(agent_id) DO UPDATE SET
			   current_task=excluded.current_task,
			   status=excluded.status,
			   last_heartbeat=excluded.last_heartbeat`,
			agent.AgentID, nullString(taskID), agent.Status, ts,
		); err != nil {
			return fmt.Errorf("upsert agent status: %w", err)
		}
		if taskID == "" {
			return nil
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE work_queue SET heartbeat_at=? WHERE task_id=? AND claimed_by=?`,
			ts, taskID, agent.AgentID,
		)
		if err != nil {
			return fmt.Errorf("refresh task heartbeat: %w", err)
		}
		n, _ := res.RowsAffected()
		result.TaskRefreshed = n > 0
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, current_task, status, last_heartbeat FROM agent_status ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agent status: %w", err)
	}
	defer rows.Close()

	var out []core.AgentStatus
	for rows.Next() {
		var (
			a    core.AgentStatus
			task sql.NullString
			last sql.NullInt64
		)
		if err := rows.Scan(&a.AgentID, &task, &a.Status, &last); err != nil {
			return nil, fmt.Errorf("scan agent status: %w", err)
		}
		a.CurrentTask = task.String
		a.LastHeartbeat = fromNullMS(last)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// AcquireLock writes the lock when the path is free, expired, or already held
// by the same agent (renewal).
func (s *Store) AcquireLock(ctx context.Context, lock core.FileLock, now time.Time) (core.FileLock, error) {
	upsert := func(ctx context.Context) (int64, error) {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO file_locks (file_path, locked_by, lock_type, expires_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(file_path) DO UPDATE SET
			   locked_by=excluded.locked_by,
			   lock_type=excluded.lock_type,
			   expires_at=excluded.expires_at
			 WHERE file_locks.locked_by = excluded.locked_by OR file_locks.expires_at <= ?`,
			lock.FilePath, lock.LockedBy, string(lock.LockType), toMS(lock.ExpiresAt), toMS(now),
		)
		if err != nil {
			return 0, fmt.Errorf("acquire lock: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("acquire lock: %w", err)
		}
		return n, nil
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
	err := s.db.QueryRowContext(ctx,
		`SELECT file_path, locked_by, lock_type, expires_at FROM file_locks WHERE file_path=?`, filePath,
	).Scan(&l.FilePath, &l.LockedBy, &lockType, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_locks WHERE file_path=? AND locked_by=?`, filePath, agentID)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListLocks returns locks still active at now.
func (s *Store) ListLocks(ctx context.Context, now time.Time) ([]core.FileLock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_path, locked_by, lock_type, expires_at FROM file_locks WHERE expires_at > ? ORDER BY file_path`,
		toMS(now),
	)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) PurgeExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_locks WHERE expires_at <= ?`, toMS(now))
	if err != nil {
		return 0, fmt.Errorf("purge locks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
