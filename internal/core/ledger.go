package core

import "time"

// TaskStatus is the lifecycle state of a work_queue row.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Task is a unit of work owned by at most one agent at a time.
type Task struct {
	ID          string     `json:"task_id"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	Status      TaskStatus `json:"status"`
}

// LockType is recorded with each lock. Conflicts are decided by owner and
// expiry only.
type LockType string

const (
	LockRead  LockType = "read"
	LockWrite LockType = "write"
)

func (t LockType) Valid() bool {
	return t == LockRead || t == LockWrite
}

// DefaultLockTTL applies when a caller omits the lock duration.
const DefaultLockTTL = 60 * time.Second

// FileLock is a time-bounded exclusivity record over one file path.
type FileLock struct {
	FilePath  string    `json:"file_path"`
	LockedBy  string    `json:"locked_by"`
	LockType  LockType  `json:"lock_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the lock still blocks other agents at now.
func (l FileLock) Active(now time.Time) bool {
	return l.ExpiresAt.After(now)
}

// AgentStatus is the liveness row upserted on every heartbeat.
type AgentStatus struct {
	AgentID       string     `json:"agent_id"`
	CurrentTask   string     `json:"current_task,omitempty"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// HeartbeatResult reports the upserted agent row and whether the named task's
// heartbeat was refreshed (only when the agent owns the claim).
type HeartbeatResult struct {
	Agent         AgentStatus `json:"agent"`
	TaskRefreshed bool        `json:"task_refreshed"`
}
