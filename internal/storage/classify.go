package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

// Backends write claims, locks and transitions conditionally. When the write
// touches no row they re-read the current record and explain the refusal
// with the helpers below.

// ClaimConflict explains why a claim by agentID did not apply to existing.
func ClaimConflict(existing core.Task) error {
	if existing.Status == core.TaskStatusCompleted {
		return &core.ConflictError{Kind: core.ConflictAlreadyCompleted, Resource: existing.ID, Holder: existing.ClaimedBy, Status: string(existing.Status)}
	}
	return &core.ConflictError{Kind: core.ConflictAlreadyClaimed, Resource: existing.ID, Holder: existing.ClaimedBy, Status: string(existing.Status)}
}

// LockConflict explains why existing blocked an acquisition.
func LockConflict(existing core.FileLock) error {
	err := &core.ConflictError{Kind: core.ConflictLockHeld, Resource: existing.FilePath, Holder: existing.LockedBy}
	if !existing.ExpiresAt.IsZero() {
		expires := existing.ExpiresAt
		err.ExpiresAt = &expires
	}
	return err
}

// AcquireLock runs a conditional lock upsert and re-reads the row. upsert
// reports the rows it wrote. When the write was refused but the holder is
// gone by the re-read, the path is free again and the upsert is retried
// once; a second miss still reports lock_held.
func AcquireLock(ctx context.Context, path string, upsert func(context.Context) (int64, error), read func(context.Context) (core.FileLock, error)) (core.FileLock, error) {
	for attempt := 0; ; attempt++ {
		n, err := upsert(ctx)
		if err != nil {
			return core.FileLock{}, err
		}
		current, err := read(ctx)
		if n == 0 && errors.Is(err, core.ErrNotFound) {
			if attempt == 0 {
				continue
			}
			return core.FileLock{}, LockConflict(core.FileLock{FilePath: path})
		}
		if err != nil {
			return core.FileLock{}, err
		}
		if n == 0 {
			return core.FileLock{}, LockConflict(current)
		}
		return current, nil
	}
}

// TransitionConflict reports a review whose current status is outside the
// allowed set.
func TransitionConflict(r core.Review) error {
	return &core.ConflictError{Kind: core.ConflictInvalidTransition, Resource: r.ID, Status: string(r.Status)}
}

// SubmitRefusal explains why a submit by reviewer did not apply to r.
func SubmitRefusal(r core.Review, reviewer string) error {
	if r.Reviewer != "" && r.Reviewer != reviewer {
		return &core.UnauthorizedError{Resource: r.ID, Expected: r.Reviewer, Actual: reviewer}
	}
	return TransitionConflict(r)
}

// RollupDate is the review_metrics bucket for t.
func RollupDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
