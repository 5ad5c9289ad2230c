package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrConfigurationMissing = errors.New("configuration missing")
)

// ConflictKind narrows an ErrConflict down to the contended resource.
type ConflictKind string

const (
	ConflictAlreadyClaimed    ConflictKind = "already_claimed"
	ConflictAlreadyCompleted  ConflictKind = "already_completed"
	ConflictLockHeld          ConflictKind = "lock_held"
	ConflictInvalidTransition ConflictKind = "invalid_transition"
	ConflictDuplicate         ConflictKind = "duplicate"
)

// ConflictError reports a contended task, lock or review. It matches
// ErrConflict under errors.Is.
type ConflictError struct {
	Kind      ConflictKind `json:"kind"`
	Resource  string       `json:"resource"`
	Holder    string       `json:"holder,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	Status    string       `json:"status,omitempty"`
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictAlreadyClaimed:
		return fmt.Sprintf("task %s already claimed by %s", e.Resource, e.Holder)
	case ConflictAlreadyCompleted:
		return fmt.Sprintf("task %s already completed", e.Resource)
	case ConflictLockHeld:
		if e.ExpiresAt != nil {
			return fmt.Sprintf("file %s is locked by %s until %s", e.Resource, e.Holder, e.ExpiresAt.UTC().Format(time.RFC3339))
		}
		if e.Holder == "" {
			return fmt.Sprintf("file %s is locked", e.Resource)
		}
		return fmt.Sprintf("file %s is locked by %s", e.Resource, e.Holder)
	case ConflictInvalidTransition:
		return fmt.Sprintf("review %s cannot transition from %s", e.Resource, e.Status)
	case ConflictDuplicate:
		return fmt.Sprintf("%s already exists", e.Resource)
	}
	return fmt.Sprintf("conflict on %s", e.Resource)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// UnauthorizedError reports an agent acting on a review assigned to someone else.
type UnauthorizedError struct {
	Resource string `json:"resource"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("only %s can submit %s (caller %s)", e.Expected, e.Resource, e.Actual)
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// Invalid wraps ErrInvalidRequest with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind and id of the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
