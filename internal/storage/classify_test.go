package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

func TestAcquireLockRetriesWhenHolderVanishes(t *testing.T) {
	held := core.FileLock{FilePath: "a.go", LockedBy: "builder", LockType: core.LockWrite, ExpiresAt: time.Unix(100, 0)}
	writes := 0
	upsert := func(context.Context) (int64, error) {
		writes++
		if writes == 1 {
			return 0, nil
		}
		return 1, nil
	}
	reads := 0
	read := func(context.Context) (core.FileLock, error) {
		reads++
		if reads == 1 {
			return core.FileLock{}, core.NotFound("lock", "a.go")
		}
		return held, nil
	}

	got, err := AcquireLock(context.Background(), "a.go", upsert, read)
	if err != nil {
		t.Fatal(err)
	}
	if writes != 2 || got != held {
		t.Fatalf("expected retried write to win, got %+v after %d writes", got, writes)
	}
}

func TestAcquireLockNeverReportsNotFound(t *testing.T) {
	upsert := func(context.Context) (int64, error) { return 0, nil }
	read := func(context.Context) (core.FileLock, error) { return core.FileLock{}, core.NotFound("lock", "a.go") }

	_, err := AcquireLock(context.Background(), "a.go", upsert, read)
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) || conflict.Kind != core.ConflictLockHeld || conflict.Resource != "a.go" {
		t.Fatalf("expected lock_held, got %v", err)
	}
	if errors.Is(err, core.ErrNotFound) {
		t.Fatalf("refused acquire must not surface not_found: %v", err)
	}
}

func TestAcquireLockReportsHolder(t *testing.T) {
	held := core.FileLock{FilePath: "a.go", LockedBy: "architect", ExpiresAt: time.Unix(100, 0)}
	upsert := func(context.Context) (int64, error) { return 0, nil }
	read := func(context.Context) (core.FileLock, error) { return held, nil }

	_, err := AcquireLock(context.Background(), "a.go", upsert, read)
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) || conflict.Holder != "architect" || conflict.ExpiresAt == nil {
		t.Fatalf("expected conflict naming the holder, got %v", err)
	}
}
