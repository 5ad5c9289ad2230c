package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

// newRaceStore opens a file-backed WAL store behind the resilient wrapper so
// goroutines contend on real connections. ":memory:" gives each connection
// its own database and cannot be used here.
func newRaceStore(t *testing.T) *ResilientStore {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "race.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewResilient(st)
}

// TestConcurrentClaimSingleWinner: for each task, exactly one of the
// competing agents wins and every loser sees a conflict.
func TestConcurrentClaimSingleWinner(t *testing.T) {
	st := newRaceStore(t)
	ctx := context.Background()
	const tasks = 5
	const agents = 8

	for task := 0; task < tasks; task++ {
		taskID := fmt.Sprintf("task-%d", task)
		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for a := 0; a < agents; a++ {
			wg.Add(1)
			go func(agent int) {
				defer wg.Done()
				_, err := st.ClaimTask(ctx, taskID, fmt.Sprintf("agent-%d", agent), time.Now())
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, core.ErrConflict):
					conflicts.Add(1)
				default:
					t.Errorf("agent %d: unexpected error %v", agent, err)
				}
			}(a)
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("%s: expected exactly 1 winner, got %d", taskID, wins.Load())
		}
		if conflicts.Load() != agents-1 {
			t.Fatalf("%s: expected %d conflicts, got %d", taskID, agents-1, conflicts.Load())
		}
	}
}

// TestConcurrentLockAcquire: one write lock holder per path.
func TestConcurrentLockAcquire(t *testing.T) {
	st := newRaceStore(t)
	ctx := context.Background()
	const agents = 10
	now := time.Now()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for a := 0; a < agents; a++ {
		wg.Add(1)
		go func(agent int) {
			defer wg.Done()
			lock := core.FileLock{
				FilePath:  "internal/shared.go",
				LockedBy:  fmt.Sprintf("agent-%d", agent),
				LockType:  core.LockWrite,
				ExpiresAt: now.Add(time.Minute),
			}
			_, err := st.AcquireLock(ctx, lock, now)
			if err == nil {
				wins.Add(1)
				return
			}
			if !errors.Is(err, core.ErrConflict) {
				t.Errorf("agent %d: unexpected error %v", agent, err)
			}
		}(a)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly 1 lock holder, got %d", wins.Load())
	}
	if st.CircuitBreakerState() != "closed" {
		t.Fatalf("conflicts must not trip the breaker, state=%s", st.CircuitBreakerState())
	}
}

// TestConcurrentPatternUpdates: read-modify-write pattern updates never lose
// an increment.
func TestConcurrentPatternUpdates(t *testing.T) {
	st := newRaceStore(t)
	ctx := context.Background()
	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := st.UpdatePattern(ctx, "create_app", "builder", func(p *core.AutoSkipPattern) error {
					p.TotalAttempts++
					return nil
				})
				if err != nil {
					t.Errorf("update: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	p, err := st.GetPattern(ctx, core.PatternID("create_app", "builder"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.TotalAttempts != workers*perWorker {
		t.Fatalf("expected %d attempts, got %d", workers*perWorker, p.TotalAttempts)
	}
}
