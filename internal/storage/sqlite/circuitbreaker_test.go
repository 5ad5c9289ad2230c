package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(5, 30*time.Second)
	testErr := errors.New("disk I/O error")

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return testErr })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open after %d failures, got %s", 5, cb.State())
	}

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("fn should not have been called when breaker is open")
	}
}

func TestBreakerIgnoresDomainErrors(t *testing.T) {
	cb := NewCircuitBreaker(3, 30*time.Second)
	domainErrs := []error{
		&core.ConflictError{Kind: core.ConflictAlreadyClaimed, Resource: "t1", Holder: "a"},
		core.NotFound("review", "r1"),
		&core.UnauthorizedError{Resource: "r1", Expected: "a", Actual: "b"},
		core.Invalid("missing title"),
	}
	for i := 0; i < 3; i++ {
		for _, derr := range domainErrs {
			got := cb.Execute(func() error { return derr })
			if got != derr {
				t.Fatalf("expected domain error passed through, got %v", got)
			}
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("domain errors must not trip the breaker, got %s", cb.State())
	}
}

func TestBreakerResetsAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(5, 100*time.Millisecond)
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }
	testErr := errors.New("fail")

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return testErr })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	now = now.Add(200 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestBreakerProbeFailureReOpens(t *testing.T) {
	cb := NewCircuitBreaker(5, 100*time.Millisecond)
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }
	testErr := errors.New("fail")

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return testErr })
	}

	now = now.Add(200 * time.Millisecond)
	_ = cb.Execute(func() error { return testErr })
	if cb.State() != StateOpen {
		t.Fatalf("expected open after probe failure, got %s", cb.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(5, 30*time.Second)
	testErr := errors.New("fail")

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return testErr })
	}
	_ = cb.Execute(func() error { return nil })
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return testErr })
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed (3+3 non-consecutive < threshold 5), got %s", cb.State())
	}
}

func TestBreakerReportsTransitions(t *testing.T) {
	var seen []string
	cb := NewCircuitBreaker(2, time.Minute).OnStateChange(func(from, to BreakerState) {
		seen = append(seen, from.String()+">"+to.String())
	})
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }
	fail := errors.New("database disk image is malformed")

	_ = cb.Execute(func() error { return fail })
	_ = cb.Execute(func() error { return fail })
	now = now.Add(2 * time.Minute)
	_ = cb.Execute(func() error { return nil })

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestBreakerAdmitsOneProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }
	_ = cb.Execute(func() error { return errors.New("fail") })
	now = now.Add(2 * time.Minute)

	probing := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(func() error {
			close(probing)
			<-release
			return nil
		})
	}()
	<-probing
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second caller during probe: got %v", err)
	}
	close(release)
	wg.Wait()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after probe, got %s", cb.State())
	}
}

func TestResilientStorePassesDomainErrors(t *testing.T) {
	rs := NewResilient(NewSQLiteTest(t))
	ctx := context.Background()
	now := time.Now()
	if _, err := rs.ClaimTask(ctx, "t1", "builder", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := rs.ClaimTask(ctx, "t1", "auditor", now); !errors.Is(err, core.ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
	}
	if rs.CircuitBreakerState() != "closed" {
		t.Fatalf("conflicts must not open the breaker: %s", rs.CircuitBreakerState())
	}
}
