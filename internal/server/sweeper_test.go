package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mistakeknot/intercoord/internal/review"
)

type fakeReviews struct {
	calls atomic.Int32
	res   review.SweepResult
	err   error
}

func (f *fakeReviews) SweepReviews(context.Context) (review.SweepResult, error) {
	f.calls.Add(1)
	return f.res, f.err
}

type fakeLocks struct {
	calls  atomic.Int32
	purged int
	err    error
}

func (f *fakeLocks) PurgeExpiredLocks(context.Context) (int, error) {
	f.calls.Add(1)
	return f.purged, f.err
}

func TestSweeperRunOnce(t *testing.T) {
	reviews := &fakeReviews{res: review.SweepResult{Reminders: []string{"r1"}, Escalated: []string{"r2", "r3"}}}
	locks := &fakeLocks{purged: 4}
	sw := NewSweeper(reviews, locks, time.Minute, quietLogger())

	report, err := sw.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(report.Reminders) != 1 || len(report.Escalated) != 2 || report.PurgedLocks != 4 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestSweeperPurgesLocksWhenReviewSweepFails(t *testing.T) {
	reviews := &fakeReviews{err: errors.New("db down")}
	locks := &fakeLocks{purged: 2}
	sw := NewSweeper(reviews, locks, time.Minute, quietLogger())

	report, err := sw.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected review error")
	}
	if locks.calls.Load() != 1 || report.PurgedLocks != 2 {
		t.Fatalf("lock purge should still run: %+v", report)
	}
}

func TestSweeperStartStop(t *testing.T) {
	reviews := &fakeReviews{}
	locks := &fakeLocks{}
	sw := NewSweeper(reviews, locks, 10*time.Millisecond, quietLogger())
	sw.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for reviews.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sw.Stop()
	after := reviews.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if reviews.calls.Load() != after {
		t.Fatalf("sweeper kept running after Stop")
	}
}

func TestSweeperStopWithoutStart(t *testing.T) {
	NewSweeper(&fakeReviews{}, &fakeLocks{}, time.Minute, nil).Stop()
}
