package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/mistakeknot/intercoord/internal/metrics"
	"github.com/mistakeknot/intercoord/internal/review"
)

type ReviewSweeper interface {
	SweepReviews(ctx context.Context) (review.SweepResult, error)
}

type LockPurger interface {
	PurgeExpiredLocks(ctx context.Context) (int, error)
}

// SweepReport is the outcome of one sweep.
type SweepReport struct {
	review.SweepResult
	PurgedLocks int `json:"purged_locks"`
}

// Sweeper periodically runs the review timeout sweep and drops expired lock
// rows. Expired locks are already ignored on read; purging only keeps the
// table small.
type Sweeper struct {
	reviews  ReviewSweeper
	locks    LockPurger
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a new Sweeper. Call Start() to begin sweeping.
func NewSweeper(reviews ReviewSweeper, locks LockPurger, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		reviews:  reviews,
		locks:    locks,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep goroutine: one sweep right away, then
// one per interval.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		sw.run(ctx)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.run(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel == nil {
		return
	}
	sw.cancel()
	<-sw.done
}

func (sw *Sweeper) run(ctx context.Context) {
	if _, err := sw.RunOnce(ctx); err != nil && ctx.Err() == nil {
		sw.logger.Warn("sweep failed", "error", err)
	}
}

// RunOnce sweeps reviews, then locks. A review sweep failure still lets the
// lock purge run; the first error is returned along with partial results.
func (sw *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	res, reviewErr := sw.reviews.SweepReviews(ctx)
	report := SweepReport{SweepResult: res}
	purged, lockErr := sw.locks.PurgeExpiredLocks(ctx)
	if lockErr == nil {
		report.PurgedLocks = purged
	}
	metrics.RecordSweep(len(report.Reminders), len(report.Escalated), report.PurgedLocks)

	if n := len(report.Reminders) + len(report.Escalated) + report.PurgedLocks; n > 0 {
		sw.logger.Info("sweep",
			"reminders", len(report.Reminders),
			"escalated", len(report.Escalated),
			"purged_locks", report.PurgedLocks,
		)
	}
	if reviewErr != nil {
		return report, reviewErr
	}
	return report, lockErr
}
