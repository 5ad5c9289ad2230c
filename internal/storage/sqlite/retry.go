package sqlite

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mistakeknot/intercoord/internal/metrics"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Backoff shapes the waits between retries of a busy store call: Base,
// doubled per attempt, plus up to Jitter (a fraction) of random slack.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Jitter   float64
}

// DefaultBackoff rides out a writer holding the WAL lock for a few seconds.
var DefaultBackoff = Backoff{Attempts: 7, Base: 50 * time.Millisecond, Jitter: 0.25}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Base << (attempt - 1)
	return d + time.Duration(float64(d)*rand.Float64()*b.Jitter)
}

// RetryBusy runs fn and retries it while SQLite reports the database busy or
// locked. Any other outcome, domain errors included, returns at once. A done
// ctx stops the retries and the last store error is returned.
func RetryBusy(ctx context.Context, b Backoff, fn func() error) error {
	return retryBusy(ctx, b, fn, sleepCtx)
}

func retryBusy(ctx context.Context, b Backoff, fn func() error, sleep func(context.Context, time.Duration) error) error {
	err := fn()
	for attempt := 1; attempt <= b.Attempts && isBusy(err); attempt++ {
		metrics.RecordStoreRetry()
		if serr := sleep(ctx, b.delay(attempt)); serr != nil {
			return fmt.Errorf("%w (retry abandoned: %v)", err, serr)
		}
		err = fn()
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
