package learning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/storage/sqlite"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type notice struct {
	recipient string
	typ       core.NotificationType
	payload   any
}

type recorder struct {
	mu   sync.Mutex
	sent []notice
}

func (r *recorder) Notify(_ context.Context, recipient string, typ core.NotificationType, _ string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notice{recipient: recipient, typ: typ, payload: payload})
}

func newTestEngine(t *testing.T, th core.Thresholds, window int) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := New(sqlite.NewSQLiteTest(t), th, window, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithNotifier(rec).
		WithClock(func() time.Time { return t0 })
	return e, rec
}

func decided(n int, status core.ReviewStatus, confidence int) core.Review {
	return core.Review{
		ID:         fmt.Sprintf("r%d", n),
		Type:       "create_core",
		Creator:    "builder",
		Status:     status,
		Confidence: &confidence,
	}
}

func TestRecordReviewCounts(t *testing.T) {
	e, _ := newTestEngine(t, core.DefaultThresholds, 20)
	ctx := context.Background()

	if _, err := e.RecordReview(ctx, decided(1, core.ReviewApproved, 80)); err != nil {
		t.Fatal(err)
	}
	p, err := e.RecordReview(ctx, decided(2, core.ReviewChangesRequested, 60))
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "create_core:builder" || p.TotalAttempts != 2 || p.SuccessfulReviews != 1 {
		t.Fatalf("unexpected pattern %+v", p)
	}
	if p.AvgConfidence != 0.7 {
		t.Fatalf("avg confidence %v, want 0.7", p.AvgConfidence)
	}
	if p.EligibleForSkip || p.SkipEnabled {
		t.Fatalf("pattern should not be eligible: %+v", p)
	}
	if p.LastReviewAt == nil || !p.LastReviewAt.Equal(t0) {
		t.Fatalf("last review at %v", p.LastReviewAt)
	}
}

func TestRecordReviewRejectsUndecided(t *testing.T) {
	e, _ := newTestEngine(t, core.DefaultThresholds, 20)
	r := decided(1, core.ReviewPending, 90)
	if _, err := e.RecordReview(context.Background(), r); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestConfidenceWindowIsBounded(t *testing.T) {
	e, _ := newTestEngine(t, core.DefaultThresholds, 3)
	ctx := context.Background()
	var p core.AutoSkipPattern
	var err error
	for i, c := range []int{10, 20, 90, 90, 90} {
		if p, err = e.RecordReview(ctx, decided(i, core.ReviewApproved, c)); err != nil {
			t.Fatal(err)
		}
	}
	if len(p.Confidences) != 3 {
		t.Fatalf("expected 3 confidences, got %v", p.Confidences)
	}
	if p.AvgConfidence != 0.9 {
		t.Fatalf("avg confidence %v, want 0.9", p.AvgConfidence)
	}
	if p.TotalAttempts != 5 {
		t.Fatalf("attempts are not windowed: %d", p.TotalAttempts)
	}
}

func TestEligibilityNotifiesOnce(t *testing.T) {
	e, rec := newTestEngine(t, core.Thresholds{MinConfidence: 0.9, MinSuccesses: 3}, 20)
	ctx := context.Background()
	var p core.AutoSkipPattern
	var err error
	for i := 0; i < 5; i++ {
		if p, err = e.RecordReview(ctx, decided(i, core.ReviewApproved, 95)); err != nil {
			t.Fatal(err)
		}
	}
	if !p.EligibleForSkip || !p.SkipSuggested {
		t.Fatalf("expected eligible and suggested: %+v", p)
	}
	if p.SkipEnabled {
		t.Fatal("eligibility must not enable skipping")
	}
	if len(rec.sent) != 1 || rec.sent[0].recipient != core.HumanRecipient || rec.sent[0].typ != core.NotifyAutoSkipEligible {
		t.Fatalf("expected a single operator notice, got %+v", rec.sent)
	}
}

func TestIsEligibleRequiresOperatorAndThresholds(t *testing.T) {
	e, _ := newTestEngine(t, core.Thresholds{MinConfidence: 0.9, MinSuccesses: 3}, 20)
	ctx := context.Background()
	th := core.Thresholds{MinConfidence: 0.9, MinSuccesses: 3}

	got, err := e.IsEligible(ctx, "create_core:builder", th)
	if err != nil || got.ShouldSkip {
		t.Fatalf("unknown pattern: %+v %v", got, err)
	}

	for i := 0; i < 3; i++ {
		if _, err := e.RecordReview(ctx, decided(i, core.ReviewApproved, 90)); err != nil {
			t.Fatal(err)
		}
	}
	got, err = e.IsEligible(ctx, "create_core:builder", th)
	if err != nil || got.ShouldSkip {
		t.Fatalf("eligible but not enabled: %+v %v", got, err)
	}

	if _, err := e.SetAutoSkip(ctx, "create_core:builder", true); err != nil {
		t.Fatal(err)
	}
	got, err = e.IsEligible(ctx, "create_core:builder", th)
	if err != nil || !got.ShouldSkip {
		t.Fatalf("expected skip: %+v %v", got, err)
	}
	if got.Reason != "Auto-skip: 3 successful reviews, 90% confidence" {
		t.Fatalf("unexpected reason %q", got.Reason)
	}

	got, err = e.IsEligible(ctx, "create_core:builder", core.Thresholds{MinConfidence: 0.95, MinSuccesses: 3})
	if err != nil || got.ShouldSkip || !strings.HasPrefix(got.Reason, "Below threshold") {
		t.Fatalf("stricter thresholds must not skip: %+v %v", got, err)
	}
}

func TestDefaultThresholdsWithRejection(t *testing.T) {
	e, rec := newTestEngine(t, core.DefaultThresholds, 20)
	ctx := context.Background()
	id := core.PatternID("create_core", "builder")

	var p core.AutoSkipPattern
	var err error
	for i := 0; i < 10; i++ {
		status := core.ReviewApproved
		if i == 4 {
			status = core.ReviewRejected
		}
		if p, err = e.RecordReview(ctx, decided(i, status, 95)); err != nil {
			t.Fatal(err)
		}
	}
	if p.TotalAttempts != 10 || p.SuccessfulReviews != 9 || p.EligibleForSkip {
		t.Fatalf("nine approvals must not be eligible: %+v", p)
	}
	if len(rec.sent) != 0 {
		t.Fatalf("unexpected notices %+v", rec.sent)
	}

	if p, err = e.RecordReview(ctx, decided(10, core.ReviewApproved, 95)); err != nil {
		t.Fatal(err)
	}
	if p.SuccessfulReviews != 10 || p.AvgConfidence != 0.95 || !p.EligibleForSkip {
		t.Fatalf("tenth approval should make the pattern eligible: %+v", p)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("expected one eligibility notice, got %+v", rec.sent)
	}

	got, err := e.IsEligible(ctx, id, core.DefaultThresholds)
	if err != nil || got.ShouldSkip || got.Reason != "Auto-skip not enabled" {
		t.Fatalf("eligible but not enabled: %+v %v", got, err)
	}
	if _, err := e.SetAutoSkip(ctx, id, true); err != nil {
		t.Fatal(err)
	}
	got, err = e.IsEligible(ctx, id, core.DefaultThresholds)
	if err != nil || !got.ShouldSkip {
		t.Fatalf("expected skip after operator enabled it: %+v %v", got, err)
	}
}

func TestPatternKeysDoNotCollide(t *testing.T) {
	e, _ := newTestEngine(t, core.DefaultThresholds, 20)
	ctx := context.Background()

	a := decided(1, core.ReviewApproved, 90)
	a.Type, a.Creator = "create_core", "x"
	b := decided(2, core.ReviewRejected, 40)
	b.Type, b.Creator = "create", "core_x"
	pa, err := e.RecordReview(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := e.RecordReview(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if pa.ID == pb.ID || pa.TotalAttempts != 1 || pb.TotalAttempts != 1 {
		t.Fatalf("patterns share a row: %+v %+v", pa, pb)
	}

	c := decided(3, core.ReviewApproved, 90)
	c.Type = "create:core"
	if _, err := e.RecordReview(ctx, c); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected separator in type to be refused, got %v", err)
	}
}

func TestSetAutoSkipUnknownPattern(t *testing.T) {
	e, _ := newTestEngine(t, core.DefaultThresholds, 20)
	if _, err := e.SetAutoSkip(context.Background(), "nope", true); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.SetAutoSkip(context.Background(), " ", true); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestPatternsListsEligible(t *testing.T) {
	e, _ := newTestEngine(t, core.Thresholds{MinConfidence: 0.5, MinSuccesses: 1}, 20)
	ctx := context.Background()
	if _, err := e.RecordReview(ctx, decided(1, core.ReviewApproved, 80)); err != nil {
		t.Fatal(err)
	}
	other := decided(2, core.ReviewRejected, 30)
	other.Creator = "tester"
	if _, err := e.RecordReview(ctx, other); err != nil {
		t.Fatal(err)
	}
	all, err := e.Patterns(ctx, false)
	if err != nil || len(all) != 2 {
		t.Fatalf("all patterns: %v %v", all, err)
	}
	eligible, err := e.Patterns(ctx, true)
	if err != nil || len(eligible) != 1 || eligible[0].ID != "create_core:builder" {
		t.Fatalf("eligible patterns: %v %v", eligible, err)
	}
}
