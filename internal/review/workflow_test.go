package review

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/learning"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/storage/sqlite"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type sent struct {
	recipient string
	typ       core.NotificationType
	reviewID  string
}

type inbox struct {
	mu   sync.Mutex
	sent []sent
}

func (i *inbox) Notify(_ context.Context, recipient string, typ core.NotificationType, reviewID string, _ any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sent = append(i.sent, sent{recipient: recipient, typ: typ, reviewID: reviewID})
}

func (i *inbox) of(typ core.NotificationType) []sent {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []sent
	for _, s := range i.sent {
		if s.typ == typ {
			out = append(out, s)
		}
	}
	return out
}

type harness struct {
	wf      *Workflow
	clock   *clock
	inbox   *inbox
	learner *learning.Engine
}

const testPolicy = `
review_required:
  actions: [create_core, security_change]
reviewer_matrix:
  builder: {primary: architect, backup: auditor}
critical_types: [security_change]
`

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := sqlite.NewSQLiteTest(t)
	cfg, err := policy.Parse([]byte(testPolicy), false)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	box := &inbox{}
	learner := learning.New(st, cfg.EligibilityThresholds(), cfg.Learning.Window, logger).WithNotifier(box).WithClock(c.now)
	engine := policy.NewEngine(cfg, st, learner, logger).WithClock(c.now)
	wf := New(st, engine, logger).WithLearner(learner).WithNotifier(box).WithClock(c.now)
	return &harness{wf: wf, clock: c, inbox: box, learner: learner}
}

func request(id string) core.ReviewRequest {
	return core.ReviewRequest{ID: id, Type: "create_core", Creator: "builder", Title: "Add parser " + id}
}

func intp(v int) *int { return &v }

func TestCreateReviewIsPureInsert(t *testing.T) {
	h := newHarness(t)
	r, err := h.wf.CreateReview(context.Background(), request("r1"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != core.ReviewPending || r.Reviewer != "" || r.RevisionCount != 0 {
		t.Fatalf("unexpected review %+v", r)
	}
	if len(h.inbox.sent) != 0 {
		t.Fatalf("create must not notify: %+v", h.inbox.sent)
	}
	if _, err := h.wf.CreateReview(context.Background(), request("r1")); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected duplicate conflict, got %v", err)
	}
}

func TestCreateReviewValidates(t *testing.T) {
	h := newHarness(t)
	req := request("r1")
	req.Title = ""
	if _, err := h.wf.CreateReview(context.Background(), req); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}

	req = request("r2")
	req.Type = "create:core"
	if _, err := h.wf.CreateReview(context.Background(), req); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected pattern separator in type to be refused, got %v", err)
	}
}

func TestRequestReviewAssignsAndNotifies(t *testing.T) {
	h := newHarness(t)
	r, err := h.wf.RequestReview(context.Background(), request("r1"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Reviewer != "architect" || r.Status != core.ReviewPending {
		t.Fatalf("unexpected review %+v", r)
	}
	got := h.inbox.of(core.NotifyReviewRequested)
	if len(got) != 1 || got[0].recipient != "architect" || got[0].reviewID != "r1" {
		t.Fatalf("unexpected notifications %+v", got)
	}
}

func TestRequestReviewFailsOverToBackup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		if _, err := h.wf.RequestReview(ctx, request(id)); err != nil {
			t.Fatal(err)
		}
	}
	r, err := h.wf.RequestReview(ctx, request("r4"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Reviewer != "auditor" {
		t.Fatalf("expected backup reviewer, got %s", r.Reviewer)
	}
}

func TestFullApprovalCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.wf.RequestReview(ctx, request("r1")); err != nil {
		t.Fatal(err)
	}
	started, err := h.wf.StartReview(ctx, "r1", "architect")
	if err != nil {
		t.Fatal(err)
	}
	if started.Status != core.ReviewInProgress || started.StartedAt == nil {
		t.Fatalf("unexpected started review %+v", started)
	}

	h.clock.advance(12 * time.Minute)
	done, err := h.wf.SubmitReview(ctx, core.ReviewDecision{
		ReviewID: "r1", Reviewer: "architect", Status: core.ReviewApproved, Confidence: intp(92),
	})
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != core.ReviewApproved || done.CompletedAt == nil {
		t.Fatalf("unexpected submitted review %+v", done)
	}
	if done.TimeToReviewMS == nil || *done.TimeToReviewMS != (12*time.Minute).Milliseconds() {
		t.Fatalf("time to review %v", done.TimeToReviewMS)
	}
	if got := h.inbox.of(core.NotifyReviewCompleted); len(got) != 1 || got[0].recipient != "builder" {
		t.Fatalf("creator not notified: %+v", got)
	}

	p, err := h.learner.Pattern(ctx, "create_core:builder")
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalAttempts != 1 || p.SuccessfulReviews != 1 || p.AvgConfidence != 0.92 {
		t.Fatalf("unexpected pattern %+v", p)
	}

	rollups, err := h.wf.DailyRollups(ctx, core.PeriodDay)
	if err != nil {
		t.Fatal(err)
	}
	if len(rollups) != 1 || rollups[0].Approved != 1 || rollups[0].Reviewer != "architect" {
		t.Fatalf("unexpected rollups %+v", rollups)
	}
}

func TestSubmitByOtherReviewerUnauthorized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.wf.RequestReview(ctx, request("r1")); err != nil {
		t.Fatal(err)
	}
	_, err := h.wf.SubmitReview(ctx, core.ReviewDecision{ReviewID: "r1", Reviewer: "intruder", Status: core.ReviewApproved})
	var unauthorized *core.UnauthorizedError
	if !errors.As(err, &unauthorized) || unauthorized.Expected != "architect" {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	r, err := h.wf.GetReview(ctx, "r1")
	if err != nil || r.Status != core.ReviewPending {
		t.Fatalf("review must be unchanged: %+v %v", r, err)
	}
}

func TestSubmitRejectsInvalidDecision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.wf.RequestReview(ctx, request("r1")); err != nil {
		t.Fatal(err)
	}
	for _, d := range []core.ReviewDecision{
		{ReviewID: "r1", Reviewer: "architect", Status: core.ReviewPending},
		{ReviewID: "r1", Reviewer: "architect", Status: core.ReviewApproved, Confidence: intp(101)},
	} {
		if _, err := h.wf.SubmitReview(ctx, d); !errors.Is(err, core.ErrInvalidRequest) {
			t.Fatalf("expected invalid request for %+v, got %v", d, err)
		}
	}
}

func TestRevisionCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.wf.RequestReview(ctx, request("r1")); err != nil {
		t.Fatal(err)
	}
	feedback, _ := core.NewPayload(map[string]string{"summary": "add tests"})
	if _, err := h.wf.SubmitReview(ctx, core.ReviewDecision{
		ReviewID: "r1", Reviewer: "architect", Status: core.ReviewChangesRequested, Feedback: feedback,
	}); err != nil {
		t.Fatal(err)
	}
	if got := h.inbox.of(core.NotifyChangesRequested); len(got) != 1 {
		t.Fatalf("expected changes_requested notice, got %+v", got)
	}

	artifacts, _ := core.NewPayload(map[string]string{"tests": "func TestParse(t *testing.T) {}"})
	r, err := h.wf.RequestReReview(ctx, "r1", 1, "added tests", artifacts)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != core.ReviewPendingReReview || r.RevisionCount != 1 || r.StartedAt != nil {
		t.Fatalf("unexpected review %+v", r)
	}
	if len(r.Revisions) != 1 || r.Revisions[0].ChangesMade != "added tests" {
		t.Fatalf("unexpected revisions %+v", r.Revisions)
	}
	if r.Artifacts.String("tests") == "" {
		t.Fatal("artifacts not replaced")
	}
	if got := h.inbox.of(core.NotifyReviewRevision); len(got) != 1 || got[0].recipient != "architect" {
		t.Fatalf("reviewer not notified: %+v", got)
	}

	if _, err := h.wf.RequestReReview(ctx, "r1", 0, "again", nil); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected invalid revision number, got %v", err)
	}
}

func TestReReviewAfterApprovalConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.wf.RequestReview(ctx, request("r1")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.wf.SubmitReview(ctx, core.ReviewDecision{ReviewID: "r1", Reviewer: "architect", Status: core.ReviewApproved}); err != nil {
		t.Fatal(err)
	}
	_, err := h.wf.RequestReReview(ctx, "r1", 1, "late change", nil)
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) || conflict.Kind != core.ConflictInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestEscalateAndResolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.wf.RequestReview(ctx, request("r1")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.wf.SubmitReview(ctx, core.ReviewDecision{ReviewID: "r1", Reviewer: "architect", Status: core.ReviewRejected}); err != nil {
		t.Fatal(err)
	}
	r, err := h.wf.Escalate(ctx, "r1", core.EscalationCreatorDisagrees, "the approach is sound")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != core.ReviewEscalated || r.CreatorArgument != "the approach is sound" {
		t.Fatalf("unexpected review %+v", r)
	}
	if got := h.inbox.of(core.NotifyEscalated); len(got) != 1 || got[0].recipient != core.HumanRecipient {
		t.Fatalf("human not notified: %+v", got)
	}
	if _, err := h.wf.Escalate(ctx, "r1", core.EscalationTimeout, ""); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("escalating twice should conflict, got %v", err)
	}

	r, err = h.wf.ResolveEscalation(ctx, "r1", core.ResolutionApprove, "lead", "ship it")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != core.ReviewApproved || r.Resolution != core.ResolutionApprove || r.ResolvedBy != "lead" || r.ResolvedAt == nil {
		t.Fatalf("unexpected resolved review %+v", r)
	}
	if got := h.inbox.of(core.NotifyEscalationResolved); len(got) != 2 {
		t.Fatalf("expected creator and reviewer notices, got %+v", got)
	}
	if _, err := h.wf.ResolveEscalation(ctx, "r1", core.ResolutionReject, "lead", ""); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("resolving a non-escalated review should conflict, got %v", err)
	}
}

func TestEscalateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.wf.Escalate(ctx, "r1", "boredom", ""); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected invalid reason, got %v", err)
	}
	if _, err := h.wf.Escalate(ctx, "missing", core.EscalationTimeout, ""); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.wf.ResolveEscalation(ctx, "r1", "maybe", "lead", ""); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected invalid resolution, got %v", err)
	}
}

func TestListReviews(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"r1", "r2"} {
		if _, err := h.wf.RequestReview(ctx, request(id)); err != nil {
			t.Fatal(err)
		}
		h.clock.advance(time.Second)
	}
	if _, err := h.wf.StartReview(ctx, "r2", "architect"); err != nil {
		t.Fatal(err)
	}
	pending, err := h.wf.ListReviews(ctx, core.ReviewFilter{Status: core.ReviewPending})
	if err != nil || len(pending) != 1 || pending[0].ID != "r1" {
		t.Fatalf("pending: %+v %v", pending, err)
	}
	mine, err := h.wf.ListReviews(ctx, core.ReviewFilter{Reviewer: "architect"})
	if err != nil || len(mine) != 2 || mine[0].ID != "r2" {
		t.Fatalf("reviewer queue: %+v %v", mine, err)
	}
	if _, err := h.wf.ListReviews(ctx, core.ReviewFilter{Status: "lost"}); !errors.Is(err, core.ErrInvalidRequest) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}
