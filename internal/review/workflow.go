// Package review owns the review lifecycle: creation and assignment,
// start and submit, revision cycles, escalation and its resolution.
//
// Every transition is a single guarded write in the store. Side effects that
// follow a committed transition (daily rollups, pattern learning and
// notifications) are best-effort: their failures are logged and never undo
// or fail the transition.
package review

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/metrics"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/storage"
)

// Policy is the part of the policy engine the workflow drives.
type Policy interface {
	AssignReviewer(ctx context.Context, creator, reviewType string) (string, error)
	ShouldEscalate(r core.Review) policy.EscalationDecision
	CheckTimeouts(ctx context.Context) ([]core.Review, error)
	ReviewTimedOut(r core.Review) bool
}

// Learner consumes decided reviews and reports learned patterns.
type Learner interface {
	RecordReview(ctx context.Context, r core.Review) (core.AutoSkipPattern, error)
	Patterns(ctx context.Context, eligibleOnly bool) ([]core.AutoSkipPattern, error)
}

type Notifier interface {
	Notify(ctx context.Context, recipient string, typ core.NotificationType, reviewID string, payload any)
}

type Workflow struct {
	store    storage.ReviewStore
	policy   Policy
	learner  Learner
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func New(store storage.ReviewStore, pol Policy, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{store: store, policy: pol, logger: logger, now: time.Now}
}

func (w *Workflow) WithLearner(l Learner) *Workflow {
	w.learner = l
	return w
}

func (w *Workflow) WithNotifier(n Notifier) *Workflow {
	w.notifier = n
	return w
}

func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	w.now = now
	return w
}

func (w *Workflow) notify(ctx context.Context, recipient string, typ core.NotificationType, reviewID string, payload any) {
	if w.notifier == nil {
		return
	}
	w.notifier.Notify(ctx, recipient, typ, reviewID, payload)
}

// CreateReview inserts a pending review with no reviewer. It performs no
// assignment and sends no notification.
func (w *Workflow) CreateReview(ctx context.Context, req core.ReviewRequest) (core.Review, error) {
	if err := req.Validate(); err != nil {
		return core.Review{}, err
	}
	questions := req.Questions
	if questions == nil {
		questions = []string{}
	}
	r, err := w.store.CreateReview(ctx, core.Review{
		ID:        req.ID,
		Type:      req.Type,
		Creator:   req.Creator,
		Title:     req.Title,
		Status:    core.ReviewPending,
		CreatedAt: w.now().UTC(),
		Artifacts: req.Artifacts,
		Context:   req.Context,
		Questions: questions,
	})
	if err != nil {
		return core.Review{}, err
	}
	metrics.RecordReviewTransition(string(core.ReviewPending))
	w.logger.Info("review created", "review_id", r.ID, "type", r.Type, "creator", r.Creator)
	return r, nil
}

// RequestReview creates the review, assigns a reviewer through the policy
// engine and notifies them. If assignment fails the review stays pending and
// unassigned, and the error is returned.
func (w *Workflow) RequestReview(ctx context.Context, req core.ReviewRequest) (core.Review, error) {
	r, err := w.CreateReview(ctx, req)
	if err != nil {
		return core.Review{}, err
	}
	reviewer, err := w.policy.AssignReviewer(ctx, r.Creator, r.Type)
	if err != nil {
		return core.Review{}, err
	}
	r, err = w.store.AssignReviewer(ctx, r.ID, reviewer)
	if err != nil {
		return core.Review{}, err
	}
	w.logger.Info("reviewer assigned", "review_id", r.ID, "reviewer", reviewer)
	w.notify(ctx, reviewer, core.NotifyReviewRequested, r.ID, map[string]any{
		"title":     r.Title,
		"type":      r.Type,
		"creator":   r.Creator,
		"questions": r.Questions,
	})
	return r, nil
}

func (w *Workflow) GetReview(ctx context.Context, id string) (core.Review, error) {
	if strings.TrimSpace(id) == "" {
		return core.Review{}, core.Invalid("review id required")
	}
	return w.store.GetReview(ctx, id)
}

func (w *Workflow) ListReviews(ctx context.Context, filter core.ReviewFilter) ([]core.Review, error) {
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, core.Invalid("unknown status %q", filter.Status)
	}
	out, err := w.store.ListReviews(ctx, filter)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []core.Review{}
	}
	return out, nil
}

// StartReview marks the review in progress and records reviewer as its
// reviewer. Anyone may start a review.
func (w *Workflow) StartReview(ctx context.Context, id, reviewer string) (core.Review, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(reviewer) == "" {
		return core.Review{}, core.Invalid("review id and reviewer required")
	}
	r, err := w.store.StartReview(ctx, id, reviewer, w.now().UTC())
	if err != nil {
		return core.Review{}, err
	}
	metrics.RecordReviewTransition(string(r.Status))
	return r, nil
}

// SubmitReview records a verdict from the assigned reviewer (or from anyone
// if the review is unassigned), then updates the daily rollup, feeds the
// learner and tells the creator.
func (w *Workflow) SubmitReview(ctx context.Context, d core.ReviewDecision) (core.Review, error) {
	if err := d.Validate(); err != nil {
		return core.Review{}, err
	}
	r, err := w.store.SubmitReview(ctx, d, w.now().UTC())
	if err != nil {
		return core.Review{}, err
	}
	metrics.RecordReviewTransition(string(r.Status))
	w.logger.Info("review submitted", "review_id", r.ID, "reviewer", r.Reviewer, "status", r.Status)

	if err := w.store.RecordDailyRollup(ctx, r); err != nil {
		w.logger.Warn("daily rollup not recorded", "review_id", r.ID, "error", err)
	}
	if w.learner != nil {
		if _, err := w.learner.RecordReview(ctx, r); err != nil {
			w.logger.Warn("review outcome not learned", "review_id", r.ID, "error", err)
		}
	}

	typ := core.NotifyReviewCompleted
	if r.Status == core.ReviewChangesRequested {
		typ = core.NotifyChangesRequested
	}
	w.notify(ctx, r.Creator, typ, r.ID, map[string]any{
		"status":     r.Status,
		"reviewer":   r.Reviewer,
		"feedback":   r.Feedback,
		"confidence": r.Confidence,
	})
	return r, nil
}

// RequestReReview sends a revised review back to its reviewer.
// revisionNumber becomes the review's revision count.
func (w *Workflow) RequestReReview(ctx context.Context, id string, revisionNumber int, changesMade string, artifacts core.Payload) (core.Review, error) {
	if strings.TrimSpace(id) == "" {
		return core.Review{}, core.Invalid("review id required")
	}
	if revisionNumber < 1 {
		return core.Review{}, core.Invalid("revision number must be at least 1")
	}
	if err := artifacts.ValidateObject("artifacts"); err != nil {
		return core.Review{}, err
	}
	r, err := w.store.RequestReReview(ctx, id, revisionNumber, changesMade, artifacts, w.now().UTC())
	if err != nil {
		return core.Review{}, err
	}
	metrics.RecordReviewTransition(string(r.Status))
	w.logger.Info("re-review requested", "review_id", r.ID, "revision", revisionNumber)
	if r.Reviewer != "" {
		w.notify(ctx, r.Reviewer, core.NotifyReviewRevision, r.ID, map[string]any{
			"revision_number": revisionNumber,
			"changes_made":    changesMade,
			"creator":         r.Creator,
		})
	}
	return r, nil
}

// Escalate hands the review to the human operator.
func (w *Workflow) Escalate(ctx context.Context, id string, reason core.EscalationReason, creatorArgument string) (core.Review, error) {
	if strings.TrimSpace(id) == "" {
		return core.Review{}, core.Invalid("review id required")
	}
	if !validReason(reason) {
		return core.Review{}, core.Invalid("unknown escalation reason %q", reason)
	}
	r, err := w.store.EscalateReview(ctx, id, reason, creatorArgument)
	if err != nil {
		return core.Review{}, err
	}
	metrics.RecordReviewTransition(string(r.Status))
	w.logger.Warn("review escalated", "review_id", r.ID, "reason", reason)
	w.notify(ctx, core.HumanRecipient, core.NotifyEscalated, r.ID, map[string]any{
		"reason":           reason,
		"title":            r.Title,
		"creator":          r.Creator,
		"reviewer":         r.Reviewer,
		"creator_argument": r.CreatorArgument,
	})
	return r, nil
}

// ResolveEscalation applies the human decision to an escalated review and
// tells both parties.
func (w *Workflow) ResolveEscalation(ctx context.Context, id string, resolution core.Resolution, decidedBy, instructions string) (core.Review, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(decidedBy) == "" {
		return core.Review{}, core.Invalid("review id and decided_by required")
	}
	if _, ok := resolution.Status(); !ok {
		return core.Review{}, core.Invalid("unknown resolution %q", resolution)
	}
	r, err := w.store.ResolveEscalation(ctx, id, resolution, decidedBy, w.now().UTC())
	if err != nil {
		return core.Review{}, err
	}
	metrics.RecordReviewTransition(string(r.Status))
	w.logger.Info("escalation resolved", "review_id", r.ID, "resolution", resolution, "by", decidedBy)
	payload := map[string]any{
		"resolution":   resolution,
		"status":       r.Status,
		"decided_by":   decidedBy,
		"instructions": instructions,
	}
	w.notify(ctx, r.Creator, core.NotifyEscalationResolved, r.ID, payload)
	if r.Reviewer != "" && r.Reviewer != r.Creator {
		w.notify(ctx, r.Reviewer, core.NotifyEscalationResolved, r.ID, payload)
	}
	return r, nil
}

func validStatus(s core.ReviewStatus) bool {
	switch s {
	case core.ReviewPending, core.ReviewInProgress, core.ReviewApproved, core.ReviewChangesRequested,
		core.ReviewRejected, core.ReviewPendingReReview, core.ReviewEscalated:
		return true
	}
	return false
}

func validReason(r core.EscalationReason) bool {
	switch r {
	case core.EscalationCreatorDisagrees, core.EscalationTooManyRevisions, core.EscalationTimeout,
		core.EscalationConfidenceGap, core.EscalationCriticalUncertainty:
		return true
	}
	return false
}
