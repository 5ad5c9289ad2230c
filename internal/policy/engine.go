// Package policy decides whether an action needs review, who reviews it and
// when an in-flight review must go to a human.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

const (
	EstimatedReviewMinutes = 15
	BackupQueueThreshold   = 3
	MaxRevisions           = 3
	ReviewTimeout          = 2 * time.Hour
	PendingTimeout         = 30 * time.Minute
	CriticalConfidence     = 90
)

// ReviewReader is the slice of the review store the engine consults.
type ReviewReader interface {
	QueueDepth(ctx context.Context, reviewer string) (int, error)
	ReviewsOlderThan(ctx context.Context, status core.ReviewStatus, cutoff time.Time) ([]core.Review, error)
}

// SkipAdvisor answers whether a learned pattern currently allows skipping.
type SkipAdvisor interface {
	IsEligible(ctx context.Context, patternID string, th core.Thresholds) (core.Eligibility, error)
}

// ActionContext describes who is performing an action.
type ActionContext struct {
	Agent         string `json:"agent"`
	AutonomyLevel string `json:"autonomy_level,omitempty"`
}

// Decision is the answer to shouldRequireReview.
type Decision struct {
	NeedsReview          bool   `json:"needs_review"`
	SkipReason           string `json:"skip_reason,omitempty"`
	AssignedReviewer     string `json:"assigned_reviewer,omitempty"`
	EstimatedTimeMinutes int    `json:"estimated_time_minutes,omitempty"`
}

// EscalationDecision is the answer to shouldEscalate.
type EscalationDecision struct {
	Escalate bool                  `json:"escalate"`
	Reason   core.EscalationReason `json:"reason,omitempty"`
}

// Engine is the ReviewPolicyEngine.
type Engine struct {
	cfg     Config
	reviews ReviewReader
	skip    SkipAdvisor
	logger  *slog.Logger
	now     func() time.Time
}

func NewEngine(cfg Config, reviews ReviewReader, skip SkipAdvisor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, reviews: reviews, skip: skip, logger: logger, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Config returns the policy the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// ShouldRequireReview walks the skip conditions in order; the first match
// wins. Without a match a reviewer is assigned.
func (e *Engine) ShouldRequireReview(ctx context.Context, action string, actx ActionContext) (Decision, error) {
	if action == "" {
		return Decision{}, core.Invalid("action required")
	}
	if !e.cfg.RequiresReview(action) {
		return Decision{NeedsReview: false, SkipReason: "Action not in required list"}, nil
	}

	for _, cond := range e.cfg.ReviewRequired.SkipIf {
		if cond.AutonomyLevel != "" && actx.AutonomyLevel == cond.AutonomyLevel && !contains(cond.ExceptFor, action) {
			return Decision{SkipReason: fmt.Sprintf("Autonomy level %s skips review", cond.AutonomyLevel)}, nil
		}
		if cond.ActionType != "" && cond.ActionType == action {
			return Decision{SkipReason: fmt.Sprintf("Action type %s doesn't require review", action)}, nil
		}
		if cond.HasAutoSkipPattern && e.skip != nil && actx.Agent != "" {
			elig, err := e.skip.IsEligible(ctx, core.PatternID(action, actx.Agent), cond.Thresholds())
			if err != nil {
				return Decision{}, fmt.Errorf("auto-skip check: %w", err)
			}
			if elig.ShouldSkip {
				return Decision{SkipReason: elig.Reason}, nil
			}
		}
	}

	reviewer, err := e.AssignReviewer(ctx, actx.Agent, action)
	if err != nil {
		return Decision{}, err
	}
	return Decision{NeedsReview: true, AssignedReviewer: reviewer, EstimatedTimeMinutes: EstimatedReviewMinutes}, nil
}

// AssignReviewer picks the creator's primary reviewer, or the backup when
// the primary's queue is full. Creators without a matrix entry get the
// default reviewer.
func (e *Engine) AssignReviewer(ctx context.Context, creator, reviewType string) (string, error) {
	pair, ok := e.cfg.ReviewerMatrix[creator]
	if !ok {
		return e.cfg.DefaultReviewer, nil
	}
	depth, err := e.reviews.QueueDepth(ctx, pair.Primary)
	if err != nil {
		return "", fmt.Errorf("queue depth: %w", err)
	}
	if depth >= BackupQueueThreshold && pair.Backup != "" {
		e.logger.Info("primary reviewer busy, using backup",
			"primary", pair.Primary, "queue", depth, "backup", pair.Backup, "type", reviewType)
		return pair.Backup, nil
	}
	return pair.Primary, nil
}

// ShouldEscalate checks, in order: creator disagreement with a rejection,
// too many revisions, a review running past its timeout, and low confidence
// on a critical change.
func (e *Engine) ShouldEscalate(r core.Review) EscalationDecision {
	if r.Status == core.ReviewRejected && r.CreatorArgument != "" {
		return EscalationDecision{Escalate: true, Reason: core.EscalationCreatorDisagrees}
	}
	if r.RevisionCount > MaxRevisions {
		return EscalationDecision{Escalate: true, Reason: core.EscalationTooManyRevisions}
	}
	if e.ReviewTimedOut(r) {
		return EscalationDecision{Escalate: true, Reason: core.EscalationTimeout}
	}
	if e.cfg.IsCritical(r.Type) && r.Confidence != nil && *r.Confidence < CriticalConfidence {
		return EscalationDecision{Escalate: true, Reason: core.EscalationCriticalUncertainty}
	}
	return EscalationDecision{}
}

// ReviewTimedOut reports whether a started review has run past
// ReviewTimeout, whatever else ShouldEscalate would say about it.
func (e *Engine) ReviewTimedOut(r core.Review) bool {
	return r.StartedAt != nil && e.now().Sub(*r.StartedAt) > ReviewTimeout
}

// CheckTimeouts lists pending reviews older than PendingTimeout. Callers
// drive it; the engine runs no timers.
func (e *Engine) CheckTimeouts(ctx context.Context) ([]core.Review, error) {
	reviews, err := e.reviews.ReviewsOlderThan(ctx, core.ReviewPending, e.now().UTC().Add(-PendingTimeout))
	if err != nil {
		return nil, err
	}
	if reviews == nil {
		reviews = []core.Review{}
	}
	return reviews, nil
}
