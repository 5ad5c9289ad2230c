package review

import (
	"context"
	"errors"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

// SweepResult lists the review ids touched by one sweep.
type SweepResult struct {
	Reminders []string `json:"reminders"`
	Escalated []string `json:"escalated"`
}

// SweepReviews reminds reviewers of pending reviews that have waited past
// the pending timeout and escalates in-progress reviews that ran past the
// review timeout. It is meant to be driven on a schedule from outside.
func (w *Workflow) SweepReviews(ctx context.Context) (SweepResult, error) {
	res := SweepResult{Reminders: []string{}, Escalated: []string{}}

	stale, err := w.policy.CheckTimeouts(ctx)
	if err != nil {
		return res, err
	}
	now := w.now().UTC()
	for _, r := range stale {
		recipient := r.Reviewer
		if recipient == "" {
			recipient = core.HumanRecipient
		}
		w.notify(ctx, recipient, core.NotifyReviewReminder, r.ID, map[string]any{
			"title":           r.Title,
			"creator":         r.Creator,
			"waiting_minutes": int(now.Sub(r.CreatedAt) / time.Minute),
		})
		res.Reminders = append(res.Reminders, r.ID)
	}

	running, err := w.store.ListReviews(ctx, core.ReviewFilter{Status: core.ReviewInProgress})
	if err != nil {
		return res, err
	}
	for _, r := range running {
		if !w.policy.ReviewTimedOut(r) {
			continue
		}
		if _, err := w.Escalate(ctx, r.ID, core.EscalationTimeout, ""); err != nil {
			if errors.Is(err, core.ErrConflict) {
				// Submitted or escalated since it was listed.
				continue
			}
			return res, err
		}
		res.Escalated = append(res.Escalated, r.ID)
	}

	if len(res.Reminders) > 0 || len(res.Escalated) > 0 {
		w.logger.Info("review sweep", "reminders", len(res.Reminders), "escalated", len(res.Escalated))
	}
	return res, nil
}
