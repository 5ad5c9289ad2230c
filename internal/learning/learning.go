// Package learning keeps the per (action type, creator) review track record
// that lets proven agents skip review.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/storage"
)

// Notifier receives the one-off eligibility notice for the operator.
type Notifier interface {
	Notify(ctx context.Context, recipient string, typ core.NotificationType, reviewID string, payload any)
}

type Engine struct {
	store      storage.PatternStore
	thresholds core.Thresholds
	window     int
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// New builds an engine that marks patterns eligible against thresholds and
// averages confidence over the last window reviews.
func New(store storage.PatternStore, thresholds core.Thresholds, window int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 20
	}
	return &Engine{
		store:      store,
		thresholds: thresholds.WithDefaults(),
		window:     window,
		logger:     logger,
		now:        time.Now,
	}
}

func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RecordReview folds one decided review into its pattern. Only approvals
// count as successes. skip_enabled is never touched here.
func (e *Engine) RecordReview(ctx context.Context, review core.Review) (core.AutoSkipPattern, error) {
	if review.Type == "" || review.Creator == "" {
		return core.AutoSkipPattern{}, core.Invalid("review type and creator required")
	}
	if strings.Contains(review.Type, core.PatternSep) {
		return core.AutoSkipPattern{}, core.Invalid("review type %q may not contain %q", review.Type, core.PatternSep)
	}
	if !review.Status.IsDecision() {
		return core.AutoSkipPattern{}, core.Invalid("review %s is %s, not decided", review.ID, review.Status)
	}
	now := e.now().UTC()
	var firstEligible bool
	p, err := e.store.UpdatePattern(ctx, review.Type, review.Creator, func(p *core.AutoSkipPattern) error {
		p.TotalAttempts++
		if review.Status == core.ReviewApproved {
			p.SuccessfulReviews++
		}
		if review.Confidence != nil {
			p.Confidences = append(p.Confidences, float64(*review.Confidence)/100)
			if len(p.Confidences) > e.window {
				p.Confidences = p.Confidences[len(p.Confidences)-e.window:]
			}
		}
		p.AvgConfidence = mean(p.Confidences)
		p.LastReviewAt = &now
		p.EligibleForSkip = e.thresholds.Met(*p)
		if p.EligibleForSkip && !p.SkipSuggested {
			p.SkipSuggested = true
			firstEligible = true
		}
		return nil
	})
	if err != nil {
		return core.AutoSkipPattern{}, fmt.Errorf("record review: %w", err)
	}

	if firstEligible {
		e.logger.Info("pattern eligible for auto-skip", "pattern", p.ID,
			"successes", p.SuccessfulReviews, "avg_confidence", p.AvgConfidence)
		if e.notifier != nil {
			e.notifier.Notify(ctx, core.HumanRecipient, core.NotifyAutoSkipEligible, review.ID, map[string]any{
				"pattern_id":         p.ID,
				"successful_reviews": p.SuccessfulReviews,
				"avg_confidence":     p.AvgConfidence,
				"success_rate":       p.SuccessRate(),
			})
		}
	}
	return p, nil
}

// IsEligible reports whether patternID may skip review now: the operator
// must have enabled it and its record must still clear th.
func (e *Engine) IsEligible(ctx context.Context, patternID string, th core.Thresholds) (core.Eligibility, error) {
	p, err := e.store.GetPattern(ctx, patternID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Eligibility{Reason: "No pattern recorded"}, nil
		}
		return core.Eligibility{}, err
	}
	th = th.WithDefaults()
	switch {
	case !p.SkipEnabled:
		return core.Eligibility{Reason: "Auto-skip not enabled"}, nil
	case !th.Met(p):
		return core.Eligibility{Reason: fmt.Sprintf("Below threshold: %d successful reviews, %d%% confidence",
			p.SuccessfulReviews, percent(p.AvgConfidence))}, nil
	}
	return core.Eligibility{
		ShouldSkip: true,
		Reason:     fmt.Sprintf("Auto-skip: %d successful reviews, %d%% confidence", p.SuccessfulReviews, percent(p.AvgConfidence)),
	}, nil
}

func (e *Engine) Pattern(ctx context.Context, id string) (core.AutoSkipPattern, error) {
	return e.store.GetPattern(ctx, id)
}

func (e *Engine) Patterns(ctx context.Context, eligibleOnly bool) ([]core.AutoSkipPattern, error) {
	out, err := e.store.ListPatterns(ctx, eligibleOnly)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []core.AutoSkipPattern{}
	}
	return out, nil
}

// SetAutoSkip is the operator switch for a pattern.
func (e *Engine) SetAutoSkip(ctx context.Context, patternID string, enabled bool) (core.AutoSkipPattern, error) {
	if strings.TrimSpace(patternID) == "" {
		return core.AutoSkipPattern{}, core.Invalid("pattern id required")
	}
	p, err := e.store.SetSkipEnabled(ctx, patternID, enabled, e.now().UTC())
	if err != nil {
		return core.AutoSkipPattern{}, err
	}
	e.logger.Info("auto-skip toggled", "pattern", patternID, "enabled", enabled)
	return p, nil
}

// mean is rounded to four places so that a run of identical confidences
// averages to exactly that confidence.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*1e4) / 1e4
}

func percent(f float64) int {
	return int(math.Round(f * 100))
}
