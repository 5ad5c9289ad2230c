package review

import (
	"context"
	"math"

	"github.com/mistakeknot/intercoord/internal/core"
)

// Metrics aggregates reviews created within period, optionally narrowed to
// an agent (as creator or reviewer) and a review type. An empty period means
// the last week.
func (w *Workflow) Metrics(ctx context.Context, period core.MetricsPeriod, agent, reviewType string) (core.ReviewMetrics, error) {
	if !period.Valid() {
		return core.ReviewMetrics{}, core.Invalid("unknown period %q (want day, week or month)", period)
	}
	if period == "" {
		period = core.PeriodWeek
	}
	since := period.Since(w.now().UTC())
	reviews, err := w.store.ReviewsSince(ctx, core.MetricsFilter{Since: since, Agent: agent, Type: reviewType})
	if err != nil {
		return core.ReviewMetrics{}, err
	}

	out := core.ReviewMetrics{
		Period:    period,
		Since:     since,
		Agent:     agent,
		Type:      reviewType,
		Overall:   aggregate(reviews),
		ByCreator: map[string]core.ReviewStats{},
		ByType:    map[string]core.ReviewStats{},
	}
	byCreator := map[string][]core.Review{}
	byType := map[string][]core.Review{}
	for _, r := range reviews {
		byCreator[r.Creator] = append(byCreator[r.Creator], r)
		byType[r.Type] = append(byType[r.Type], r)
	}
	for k, rs := range byCreator {
		out.ByCreator[k] = aggregate(rs)
	}
	for k, rs := range byType {
		out.ByType[k] = aggregate(rs)
	}

	daily, err := w.store.ListDailyRollups(ctx, since)
	if err != nil {
		return core.ReviewMetrics{}, err
	}
	out.Daily = []core.DailyRollup{}
	for _, d := range daily {
		if agent != "" && d.Creator != agent && d.Reviewer != agent {
			continue
		}
		if reviewType != "" && d.Type != reviewType {
			continue
		}
		out.Daily = append(out.Daily, d)
	}

	if w.learner != nil {
		patterns, err := w.learner.Patterns(ctx, false)
		if err != nil {
			return core.ReviewMetrics{}, err
		}
		out.AutoSkip.Patterns = len(patterns)
		for _, p := range patterns {
			if p.EligibleForSkip {
				out.AutoSkip.Eligible++
			}
			if p.SkipEnabled {
				out.AutoSkip.Enabled++
			}
		}
	}
	return out, nil
}

// aggregate follows the rounding of the reporting tools: whole minutes,
// whole confidence points, revisions to one decimal and the approval rate
// as a whole percentage.
func aggregate(reviews []core.Review) core.ReviewStats {
	var (
		s                       core.ReviewStats
		ttrSum, confSum, revSum float64
		ttrCount, confCount     int
	)
	for _, r := range reviews {
		s.Total++
		switch r.Status {
		case core.ReviewApproved:
			s.Approved++
		case core.ReviewChangesRequested:
			s.ChangesRequested++
		case core.ReviewRejected:
			s.Rejected++
		case core.ReviewEscalated:
			s.Escalated++
		default:
			if r.Status.Queued() {
				s.Pending++
			}
		}
		if r.TimeToReviewMS != nil {
			ttrSum += float64(*r.TimeToReviewMS)
			ttrCount++
		}
		if r.Confidence != nil {
			confSum += float64(*r.Confidence)
			confCount++
		}
		revSum += float64(r.RevisionCount)
	}
	if s.Total == 0 {
		return s
	}
	s.ApprovalRate = math.Round(float64(s.Approved) / float64(s.Total) * 100)
	s.AvgRevisions = math.Round(revSum/float64(s.Total)*10) / 10
	if ttrCount > 0 {
		s.AvgReviewMinutes = math.Round(ttrSum / float64(ttrCount) / 60000)
	}
	if confCount > 0 {
		s.AvgConfidence = math.Round(confSum / float64(confCount))
	}
	return s
}

// DailyRollups returns the per-day review_metrics rows within period.
func (w *Workflow) DailyRollups(ctx context.Context, period core.MetricsPeriod) ([]core.DailyRollup, error) {
	if !period.Valid() {
		return nil, core.Invalid("unknown period %q (want day, week or month)", period)
	}
	if period == "" {
		period = core.PeriodWeek
	}
	out, err := w.store.ListDailyRollups(ctx, period.Since(w.now().UTC()))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []core.DailyRollup{}
	}
	return out, nil
}
