package core

import "time"

// MetricsPeriod bounds a metrics query to a trailing window.
type MetricsPeriod string

const (
	PeriodDay   MetricsPeriod = "day"
	PeriodWeek  MetricsPeriod = "week"
	PeriodMonth MetricsPeriod = "month"
)

// Since returns the start of the window ending at now. Unknown periods fall
// back to a week.
func (p MetricsPeriod) Since(now time.Time) time.Time {
	switch p {
	case PeriodDay:
		return now.Add(-24 * time.Hour)
	case PeriodMonth:
		return now.AddDate(0, -1, 0)
	}
	return now.AddDate(0, 0, -7)
}

// Valid reports whether p is a known period or empty.
func (p MetricsPeriod) Valid() bool {
	switch p {
	case "", PeriodDay, PeriodWeek, PeriodMonth:
		return true
	}
	return false
}

// MetricsFilter narrows a metrics query. Agent matches creator or reviewer.
type MetricsFilter struct {
	Since time.Time
	Agent string
	Type  string
}

// ReviewStats are aggregates over a set of reviews.
type ReviewStats struct {
	Total            int     `json:"total"`
	Approved         int     `json:"approved"`
	ChangesRequested int     `json:"changes_requested"`
	Rejected         int     `json:"rejected"`
	Escalated        int     `json:"escalated"`
	Pending          int     `json:"pending"`
	ApprovalRate     float64 `json:"approval_rate"`
	AvgReviewMinutes float64 `json:"avg_review_minutes"`
	AvgConfidence    float64 `json:"avg_confidence"`
	AvgRevisions     float64 `json:"avg_revisions"`
}

// ReviewMetrics is the get_review_metrics result.
type ReviewMetrics struct {
	Period    MetricsPeriod          `json:"period"`
	Since     time.Time              `json:"since"`
	Agent     string                 `json:"agent,omitempty"`
	Type      string                 `json:"type,omitempty"`
	Overall   ReviewStats            `json:"overall"`
	ByCreator map[string]ReviewStats `json:"by_creator"`
	ByType    map[string]ReviewStats `json:"by_type"`
	AutoSkip  AutoSkipSummary        `json:"auto_skip"`
	Daily     []DailyRollup          `json:"daily"`
}

// AutoSkipSummary counts learned patterns by state.
type AutoSkipSummary struct {
	Patterns int `json:"patterns"`
	Eligible int `json:"eligible"`
	Enabled  int `json:"enabled"`
}

// DailyRollup is one row of the review_metrics table.
type DailyRollup struct {
	Date             string  `json:"date"`
	Type             string  `json:"type"`
	Creator          string  `json:"creator"`
	Reviewer         string  `json:"reviewer"`
	Total            int     `json:"total"`
	Approved         int     `json:"approved"`
	ChangesRequested int     `json:"changes_requested"`
	Rejected         int     `json:"rejected"`
	AvgReviewMS      float64 `json:"avg_review_ms"`
	AvgConfidence    float64 `json:"avg_confidence"`
}
