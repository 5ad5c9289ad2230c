package core

import "time"

// AutoSkipPattern is the learned track record of one (action type, creator)
// pair.
type AutoSkipPattern struct {
	ID                string     `json:"id"`
	ActionType        string     `json:"action_type"`
	Creator           string     `json:"creator"`
	TotalAttempts     int        `json:"total_attempts"`
	SuccessfulReviews int        `json:"successful_reviews"`
	AvgConfidence     float64    `json:"avg_confidence"`
	EligibleForSkip   bool       `json:"eligible_for_skip"`
	SkipEnabled       bool       `json:"skip_enabled"`
	SkipEnabledAt     *time.Time `json:"skip_enabled_at,omitempty"`
	SkipSuggested     bool       `json:"skip_suggested"`
	LastReviewAt      *time.Time `json:"last_review_at,omitempty"`
	Confidences       []float64  `json:"confidences"`
}

// PatternSep joins action type and creator in a pattern id. Action types
// may not contain it, so the first separator always ends the action type.
const PatternSep = ":"

// PatternID derives the pattern key for an action performed by creator.
func PatternID(actionType, creator string) string {
	return actionType + PatternSep + creator
}

// SuccessRate is successful reviews over total attempts.
func (p AutoSkipPattern) SuccessRate() float64 {
	if p.TotalAttempts == 0 {
		return 0
	}
	return float64(p.SuccessfulReviews) / float64(p.TotalAttempts)
}

// Thresholds gate both eligibility and skip decisions.
type Thresholds struct {
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence" toml:"min_confidence"`
	MinSuccesses  int     `json:"min_successes" yaml:"min_successes" toml:"min_successes"`
}

// DefaultThresholds are applied when a skip condition omits its own.
var DefaultThresholds = Thresholds{MinConfidence: 0.9, MinSuccesses: 10}

// WithDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	if t.MinConfidence <= 0 {
		t.MinConfidence = DefaultThresholds.MinConfidence
	}
	if t.MinSuccesses <= 0 {
		t.MinSuccesses = DefaultThresholds.MinSuccesses
	}
	return t
}

// Met reports whether the pattern's record clears t.
func (t Thresholds) Met(p AutoSkipPattern) bool {
	return p.SuccessfulReviews >= t.MinSuccesses && p.AvgConfidence >= t.MinConfidence
}

// Eligibility answers whether a pattern may skip review right now.
type Eligibility struct {
	ShouldSkip bool   `json:"should_skip"`
	Reason     string `json:"reason"`
}
