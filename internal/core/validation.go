package core

// CriterionResult is the outcome of one named check against an artifact
// bundle.
type CriterionResult struct {
	Criterion   string `json:"criterion"`
	Description string `json:"description,omitempty"`
	Passed      bool   `json:"passed"`
	Reason      string `json:"reason"`
}

// ValidationResult aggregates the criteria configured for a review type.
type ValidationResult struct {
	ReviewType        string            `json:"review_type"`
	Passed            bool              `json:"passed"`
	RequiredResults   []CriterionResult `json:"required_results"`
	OptionalResults   []CriterionResult `json:"optional_results"`
	OverallConfidence int               `json:"overall_confidence"`
}
