package core

import (
	"strings"
	"time"
)

// ReviewStatus is a state of the review state machine.
type ReviewStatus string

const (
	ReviewPending          ReviewStatus = "pending"
	ReviewInProgress       ReviewStatus = "in_progress"
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
	ReviewRejected         ReviewStatus = "rejected"
	ReviewPendingReReview  ReviewStatus = "pending_re_review"
	ReviewEscalated        ReviewStatus = "escalated"
)

// IsDecision reports whether s is a valid reviewer verdict for submit.
func (s ReviewStatus) IsDecision() bool {
	switch s {
	case ReviewApproved, ReviewChangesRequested, ReviewRejected:
		return true
	}
	return false
}

// Queued reports whether a review in status s counts toward its reviewer's
// queue depth.
func (s ReviewStatus) Queued() bool {
	switch s {
	case ReviewPending, ReviewInProgress, ReviewPendingReReview:
		return true
	}
	return false
}

// QueuedStatuses are the statuses counted by reviewer load balancing.
var QueuedStatuses = []ReviewStatus{ReviewPending, ReviewInProgress, ReviewPendingReReview}

// Allowed source states for each workflow transition. Approved and rejected
// only leave through escalation; escalated only through resolution.
var (
	StartableStatuses   = []ReviewStatus{ReviewPending, ReviewPendingReReview, ReviewInProgress}
	SubmittableStatuses = []ReviewStatus{ReviewPending, ReviewPendingReReview, ReviewInProgress}
	RevisableStatuses   = []ReviewStatus{ReviewPending, ReviewInProgress, ReviewChangesRequested, ReviewPendingReReview}
	EscalatableStatuses = []ReviewStatus{ReviewPending, ReviewInProgress, ReviewChangesRequested, ReviewPendingReReview, ReviewApproved, ReviewRejected}
	ResolvableStatuses  = []ReviewStatus{ReviewEscalated}
)

// StatusIn reports whether s is one of set.
func StatusIn(s ReviewStatus, set []ReviewStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// EscalationReason names why a review was handed to a human.
type EscalationReason string

const (
	EscalationCreatorDisagrees    EscalationReason = "creator_disagrees"
	EscalationTooManyRevisions    EscalationReason = "too_many_revisions"
	EscalationTimeout             EscalationReason = "timeout"
	EscalationConfidenceGap       EscalationReason = "confidence_gap"
	EscalationCriticalUncertainty EscalationReason = "critical_uncertainty"
)

// Resolution is the human decision closing an escalation.
type Resolution string

const (
	ResolutionApprove        Resolution = "approve"
	ResolutionRequestChanges Resolution = "request_changes"
	ResolutionReject         Resolution = "reject"
)

// Status maps a resolution onto the review status it produces.
func (r Resolution) Status() (ReviewStatus, bool) {
	switch r {
	case ResolutionApprove:
		return ReviewApproved, true
	case ResolutionRequestChanges:
		return ReviewChangesRequested, true
	case ResolutionReject:
		return ReviewRejected, true
	}
	return "", false
}

// Review tracks one artifact bundle through the approval workflow.
type Review struct {
	ID               string           `json:"id"`
	Type             string           `json:"type"`
	Creator          string           `json:"creator"`
	Reviewer         string           `json:"reviewer,omitempty"`
	Title            string           `json:"title"`
	Status           ReviewStatus     `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	Artifacts        Payload          `json:"artifacts,omitempty"`
	Context          Payload          `json:"context,omitempty"`
	Questions        []string         `json:"questions"`
	Feedback         Payload          `json:"feedback,omitempty"`
	Checklist        Payload          `json:"checklist,omitempty"`
	Confidence       *int             `json:"confidence,omitempty"`
	TimeToReviewMS   *int64           `json:"time_to_review_ms,omitempty"`
	RevisionCount    int              `json:"revision_count"`
	EscalationReason EscalationReason `json:"escalation_reason,omitempty"`
	CreatorArgument  string           `json:"creator_argument,omitempty"`
	Resolution       Resolution       `json:"resolution,omitempty"`
	ResolvedBy       string           `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	Revisions        []ReviewRevision `json:"revisions,omitempty"`
}

// ReviewRequest carries the creator-supplied fields of a new review.
type ReviewRequest struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Creator   string   `json:"creator"`
	Title     string   `json:"title"`
	Artifacts Payload  `json:"artifacts,omitempty"`
	Context   Payload  `json:"context,omitempty"`
	Questions []string `json:"questions,omitempty"`
}

// Validate checks the required fields and payload shapes.
func (r ReviewRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(r.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(r.Creator) == "" {
		missing = append(missing, "creator")
	}
	if strings.TrimSpace(r.Title) == "" {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return Invalid("missing %s", strings.Join(missing, ", "))
	}
	if strings.Contains(r.Type, PatternSep) {
		return Invalid("type %q may not contain %q", r.Type, PatternSep)
	}
	if err := r.Artifacts.ValidateObject("artifacts"); err != nil {
		return err
	}
	return r.Context.ValidateObject("context")
}

// ReviewDecision is a reviewer's verdict.
type ReviewDecision struct {
	ReviewID   string       `json:"review_id"`
	Reviewer   string       `json:"reviewer"`
	Status     ReviewStatus `json:"status"`
	Feedback   Payload      `json:"feedback,omitempty"`
	Checklist  Payload      `json:"checklist,omitempty"`
	Confidence *int         `json:"confidence,omitempty"`
}

// Validate checks the verdict and confidence range.
func (d ReviewDecision) Validate() error {
	if strings.TrimSpace(d.ReviewID) == "" || strings.TrimSpace(d.Reviewer) == "" {
		return Invalid("review id and reviewer are required")
	}
	if !d.Status.IsDecision() {
		return Invalid("status %q is not one of approved, changes_requested, rejected", d.Status)
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 100) {
		return Invalid("confidence %d outside 0-100", *d.Confidence)
	}
	if err := d.Feedback.ValidateObject("feedback"); err != nil {
		return err
	}
	return d.Checklist.ValidateObject("checklist")
}

// ReviewRevision is one append-only re-review cycle.
type ReviewRevision struct {
	ReviewID         string    `json:"review_id"`
	RevisionNumber   int       `json:"revision_number"`
	ChangesRequested string    `json:"changes_requested,omitempty"`
	ChangesMade      string    `json:"changes_made"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReviewFilter narrows list queries; zero fields match everything.
type ReviewFilter struct {
	Status   ReviewStatus
	Reviewer string
	Creator  string
	Limit    int
}
