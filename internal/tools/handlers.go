package tools

import (
	"context"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/policy"
)

type claimArgs struct {
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
}

type taskArgs struct {
	TaskID string `json:"taskId"`
}

type heartbeatArgs struct {
	AgentID string `json:"agentId"`
	TaskID  string `json:"taskId,omitempty"`
	Status  string `json:"status,omitempty"`
}

type lockArgs struct {
	FilePath        string        `json:"filePath"`
	AgentID         string        `json:"agentId"`
	LockType        core.LockType `json:"lockType,omitempty"`
	DurationSeconds *int          `json:"durationSeconds,omitempty"`
}

type releaseArgs struct {
	FilePath string `json:"filePath"`
	AgentID  string `json:"agentId"`
}

// Context is free-form; only agent and autonomy_level are read.
type checkArgs struct {
	Action  string       `json:"action"`
	Context core.Payload `json:"context,omitempty"`
}

type requestReviewArgs struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	Creator   string       `json:"creator"`
	Title     string       `json:"title"`
	Artifacts core.Payload `json:"artifacts,omitempty"`
	Context   core.Payload `json:"context,omitempty"`
	Questions []string     `json:"questions,omitempty"`
}

type submitArgs struct {
	ReviewID   string            `json:"reviewId"`
	Reviewer   string            `json:"reviewer"`
	Status     core.ReviewStatus `json:"status"`
	Feedback   core.Payload      `json:"feedback,omitempty"`
	Checklist  core.Payload      `json:"checklist,omitempty"`
	Confidence *int              `json:"confidence,omitempty"`
}

type reviewArgs struct {
	ReviewID string `json:"reviewId"`
}

type listReviewsArgs struct {
	Status   core.ReviewStatus `json:"status,omitempty"`
	Reviewer string            `json:"reviewer,omitempty"`
	Creator  string            `json:"creator,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

type startArgs struct {
	ReviewID string `json:"reviewId"`
	Reviewer string `json:"reviewer"`
}

type validateArgs struct {
	ReviewType string       `json:"reviewType"`
	Artifacts  core.Payload `json:"artifacts,omitempty"`
}

type reReviewArgs struct {
	ReviewID       string       `json:"reviewId"`
	RevisionNumber int          `json:"revisionNumber"`
	ChangesMade    string       `json:"changesMade"`
	Artifacts      core.Payload `json:"artifacts,omitempty"`
}

type escalateArgs struct {
	ReviewID        string                `json:"reviewId"`
	Reason          core.EscalationReason `json:"reason"`
	CreatorArgument string                `json:"creatorArgument,omitempty"`
}

type resolveArgs struct {
	ReviewID     string          `json:"reviewId"`
	Decision     core.Resolution `json:"decision"`
	DecidedBy    string          `json:"decidedBy"`
	Instructions string          `json:"instructions,omitempty"`
}

type metricsArgs struct {
	Period core.MetricsPeriod `json:"period,omitempty"`
	Agent  string             `json:"agent,omitempty"`
	Type   string             `json:"type,omitempty"`
}

type notificationsArgs struct {
	Recipient  string `json:"recipient"`
	UnreadOnly bool   `json:"unreadOnly,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type markReadArgs struct {
	Recipient      string `json:"recipient"`
	NotificationID string `json:"notificationId"`
}

type patternsArgs struct {
	EligibleOnly bool `json:"eligibleOnly,omitempty"`
}

type setAutoSkipArgs struct {
	PatternID string `json:"patternId"`
	Enabled   bool   `json:"enabled"`
}

type none struct{}

func (a claimArgs) actingAgent() string { return a.AgentID }
func (a heartbeatArgs) actingAgent() string { return a.AgentID }
func (a lockArgs) actingAgent() string { return a.AgentID }
func (a releaseArgs) actingAgent() string { return a.AgentID }
func (a requestReviewArgs) actingAgent() string { return a.Creator }
func (a submitArgs) actingAgent() string { return a.Reviewer }
func (a startArgs) actingAgent() string { return a.Reviewer }
func (a notificationsArgs) actingAgent() string { return a.Recipient }
func (a markReadArgs) actingAgent() string { return a.Recipient }

func (d *Dispatcher) register() {
	s := d.svc

	// Coordination ledger.
	d.add(Spec{Name: OpClaimTask, Description: "Claim a task for an agent; fails if another agent holds it or it is completed.", Params: []string{"taskId", "agentId"}, Actor: "agentId"},
		bind(func(ctx context.Context, a claimArgs) (any, error) {
			return s.Ledger.ClaimTask(ctx, a.TaskID, a.AgentID)
		}))
	d.add(Spec{Name: OpCompleteTask, Description: "Mark a task completed.", Params: []string{"taskId"}},
		bind(func(ctx context.Context, a taskArgs) (any, error) {
			return s.Ledger.CompleteTask(ctx, a.TaskID)
		}))
	d.add(Spec{Name: OpGetTask, Description: "Read a task claim.", Params: []string{"taskId"}},
		bind(func(ctx context.Context, a taskArgs) (any, error) {
			return s.Ledger.GetTask(ctx, a.TaskID)
		}))
	d.add(Spec{Name: OpAgentHeartbeat, Description: "Record agent liveness and refresh the heartbeat of a claimed task.", Params: []string{"agentId", "taskId?", "status?"}, Actor: "agentId"},
		bind(func(ctx context.Context, a heartbeatArgs) (any, error) {
			return s.Ledger.Heartbeat(ctx, a.AgentID, a.TaskID, a.Status)
		}))
	d.add(Spec{Name: OpGetAgentStatus, Description: "List every agent's last heartbeat.", Params: []string{}},
		bind(func(ctx context.Context, _ none) (any, error) {
			return s.Ledger.AgentStatuses(ctx)
		}))
	d.add(Spec{Name: OpAcquireFileLock, Description: "Take or renew a file lock; fails fast if another agent holds an unexpired lock.", Params: []string{"filePath", "agentId", "lockType?", "durationSeconds?"}, Actor: "agentId"},
		bind(func(ctx context.Context, a lockArgs) (any, error) {
			ttl := core.DefaultLockTTL
			if a.DurationSeconds != nil {
				if *a.DurationSeconds <= 0 {
					return nil, core.Invalid("durationSeconds must be positive")
				}
				ttl = time.Duration(*a.DurationSeconds) * time.Second
			}
			return s.Ledger.AcquireLock(ctx, a.FilePath, a.AgentID, a.LockType, ttl)
		}))
	d.add(Spec{Name: OpReleaseFileLock, Description: "Release a lock held by the agent; a no-op otherwise.", Params: []string{"filePath", "agentId"}, Actor: "agentId"},
		bind(func(ctx context.Context, a releaseArgs) (any, error) {
			released, err := s.Ledger.ReleaseLock(ctx, a.FilePath, a.AgentID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"file_path": a.FilePath, "released": released}, nil
		}))
	d.add(Spec{Name: OpListFileLocks, Description: "List unexpired file locks.", Params: []string{}},
		bind(func(ctx context.Context, _ none) (any, error) {
			return s.Ledger.ActiveLocks(ctx)
		}))

	// Review policy and workflow.
	d.add(Spec{Name: OpCheckReviewRequired, Description: "Decide whether an action needs review and who would review it.", Params: []string{"action", "context?"}},
		bind(func(ctx context.Context, a checkArgs) (any, error) {
			if err := a.Context.ValidateObject("context"); err != nil {
				return nil, err
			}
			return s.Policy.ShouldRequireReview(ctx, a.Action, policy.ActionContext{
				Agent:         a.Context.String("agent"),
				AutonomyLevel: a.Context.String("autonomy_level"),
			})
		}))
	d.add(Spec{Name: OpRequestReview, Description: "Create a review, assign a reviewer and notify them.", Params: []string{"id", "type", "creator", "title", "artifacts?", "context?", "questions?"}, Actor: "creator"},
		bind(func(ctx context.Context, a requestReviewArgs) (any, error) {
			return s.Reviews.RequestReview(ctx, core.ReviewRequest{
				ID: a.ID, Type: a.Type, Creator: a.Creator, Title: a.Title,
				Artifacts: a.Artifacts, Context: a.Context, Questions: a.Questions,
			})
		}))
	d.add(Spec{Name: OpSubmitReview, Description: "Submit a verdict; only the assigned reviewer may submit.", Params: []string{"reviewId", "reviewer", "status", "feedback?", "checklist?", "confidence?"}, Actor: "reviewer"},
		bind(func(ctx context.Context, a submitArgs) (any, error) {
			return s.Reviews.SubmitReview(ctx, core.ReviewDecision{
				ReviewID: a.ReviewID, Reviewer: a.Reviewer, Status: a.Status,
				Feedback: a.Feedback, Checklist: a.Checklist, Confidence: a.Confidence,
			})
		}))
	d.add(Spec{Name: OpGetReview, Description: "Read a review with its revision history.", Params: []string{"reviewId"}},
		bind(func(ctx context.Context, a reviewArgs) (any, error) {
			return s.Reviews.GetReview(ctx, a.ReviewID)
		}))
	d.add(Spec{Name: OpListReviews, Description: "List reviews, newest first.", Params: []string{"status?", "reviewer?", "creator?", "limit?"}},
		bind(func(ctx context.Context, a listReviewsArgs) (any, error) {
			return s.Reviews.ListReviews(ctx, core.ReviewFilter{Status: a.Status, Reviewer: a.Reviewer, Creator: a.Creator, Limit: a.Limit})
		}))
	d.add(Spec{Name: OpStartReview, Description: "Mark a review in progress.", Params: []string{"reviewId", "reviewer"}, Actor: "reviewer"},
		bind(func(ctx context.Context, a startArgs) (any, error) {
			return s.Reviews.StartReview(ctx, a.ReviewID, a.Reviewer)
		}))
	d.add(Spec{Name: OpValidateCriteria, Description: "Score artifacts against the criteria configured for a review type.", Params: []string{"reviewType", "artifacts"}},
		bind(func(_ context.Context, a validateArgs) (any, error) {
			return s.Validator.Validate(a.ReviewType, a.Artifacts)
		}))
	d.add(Spec{Name: OpRequestReReview, Description: "Send a revised review back to its reviewer.", Params: []string{"reviewId", "revisionNumber", "changesMade", "artifacts?"}},
		bind(func(ctx context.Context, a reReviewArgs) (any, error) {
			return s.Reviews.RequestReReview(ctx, a.ReviewID, a.RevisionNumber, a.ChangesMade, a.Artifacts)
		}))
	d.add(Spec{Name: OpEscalateReview, Description: "Hand a review to the human operator.", Params: []string{"reviewId", "reason", "creatorArgument?"}},
		bind(func(ctx context.Context, a escalateArgs) (any, error) {
			return s.Reviews.Escalate(ctx, a.ReviewID, a.Reason, a.CreatorArgument)
		}))
	d.add(Spec{Name: OpResolveEscalation, Description: "Close an escalation with approve, request_changes or reject.", Params: []string{"reviewId", "decision", "decidedBy", "instructions?"}, Operator: true},
		bind(func(ctx context.Context, a resolveArgs) (any, error) {
			return s.Reviews.ResolveEscalation(ctx, a.ReviewID, a.Decision, a.DecidedBy, a.Instructions)
		}))
	d.add(Spec{Name: OpGetReviewMetrics, Description: "Aggregate review outcomes over a day, week or month.", Params: []string{"period?", "agent?", "type?"}},
		bind(func(ctx context.Context, a metricsArgs) (any, error) {
			return s.Reviews.Metrics(ctx, a.Period, a.Agent, a.Type)
		}))
	d.add(Spec{Name: OpSweepReviews, Description: "Send reminders for stale pending reviews and escalate timed-out ones.", Params: []string{}},
		bind(func(ctx context.Context, _ none) (any, error) {
			return s.Reviews.SweepReviews(ctx)
		}))

	// Notifications.
	d.add(Spec{Name: OpGetNotifications, Description: "Read a recipient's inbox, newest first.", Params: []string{"recipient", "unreadOnly?", "limit?"}, Actor: "recipient"},
		bind(func(ctx context.Context, a notificationsArgs) (any, error) {
			return s.Notifier.Inbox(ctx, core.NotificationFilter{Recipient: a.Recipient, UnreadOnly: a.UnreadOnly, Limit: a.Limit})
		}))
	d.add(Spec{Name: OpMarkNotificationRead, Description: "Acknowledge a notification.", Params: []string{"recipient", "notificationId"}, Actor: "recipient"},
		bind(func(ctx context.Context, a markReadArgs) (any, error) {
			if err := s.Notifier.MarkRead(ctx, a.Recipient, a.NotificationID); err != nil {
				return nil, err
			}
			return map[string]any{"notification_id": a.NotificationID, "read": true}, nil
		}))

	// Learning.
	d.add(Spec{Name: OpListAutoSkipPatterns, Description: "List learned auto-skip patterns.", Params: []string{"eligibleOnly?"}},
		bind(func(ctx context.Context, a patternsArgs) (any, error) {
			return s.Learning.Patterns(ctx, a.EligibleOnly)
		}))
	d.add(Spec{Name: OpSetAutoSkip, Description: "Enable or disable skipping review for a learned pattern.", Params: []string{"patternId", "enabled"}, Operator: true},
		bind(func(ctx context.Context, a setAutoSkipArgs) (any, error) {
			return s.Learning.SetAutoSkip(ctx, a.PatternID, a.Enabled)
		}))
}
