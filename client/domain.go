package client

import (
	"context"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/review"
	"github.com/mistakeknot/intercoord/internal/tools"
)

type (
	Task             = core.Task
	FileLock         = core.FileLock
	LockType         = core.LockType
	AgentStatus      = core.AgentStatus
	HeartbeatResult  = core.HeartbeatResult
	Review           = core.Review
	ReviewRequest    = core.ReviewRequest
	ReviewStatus     = core.ReviewStatus
	ReviewMetrics    = core.ReviewMetrics
	Notification     = core.Notification
	AutoSkipPattern  = core.AutoSkipPattern
	ValidationResult = core.ValidationResult
	Payload          = core.Payload
	Decision         = policy.Decision
	SweepResult      = review.SweepResult
)

// Ledger

func (c *Client) ClaimTask(ctx context.Context, taskID, agentID string) (Task, error) {
	var out Task
	err := c.Call(ctx, string(tools.OpClaimTask), map[string]any{"taskId": taskID, "agentId": agentID}, &out)
	return out, err
}

func (c *Client) CompleteTask(ctx context.Context, taskID string) (Task, error) {
	var out Task
	err := c.Call(ctx, string(tools.OpCompleteTask), map[string]any{"taskId": taskID}, &out)
	return out, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var out Task
	err := c.Call(ctx, string(tools.OpGetTask), map[string]any{"taskId": taskID}, &out)
	return out, err
}

// Heartbeat records liveness; taskID and status may be empty.
func (c *Client) Heartbeat(ctx context.Context, agentID, taskID, status string) (HeartbeatResult, error) {
	args := map[string]any{"agentId": agentID}
	if taskID != "" {
		args["taskId"] = taskID
	}
	if status != "" {
		args["status"] = status
	}
	var out HeartbeatResult
	err := c.Call(ctx, string(tools.OpAgentHeartbeat), args, &out)
	return out, err
}

func (c *Client) AgentStatuses(ctx context.Context) ([]AgentStatus, error) {
	var out []AgentStatus
	err := c.Call(ctx, string(tools.OpGetAgentStatus), nil, &out)
	return out, err
}

// AcquireLock takes or renews a lock. A zero ttl uses the server default.
func (c *Client) AcquireLock(ctx context.Context, filePath, agentID string, lockType LockType, ttl time.Duration) (FileLock, error) {
	args := map[string]any{"filePath": filePath, "agentId": agentID}
	if lockType != "" {
		args["lockType"] = lockType
	}
	if ttl > 0 {
		args["durationSeconds"] = int(ttl / time.Second)
	}
	var out FileLock
	err := c.Call(ctx, string(tools.OpAcquireFileLock), args, &out)
	return out, err
}

func (c *Client) ReleaseLock(ctx context.Context, filePath, agentID string) (bool, error) {
	var out struct {
		Released bool `json:"released"`
	}
	err := c.Call(ctx, string(tools.OpReleaseFileLock), map[string]any{"filePath": filePath, "agentId": agentID}, &out)
	return out.Released, err
}

func (c *Client) ListLocks(ctx context.Context) ([]FileLock, error) {
	var out []FileLock
	err := c.Call(ctx, string(tools.OpListFileLocks), nil, &out)
	return out, err
}

// Reviews

// CheckReviewRequired asks the policy engine about action. agent and
// autonomyLevel may be empty.
func (c *Client) CheckReviewRequired(ctx context.Context, action, agent, autonomyLevel string) (Decision, error) {
	actx := map[string]any{}
	if agent != "" {
		actx["agent"] = agent
	}
	if autonomyLevel != "" {
		actx["autonomy_level"] = autonomyLevel
	}
	var out Decision
	err := c.Call(ctx, string(tools.OpCheckReviewRequired), map[string]any{"action": action, "context": actx}, &out)
	return out, err
}

func (c *Client) RequestReview(ctx context.Context, req ReviewRequest) (Review, error) {
	args := map[string]any{"id": req.ID, "type": req.Type, "creator": req.Creator, "title": req.Title}
	if len(req.Artifacts) > 0 {
		args["artifacts"] = req.Artifacts
	}
	if len(req.Context) > 0 {
		args["context"] = req.Context
	}
	if len(req.Questions) > 0 {
		args["questions"] = req.Questions
	}
	var out Review
	err := c.Call(ctx, string(tools.OpRequestReview), args, &out)
	return out, err
}

// Verdict is a reviewer's submission.
type Verdict struct {
	Status     ReviewStatus
	Feedback   Payload
	Checklist  Payload
	Confidence *int
}

func (c *Client) SubmitReview(ctx context.Context, reviewID, reviewer string, v Verdict) (Review, error) {
	args := map[string]any{"reviewId": reviewID, "reviewer": reviewer, "status": v.Status}
	if len(v.Feedback) > 0 {
		args["feedback"] = v.Feedback
	}
	if len(v.Checklist) > 0 {
		args["checklist"] = v.Checklist
	}
	if v.Confidence != nil {
		args["confidence"] = *v.Confidence
	}
	var out Review
	err := c.Call(ctx, string(tools.OpSubmitReview), args, &out)
	return out, err
}

func (c *Client) GetReview(ctx context.Context, reviewID string) (Review, error) {
	var out Review
	err := c.Call(ctx, string(tools.OpGetReview), map[string]any{"reviewId": reviewID}, &out)
	return out, err
}

// ReviewQuery narrows ListReviews; zero fields are ignored.
type ReviewQuery struct {
	Status   ReviewStatus `json:"status,omitempty"`
	Reviewer string       `json:"reviewer,omitempty"`
	Creator  string       `json:"creator,omitempty"`
	Limit    int          `json:"limit,omitempty"`
}

func (c *Client) ListReviews(ctx context.Context, q ReviewQuery) ([]Review, error) {
	var out []Review
	err := c.Call(ctx, string(tools.OpListReviews), q, &out)
	return out, err
}

func (c *Client) StartReview(ctx context.Context, reviewID, reviewer string) (Review, error) {
	var out Review
	err := c.Call(ctx, string(tools.OpStartReview), map[string]any{"reviewId": reviewID, "reviewer": reviewer}, &out)
	return out, err
}

func (c *Client) ValidateCriteria(ctx context.Context, reviewType string, artifacts Payload) (ValidationResult, error) {
	var out ValidationResult
	err := c.Call(ctx, string(tools.OpValidateCriteria), map[string]any{"reviewType": reviewType, "artifacts": artifacts}, &out)
	return out, err
}

func (c *Client) RequestReReview(ctx context.Context, reviewID string, revision int, changesMade string, artifacts Payload) (Review, error) {
	args := map[string]any{"reviewId": reviewID, "revisionNumber": revision, "changesMade": changesMade}
	if len(artifacts) > 0 {
		args["artifacts"] = artifacts
	}
	var out Review
	err := c.Call(ctx, string(tools.OpRequestReReview), args, &out)
	return out, err
}

func (c *Client) Escalate(ctx context.Context, reviewID string, reason core.EscalationReason, creatorArgument string) (Review, error) {
	args := map[string]any{"reviewId": reviewID, "reason": reason}
	if creatorArgument != "" {
		args["creatorArgument"] = creatorArgument
	}
	var out Review
	err := c.Call(ctx, string(tools.OpEscalateReview), args, &out)
	return out, err
}

func (c *Client) ResolveEscalation(ctx context.Context, reviewID string, decision core.Resolution, decidedBy, instructions string) (Review, error) {
	args := map[string]any{"reviewId": reviewID, "decision": decision, "decidedBy": decidedBy}
	if instructions != "" {
		args["instructions"] = instructions
	}
	var out Review
	err := c.Call(ctx, string(tools.OpResolveEscalation), args, &out)
	return out, err
}

func (c *Client) ReviewMetrics(ctx context.Context, period core.MetricsPeriod, agent, reviewType string) (ReviewMetrics, error) {
	args := map[string]any{}
	if period != "" {
		args["period"] = period
	}
	if agent != "" {
		args["agent"] = agent
	}
	if reviewType != "" {
		args["type"] = reviewType
	}
	var out ReviewMetrics
	err := c.Call(ctx, string(tools.OpGetReviewMetrics), args, &out)
	return out, err
}

func (c *Client) SweepReviews(ctx context.Context) (SweepResult, error) {
	var out SweepResult
	err := c.Call(ctx, string(tools.OpSweepReviews), nil, &out)
	return out, err
}

// Notifications

func (c *Client) Notifications(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]Notification, error) {
	args := map[string]any{"recipient": recipient}
	if unreadOnly {
		args["unreadOnly"] = true
	}
	if limit > 0 {
		args["limit"] = limit
	}
	var out []Notification
	err := c.Call(ctx, string(tools.OpGetNotifications), args, &out)
	return out, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, recipient, notificationID string) error {
	return c.Call(ctx, string(tools.OpMarkNotificationRead), map[string]any{"recipient": recipient, "notificationId": notificationID}, nil)
}

// Learning

func (c *Client) AutoSkipPatterns(ctx context.Context, eligibleOnly bool) ([]AutoSkipPattern, error) {
	args := map[string]any{}
	if eligibleOnly {
		args["eligibleOnly"] = true
	}
	var out []AutoSkipPattern
	err := c.Call(ctx, string(tools.OpListAutoSkipPatterns), args, &out)
	return out, err
}

func (c *Client) SetAutoSkip(ctx context.Context, patternID string, enabled bool) (AutoSkipPattern, error) {
	var out AutoSkipPattern
	err := c.Call(ctx, string(tools.OpSetAutoSkip), map[string]any{"patternId": patternID, "enabled": enabled}, &out)
	return out, err
}
