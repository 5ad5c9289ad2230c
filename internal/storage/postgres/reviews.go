package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/storage"
)

const reviewColumns = `id, type, creator_agent, reviewer_agent, status, title, created_at, started_at, completed_at,
  artifacts_json, context_json, questions_json, feedback_json, checklist_json, confidence, time_to_review_ms,
  revision_count, escalation_reason, creator_argument, resolution, resolved_by, resolved_at`

func scanReview(row pgx.Row) (core.Review, error) {
	var (
		r                                       core.Review
		reviewer, escalation, argument          *string
		resolution, resolvedBy                  *string
		artifacts, ctxJSON, questions, feedback *string
		checklist                               *string
		status                                  string
		createdAt                               int64
		startedAt, completedAt, resolvedAt, ttr *int64
		confidence                              *int32
	)
	if err := row.Scan(&r.ID, &r.Type, &r.Creator, &reviewer, &status, &r.Title, &createdAt, &startedAt, &completedAt,
		&artifacts, &ctxJSON, &questions, &feedback, &checklist, &confidence, &ttr,
		&r.RevisionCount, &escalation, &argument, &resolution, &resolvedBy, &resolvedAt); err != nil {
		return core.Review{}, err
	}
	r.Reviewer = deref(reviewer)
	r.Status = core.ReviewStatus(status)
	r.CreatedAt = fromMS(createdAt)
	r.StartedAt = fromOptMS(startedAt)
	r.CompletedAt = fromOptMS(completedAt)
	r.Artifacts = payloadFrom(artifacts)
	r.Context = payloadFrom(ctxJSON)
	r.Questions = decodeList[string](questions)
	r.Feedback = payloadFrom(feedback)
	r.Checklist = payloadFrom(checklist)
	if confidence != nil {
		c := int(*confidence)
		r.Confidence = &c
	}
	r.TimeToReviewMS = ttr
	r.EscalationReason = core.EscalationReason(deref(escalation))
	r.CreatorArgument = deref(argument)
	r.Resolution = core.Resolution(deref(resolution))
	r.ResolvedBy = deref(resolvedBy)
	r.ResolvedAt = fromOptMS(resolvedAt)
	return r, nil
}

func (s *Store) CreateReview(ctx context.Context, r core.Review) (core.Review, error) {
	tag, err := s.Pool.Exec(ctx, `
INSERT INTO reviews (id, type, creator_agent, reviewer_agent, status, title, created_at,
  artifacts_json, context_json, questions_json, revision_count)
VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8, $9, 0)
ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Type, r.Creator, optString(r.Reviewer), r.Title, toMS(r.CreatedAt),
		optPayload(r.Artifacts), optPayload(r.Context), encodeList(r.Questions))
	if err != nil {
		return core.Review{}, fmt.Errorf("create review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.Review{}, &core.ConflictError{Kind: core.ConflictDuplicate, Resource: "review " + r.ID}
	}
	return s.GetReview(ctx, r.ID)
}

func (s *Store) GetReview(ctx context.Context, id string) (core.Review, error) {
	r, err := s.getReview(ctx, s.Pool, id)
	if err != nil {
		return core.Review{}, err
	}
	rows, err := s.Pool.Query(ctx, `
SELECT review_id, revision_number, changes_requested, changes_made, created_at
FROM review_revisions WHERE review_id = $1 ORDER BY revision_number, id`, id)
	if err != nil {
		return core.Review{}, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rev       core.ReviewRevision
			requested *string
			createdAt int64
		)
		if err := rows.Scan(&rev.ReviewID, &rev.RevisionNumber, &requested, &rev.ChangesMade, &createdAt); err != nil {
			return core.Review{}, fmt.Errorf("scan revision: %w", err)
		}
		rev.ChangesRequested = deref(requested)
		rev.CreatedAt = fromMS(createdAt)
		r.Revisions = append(r.Revisions, rev)
	}
	return r, rows.Err()
}

func (s *Store) getReview(ctx context.Context, q querier, id string) (core.Review, error) {
	r, err := scanReview(q.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Review{}, core.NotFound("review", id)
	}
	if err != nil {
		return core.Review{}, fmt.Errorf("get review: %w", err)
	}
	return r, nil
}

func (s *Store) queryReviews(ctx context.Context, query string, args ...any) ([]core.Review, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()
	var out []core.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListReviews(ctx context.Context, f core.ReviewFilter) ([]core.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE TRUE`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += " AND " + clause + " = $" + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.Reviewer != "" {
		add("reviewer_agent", f.Reviewer)
	}
	if f.Creator != "" {
		add("creator_agent", f.Creator)
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	return s.queryReviews(ctx, query, args...)
}

func (s *Store) AssignReviewer(ctx context.Context, id, reviewer string) (core.Review, error) {
	tag, err := s.Pool.Exec(ctx, `UPDATE reviews SET reviewer_agent = $1 WHERE id = $2`, reviewer, id)
	if err != nil {
		return core.Review{}, fmt.Errorf("assign reviewer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.Review{}, core.NotFound("review", id)
	}
	return s.GetReview(ctx, id)
}

func (s *Store) guardedUpdate(ctx context.Context, id string, refuse func(core.Review) error, query string, args ...any) (core.Review, error) {
	tag, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return core.Review{}, fmt.Errorf("update review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.getReview(ctx, s.Pool, id)
		if err != nil {
			return core.Review{}, err
		}
		return core.Review{}, refuse(current)
	}
	return s.GetReview(ctx, id)
}

func (s *Store) StartReview(ctx context.Context, id, reviewer string, now time.Time) (core.Review, error) {
	return s.guardedUpdate(ctx, id, storage.TransitionConflict, `
UPDATE reviews SET status = 'in_progress', started_at = $1, reviewer_agent = $2
WHERE id = $3 AND status = ANY($4)`,
		toMS(now), reviewer, id, statusList(core.StartableStatuses))
}

func (s *Store) SubmitReview(ctx context.Context, d core.ReviewDecision, now time.Time) (core.Review, error) {
	var confidence *int32
	if d.Confidence != nil {
		c := int32(*d.Confidence)
		confidence = &c
	}
	return s.guardedUpdate(ctx, d.ReviewID, func(r core.Review) error { return storage.SubmitRefusal(r, d.Reviewer) }, `
UPDATE reviews SET status = $1, feedback_json = $2, checklist_json = $3, confidence = $4, completed_at = $5,
  reviewer_agent = $6,
  time_to_review_ms = CASE WHEN started_at IS NULL THEN NULL ELSE $5 - started_at END
WHERE id = $7 AND status = ANY($8)
  AND (reviewer_agent IS NULL OR reviewer_agent = '' OR reviewer_agent = $6)`,
		string(d.Status), optPayload(d.Feedback), optPayload(d.Checklist), confidence, toMS(now), d.Reviewer,
		d.ReviewID, statusList(core.SubmittableStatuses))
}

func (s *Store) RequestReReview(ctx context.Context, id string, revisionNumber int, changesMade string, artifacts core.Payload, now time.Time) (core.Review, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE reviews SET status = 'pending_re_review', revision_count = $1, started_at = NULL, completed_at = NULL,
  time_to_review_ms = NULL, artifacts_json = COALESCE($2, artifacts_json)
WHERE id = $3 AND status = ANY($4)`,
			revisionNumber, optPayload(artifacts), id, statusList(core.RevisableStatuses))
		if err != nil {
			return fmt.Errorf("request re-review: %w", err)
		}
		if tag.RowsAffected() == 0 {
			current, err := s.getReview(ctx, tx, id)
			if err != nil {
				return err
			}
			return storage.TransitionConflict(current)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO review_revisions (review_id, revision_number, changes_requested, changes_made, created_at)
SELECT id, $1, feedback_json, $2, $3 FROM reviews WHERE id = $4`,
			revisionNumber, changesMade, toMS(now), id); err != nil {
			return fmt.Errorf("insert revision: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Review{}, err
	}
	return s.GetReview(ctx, id)
}

func (s *Store) EscalateReview(ctx context.Context, id string, reason core.EscalationReason, creatorArgument string) (core.Review, error) {
	return s.guardedUpdate(ctx, id, storage.TransitionConflict, `
UPDATE reviews SET status = 'escalated', escalation_reason = $1,
  creator_argument = COALESCE(NULLIF($2, ''), creator_argument)
WHERE id = $3 AND status = ANY($4)`,
		string(reason), creatorArgument, id, statusList(core.EscalatableStatuses))
}

func (s *Store) ResolveEscalation(ctx context.Context, id string, resolution core.Resolution, resolvedBy string, now time.Time) (core.Review, error) {
	status, ok := resolution.Status()
	if !ok {
		return core.Review{}, core.Invalid("unknown resolution %q", resolution)
	}
	return s.guardedUpdate(ctx, id, storage.TransitionConflict, `
UPDATE reviews SET status = $1, resolution = $2, resolved_by = $3, resolved_at = $4, completed_at = $4
WHERE id = $5 AND status = 'escalated'`,
		string(status), string(resolution), resolvedBy, toMS(now), id)
}

func (s *Store) QueueDepth(ctx context.Context, reviewer string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reviews WHERE reviewer_agent = $1 AND status = ANY($2)`,
		reviewer, statusList(core.QueuedStatuses)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (s *Store) ReviewsOlderThan(ctx context.Context, status core.ReviewStatus, cutoff time.Time) ([]core.Review, error) {
	return s.queryReviews(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE status = $1 AND created_at < $2 ORDER BY created_at, id`,
		string(status), toMS(cutoff))
}

func (s *Store) ReviewsSince(ctx context.Context, f core.MetricsFilter) ([]core.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE created_at >= $1`
	args := []any{toMS(f.Since)}
	if f.Agent != "" {
		args = append(args, f.Agent)
		n := strconv.Itoa(len(args))
		query += ` AND (creator_agent = $` + n + ` OR reviewer_agent = $` + n + `)`
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at, id`
	return s.queryReviews(ctx, query, args...)
}

func (s *Store) RecordDailyRollup(ctx context.Context, r core.Review) error {
	at := r.CreatedAt
	if r.CompletedAt != nil {
		at = *r.CompletedAt
	}
	var ttr, conf float64
	if r.TimeToReviewMS != nil {
		ttr = float64(*r.TimeToReviewMS)
	}
	if r.Confidence != nil {
		conf = float64(*r.Confidence)
	}
	approved, changes, rejected := 0, 0, 0
	switch r.Status {
	case core.ReviewApproved:
		approved = 1
	case core.ReviewChangesRequested:
		changes = 1
	case core.ReviewRejected:
		rejected = 1
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO review_metrics (date, review_type, creator_agent, reviewer_agent,
  total_reviews, approved, changes_requested, rejected, avg_review_time_ms, avg_confidence)
VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8, $9)
ON CONFLICT (date, review_type, creator_agent, reviewer_agent) DO UPDATE SET
  avg_review_time_ms = CASE WHEN EXCLUDED.avg_review_time_ms > 0
    THEN (review_metrics.avg_review_time_ms * review_metrics.total_reviews + EXCLUDED.avg_review_time_ms) / (review_metrics.total_reviews + 1)
    ELSE review_metrics.avg_review_time_ms END,
  avg_confidence = CASE WHEN EXCLUDED.avg_confidence > 0
    THEN (review_metrics.avg_confidence * review_metrics.total_reviews + EXCLUDED.avg_confidence) / (review_metrics.total_reviews + 1)
    ELSE review_metrics.avg_confidence END,
  total_reviews = review_metrics.total_reviews + 1,
  approved = review_metrics.approved + EXCLUDED.approved,
  changes_requested = review_metrics.changes_requested + EXCLUDED.changes_requested,
  rejected = review_metrics.rejected + EXCLUDED.rejected`,
		storage.RollupDate(at), r.Type, r.Creator, r.Reviewer, approved, changes, rejected, ttr, conf)
	if err != nil {
		return fmt.Errorf("record rollup: %w", err)
	}
	return nil
}

func (s *Store) ListDailyRollups(ctx context.Context, since time.Time) ([]core.DailyRollup, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT date, review_type, creator_agent, reviewer_agent, total_reviews, approved, changes_requested,
  rejected, avg_review_time_ms, avg_confidence
FROM review_metrics WHERE date >= $1 ORDER BY date, review_type, creator_agent, reviewer_agent`,
		storage.RollupDate(since))
	if err != nil {
		return nil, fmt.Errorf("list rollups: %w", err)
	}
	defer rows.Close()
	var out []core.DailyRollup
	for rows.Next() {
		var d core.DailyRollup
		if err := rows.Scan(&d.Date, &d.Type, &d.Creator, &d.Reviewer, &d.Total, &d.Approved, &d.ChangesRequested,
			&d.Rejected, &d.AvgReviewMS, &d.AvgConfidence); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
