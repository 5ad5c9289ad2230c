package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/storage"
)

const reviewColumns = `id, type, creator_agent, reviewer_agent, status, title, created_at, started_at, completed_at,
	artifacts_json, context_json, questions_json, feedback_json, checklist_json, confidence, time_to_review_ms,
	revision_count, escalation_reason, creator_argument, resolution, resolved_by, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(sc rowScanner) (core.Review, error) {
	var (
		r                                       core.Review
		reviewer, escalation, argument          sql.NullString
		resolution, resolvedBy                  sql.NullString
		artifacts, ctxJSON, questions, feedback sql.NullString
		checklist                               sql.NullString
		status                                  string
		createdAt                               int64
		startedAt, completedAt, resolvedAt, ttr sql.NullInt64
		confidence                              sql.NullInt64
	)
	if err := sc.Scan(&r.ID, &r.Type, &r.Creator, &reviewer, &status, &r.Title, &createdAt, &startedAt, &completedAt,
		&artifacts, &ctxJSON, &questions, &feedback, &checklist, &confidence, &ttr,
		&r.RevisionCount, &escalation, &argument, &resolution, &resolvedBy, &resolvedAt); err != nil {
		return core.Review{}, err
	}
	r.Reviewer = reviewer.String
	r.Status = core.ReviewStatus(status)
	r.CreatedAt = fromMS(createdAt)
	r.StartedAt = fromNullMS(startedAt)
	r.CompletedAt = fromNullMS(completedAt)
	r.Artifacts = payloadFrom(artifacts)
	r.Context = payloadFrom(ctxJSON)
	r.Questions = decodeList[string](questions)
	r.Feedback = payloadFrom(feedback)
	r.Checklist = payloadFrom(checklist)
	if confidence.Valid {
		c := int(confidence.Int64)
		r.Confidence = &c
	}
	if ttr.Valid {
		v := ttr.Int64
		r.TimeToReviewMS = &v
	}
	r.EscalationReason = core.EscalationReason(escalation.String)
	r.CreatorArgument = argument.String
	r.Resolution = core.Resolution(resolution.String)
	r.ResolvedBy = resolvedBy.String
	r.ResolvedAt = fromNullMS(resolvedAt)
	return r, nil
}

func statusArgs(set []core.ReviewStatus) (string, []any) {
	marks := make([]string, len(set))
	args := make([]any, len(set))
	for i, s := range set {
		marks[i] = "?"
		args[i] = string(s)
	}
	return strings.Join(marks, ","), args
}

func (s *Store) CreateReview(ctx context.Context, r core.Review) (core.Review, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, type, creator_agent, reviewer_agent, status, title, created_at,
		   artifacts_json, context_json, questions_json, revision_count)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID, r.Type, r.Creator, nullString(r.Reviewer), r.Title, toMS(r.CreatedAt),
		payloadValue(r.Artifacts), payloadValue(r.Context), encodeList(r.Questions),
	)
	if err != nil {
		return core.Review{}, fmt.Errorf("create review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Review{}, &core.ConflictError{Kind: core.ConflictDuplicate, Resource: "review " + r.ID}
	}
	return s.GetReview(ctx, r.ID)
}

// GetReview returns the review with its revision history.
func (s *Store) GetReview(ctx context.Context, id string) (core.Review, error) {
	r, err := s.getReview(ctx, s.db, id)
	if err != nil {
		return core.Review{}, err
	}
	r.Revisions, err = s.listRevisions(ctx, id)
	if err != nil {
		return core.Review{}, err
	}
	return r, nil
}

func (s *Store) getReview(ctx context.Context, q querier, id string) (core.Review, error) {
	r, err := scanReview(q.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Review{}, core.NotFound("review", id)
	}
	if err != nil {
		return core.Review{}, fmt.Errorf("get review: %w", err)
	}
	return r, nil
}

func (s *Store) listRevisions(ctx context.Context, id string) ([]core.ReviewRevision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT review_id, revision_number, changes_requested, changes_made, created_at
		 FROM review_revisions WHERE review_id=? ORDER BY revision_number, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var out []core.ReviewRevision
	for rows.Next() {
		var (
			rev       core.ReviewRevision
			requested sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rev.ReviewID, &rev.RevisionNumber, &requested, &rev.ChangesMade, &createdAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		rev.ChangesRequested = requested.String
		rev.CreatedAt = fromMS(createdAt)
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) ListReviews(ctx context.Context, f core.ReviewFilter) ([]core.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, string(f.Status))
	}
	if f.Reviewer != "" {
		query += ` AND reviewer_agent=?`
		args = append(args, f.Reviewer)
	}
	if f.Creator != "" {
		query += ` AND creator_agent=?`
		args = append(args, f.Creator)
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryReviews(ctx, query, args...)
}

func (s *Store) queryReviews(ctx context.Context, query string, args ...any) ([]core.Review, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) AssignReviewer(ctx context.Context, id, reviewer string) (core.Review, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE reviews SET reviewer_agent=? WHERE id=?`, reviewer, id)
	if err != nil {
		return core.Review{}, fmt.Errorf("assign reviewer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Review{}, core.NotFound("review", id)
	}
	return s.GetReview(ctx, id)
}

// guardedUpdate runs a status-guarded UPDATE on one review. When no row
// changes it re-reads the review and reports why through refuse.
func (s *Store) guardedUpdate(ctx context.Context, id string, refuse func(core.Review) error, query string, args ...any) (core.Review, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return core.Review{}, fmt.Errorf("update review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Review{}, fmt.Errorf("update review: %w", err)
	}
	if n == 0 {
		current, err := s.getReview(ctx, s.db, id)
		if err != nil {
			return core.Review{}, err
		}
		return core.Review{}, refuse(current)
	}
	return s.GetReview(ctx, id)
}

func (s *Store) StartReview(ctx context.Context, id, reviewer string, now time.Time) (core.Review, error) {
	marks, statuses := statusArgs(core.StartableStatuses)
	args := append([]any{toMS(now), reviewer, id}, statuses...)
	return s.guardedUpdate(ctx, id, storage.TransitionConflict,
		`UPDATE reviews SET status='in_progress', started_at=?, reviewer_agent=?
		 WHERE id=? AND status IN (`+marks+`)`, args...)
}

// SubmitReview records the verdict. An unassigned review is claimed by the
// submitting reviewer; time_to_review_ms is only set when the review was
// started.
func (s *Store) SubmitReview(ctx context.Context, d core.ReviewDecision, now time.Time) (core.Review, error) {
	ts := toMS(now)
	var confidence sql.NullInt64
	if d.Confidence != nil {
		confidence = sql.NullInt64{Int64: int64(*d.Confidence), Valid: true}
	}
	marks, statuses := statusArgs(core.SubmittableStatuses)
	args := []any{string(d.Status), payloadValue(d.Feedback), payloadValue(d.Checklist), confidence, ts, d.Reviewer, ts, d.ReviewID}
	args = append(args, statuses...)
	args = append(args, d.Reviewer)
	return s.guardedUpdate(ctx, d.ReviewID, func(r core.Review) error { return storage.SubmitRefusal(r, d.Reviewer) },
		`UPDATE reviews SET status=?, feedback_json=?, checklist_json=?, confidence=?, completed_at=?,
		   reviewer_agent=?,
		   time_to_review_ms = CASE WHEN started_at IS NULL THEN NULL ELSE ? - started_at END
		 WHERE id=? AND status IN (`+marks+`)
		   AND (reviewer_agent IS NULL OR reviewer_agent = '' OR reviewer_agent = ?)`, args...)
}

// RequestReReview moves the review back to pending_re_review and appends a
// revision row carrying the feedback that prompted it.
func (s *Store) RequestReReview(ctx context.Context, id string, revisionNumber int, changesMade string, artifacts core.Payload, now time.Time) (core.Review, error) {
	marks, statuses := statusArgs(core.RevisableStatuses)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		args := append([]any{revisionNumber, payloadValue(artifacts), id}, statuses...)
		res, err := tx.ExecContext(ctx,
			`UPDATE reviews SET status='pending_re_review', revision_count=?, started_at=NULL, completed_at=NULL,
			   time_to_review_ms=NULL, artifacts_json=COALESCE(?, artifacts_json)
			 WHERE id=? AND status IN (`+marks+`)`, args...)
		if err != nil {
			return fmt.Errorf("request re-review: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			current, err := s.getReview(ctx, tx, id)
			if err != nil {
				return err
			}
			return storage.TransitionConflict(current)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO review_revisions (review_id, revision_number, changes_requested, changes_made, created_at)
			 SELECT id, ?, feedback_json, ?, ? FROM reviews WHERE id=?`,
			revisionNumber, changesMade, toMS(now), id,
		); err != nil {
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
	marks, statuses := statusArgs(core.EscalatableStatuses)
	args := append([]any{string(reason), creatorArgument, id}, statuses...)
	return s.guardedUpdate(ctx, id, storage.TransitionConflict,
		`UPDATE reviews SET status='escalated', escalation_reason=?,
		   creator_argument=COALESCE(NULLIF(?, ''), creator_argument)
		 WHERE id=? AND status IN (`+marks+`)`, args...)
}

func (s *Store) ResolveEscalation(ctx context.Context, id string, resolution core.Resolution, resolvedBy string, now time.Time) (core.Review, error) {
	status, ok := resolution.Status()
	if !ok {
		return core.Review{}, core.Invalid("unknown resolution %q", resolution)
	}
	ts := toMS(now)
	return s.guardedUpdate(ctx, id, storage.TransitionConflict,
		`UPDATE reviews SET status=?, resolution=?, resolved_by=?, resolved_at=?, completed_at=?
		 WHERE id=? AND status='escalated'`,
		string(status), string(resolution), resolvedBy, ts, ts, id)
}

func (s *Store) QueueDepth(ctx context.Context, reviewer string) (int, error) {
	marks, statuses := statusArgs(core.QueuedStatuses)
	args := append([]any{reviewer}, statuses...)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE reviewer_agent=? AND status IN (`+marks+`)`, args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (s *Store) ReviewsOlderThan(ctx context.Context, status core.ReviewStatus, cutoff time.Time) ([]core.Review, error) {
	return s.queryReviews(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE status=? AND created_at < ? ORDER BY created_at, id`,
		string(status), toMS(cutoff))
}

func (s *Store) ReviewsSince(ctx context.Context, f core.MetricsFilter) ([]core.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE created_at >= ?`
	args := []any{toMS(f.Since)}
	if f.Agent != "" {
		query += ` AND (creator_agent=? OR reviewer_agent=?)`
		args = append(args, f.Agent, f.Agent)
	}
	if f.Type != "" {
		query += ` AND type=?`
		args = append(args, f.Type)
	}
	query += ` ORDER BY created_at, id`
	return s.queryReviews(ctx, query, args...)
}

// RecordDailyRollup folds a submitted review into its daily bucket. Averages
// only move when the review carries the measured value.
func (s *Store) RecordDailyRollup(ctx context.Context, r core.Review) error {
	at := r.CreatedAt
	if r.CompletedAt != nil {
		at = *r.CompletedAt
	}
	var ttr, conf sql.NullFloat64
	if r.TimeToReviewMS != nil {
		ttr = sql.NullFloat64{Float64: float64(*r.TimeToReviewMS), Valid: true}
	}
	if r.Confidence != nil {
		conf = sql.NullFloat64{Float64: float64(*r.Confidence), Valid: true}
	}
	approved, changes, rejected := outcomeCounts(r.Status)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_metrics (date, review_type, creator_agent, reviewer_agent,
		   total_reviews, approved, changes_requested, rejected, avg_review_time_ms, avg_confidence)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?, COALESCE(?, 0), COALESCE(?, 0))
		 ON CONFLICT(date, review_type, creator_agent, reviewer_agent) DO UPDATE SET
		   avg_review_time_ms = CASE WHEN excluded.avg_review_time_ms > 0
		     THEN (review_metrics.avg_review_time_ms * review_metrics.total_reviews + excluded.avg_review_time_ms) / (review_metrics.total_reviews + 1)
		     ELSE review_metrics.avg_review_time_ms END,
		   avg_confidence = CASE WHEN excluded.avg_confidence > 0
		     THEN (review_metrics.avg_confidence * review_metrics.total_reviews + excluded.avg_confidence) / (review_metrics.total_reviews + 1)
		     ELSE review_metrics.avg_confidence END,
		   total_reviews = review_metrics.total_reviews + 1,
		   approved = review_metrics.approved + excluded.approved,
		   changes_requested = review_metrics.changes_requested + excluded.changes_requested,
		   rejected = review_metrics.rejected + excluded.rejected`,
		storage.RollupDate(at), r.Type, r.Creator, r.Reviewer, approved, changes, rejected, ttr, conf,
	)
	if err != nil {
		return fmt.Errorf("record rollup: %w", err)
	}
	return nil
}

func outcomeCounts(status core.ReviewStatus) (approved, changes, rejected int) {
	switch status {
	case core.ReviewApproved:
		return 1, 0, 0
	case core.ReviewChangesRequested:
		return 0, 1, 0
	case core.ReviewRejected:
		return 0, 0, 1
	}
	return 0, 0, 0
}

func (s *Store) ListDailyRollups(ctx context.Context, since time.Time) ([]core.DailyRollup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, review_type, creator_agent, reviewer_agent, total_reviews, approved, changes_requested,
		   rejected, avg_review_time_ms, avg_confidence
		 FROM review_metrics WHERE date >= ? ORDER BY date, review_type, creator_agent, reviewer_agent`,
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
