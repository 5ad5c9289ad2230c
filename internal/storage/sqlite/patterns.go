package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
)

const patternColumns = `id, action_type, creator_agent, total_attempts, successful_reviews, avg_confidence,
	eligible_for_skip, skip_enabled, skip_enabled_at, skip_suggested, last_review_at, confidences_json`

func scanPattern(sc rowScanner) (core.AutoSkipPattern, error) {
	var (
		p                          core.AutoSkipPattern
		eligible, enabled, suggest int
		enabledAt, lastReview      sql.NullInt64
		confidences                sql.NullString
	)
	if err := sc.Scan(&p.ID, &p.ActionType, &p.Creator, &p.TotalAttempts, &p.SuccessfulReviews, &p.AvgConfidence,
		&eligible, &enabled, &enabledAt, &suggest, &lastReview, &confidences); err != nil {
		return core.AutoSkipPattern{}, err
	}
	p.EligibleForSkip = eligible != 0
	p.SkipEnabled = enabled != 0
	p.SkipSuggested = suggest != 0
	p.SkipEnabledAt = fromNullMS(enabledAt)
	p.LastReviewAt = fromNullMS(lastReview)
	p.Confidences = decodeList[float64](confidences)
	return p, nil
}

func (s *Store) GetPattern(ctx context.Context, id string) (core.AutoSkipPattern, error) {
	return s.getPattern(ctx, s.db, id)
}

func (s *Store) getPattern(ctx context.Context, q querier, id string) (core.AutoSkipPattern, error) {
	p, err := scanPattern(q.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM auto_skip_patterns WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.AutoSkipPattern{}, core.NotFound("pattern", id)
	}
	if err != nil {
		return core.AutoSkipPattern{}, fmt.Errorf("get pattern: %w", err)
	}
	return p, nil
}

func (s *Store) ListPatterns(ctx context.Context, eligibleOnly bool) ([]core.AutoSkipPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM auto_skip_patterns`
	if eligibleOnly {
		query += ` WHERE eligible_for_skip = 1`
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []core.AutoSkipPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) UpdatePattern(ctx context.Context, actionType, creator string, fn func(*core.AutoSkipPattern) error) (core.AutoSkipPattern, error) {
	id := core.PatternID(actionType, creator)
	var out core.AutoSkipPattern
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := s.getPattern(ctx, tx, id)
		if errors.Is(err, core.ErrNotFound) {
			p = core.AutoSkipPattern{ID: id, ActionType: actionType, Creator: creator, Confidences: []float64{}}
		} else if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO auto_skip_patterns (`+patternColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   total_attempts=excluded.total_attempts,
			   successful_reviews=excluded.successful_reviews,
			   avg_confidence=excluded.avg_confidence,
			   eligible_for_skip=excluded.eligible_for_skip,
			   skip_enabled=excluded.skip_enabled,
			   skip_enabled_at=excluded.skip_enabled_at,
			   skip_suggested=excluded.skip_suggested,
			   last_review_at=excluded.last_review_at,
			   confidences_json=excluded.confidences_json`,
			p.ID, p.ActionType, p.Creator, p.TotalAttempts, p.SuccessfulReviews, p.AvgConfidence,
			boolInt(p.EligibleForSkip), boolInt(p.SkipEnabled), nullMS(p.SkipEnabledAt), boolInt(p.SkipSuggested),
			nullMS(p.LastReviewAt), encodeList(p.Confidences),
		); err != nil {
			return fmt.Errorf("upsert pattern: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return core.AutoSkipPattern{}, err
	}
	return out, nil
}

func (s *Store) SetSkipEnabled(ctx context.Context, id string, enabled bool, now time.Time) (core.AutoSkipPattern, error) {
	var enabledAt sql.NullInt64
	if enabled {
		enabledAt = sql.NullInt64{Int64: toMS(now), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE auto_skip_patterns SET skip_enabled=?, skip_enabled_at=? WHERE id=?`,
		boolInt(enabled), enabledAt, id)
	if err != nil {
		return core.AutoSkipPattern{}, fmt.Errorf("set skip enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.AutoSkipPattern{}, core.NotFound("pattern", id)
	}
	return s.GetPattern(ctx, id)
}
