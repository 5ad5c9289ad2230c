package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mistakeknot/intercoord/internal/core"
)

const patternColumns = `id, action_type, creator_agent, total_attempts, successful_reviews, avg_confidence,
  eligible_for_skip, skip_enabled, skip_enabled_at, skip_suggested, last_review_at, confidences_json`

func scanPattern(row pgx.Row) (core.AutoSkipPattern, error) {
	var (
		p                     core.AutoSkipPattern
		enabledAt, lastReview *int64
		confidences           *string
	)
	if err := row.Scan(&p.ID, &p.ActionType, &p.Creator, &p.TotalAttempts, &p.SuccessfulReviews, &p.AvgConfidence,
		&p.EligibleForSkip, &p.SkipEnabled, &enabledAt, &p.SkipSuggested, &lastReview, &confidences); err != nil {
		return core.AutoSkipPattern{}, err
	}
	p.SkipEnabledAt = fromOptMS(enabledAt)
	p.LastReviewAt = fromOptMS(lastReview)
	p.Confidences = decodeList[float64](confidences)
	return p, nil
}

func (s *Store) GetPattern(ctx context.Context, id string) (core.AutoSkipPattern, error) {
	p, err := scanPattern(s.Pool.QueryRow(ctx, `SELECT `+patternColumns+` FROM auto_skip_patterns WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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
		query += ` WHERE eligible_for_skip`
	}
	rows, err := s.Pool.Query(ctx, query+` ORDER BY id`)
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
	return out, rows.Err()
}

// UpdatePattern seeds the row if absent, then locks it FOR UPDATE so
// concurrent outcomes serialise on the pattern.
func (s *Store) UpdatePattern(ctx context.Context, actionType, creator string, fn func(*core.AutoSkipPattern) error) (core.AutoSkipPattern, error) {
	id := core.PatternID(actionType, creator)
	var out core.AutoSkipPattern
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO auto_skip_patterns (id, action_type, creator_agent) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			id, actionType, creator); err != nil {
			return fmt.Errorf("seed pattern: %w", err)
		}
		p, err := scanPattern(tx.QueryRow(ctx, `SELECT `+patternColumns+` FROM auto_skip_patterns WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return fmt.Errorf("lock pattern: %w", err)
		}
		if err := fn(&p); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
UPDATE auto_skip_patterns SET total_attempts = $2, successful_reviews = $3, avg_confidence = $4,
  eligible_for_skip = $5, skip_enabled = $6, skip_enabled_at = $7, skip_suggested = $8,
  last_review_at = $9, confidences_json = $10
WHERE id = $1`,
			p.ID, p.TotalAttempts, p.SuccessfulReviews, p.AvgConfidence, p.EligibleForSkip, p.SkipEnabled,
			optMS(p.SkipEnabledAt), p.SkipSuggested, optMS(p.LastReviewAt), encodeList(p.Confidences)); err != nil {
			return fmt.Errorf("update pattern: %w", err)
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
	var enabledAt *int64
	if enabled {
		v := toMS(now)
		enabledAt = &v
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE auto_skip_patterns SET skip_enabled = $1, skip_enabled_at = $2 WHERE id = $3`,
		enabled, enabledAt, id)
	if err != nil {
		return core.AutoSkipPattern{}, fmt.Errorf("set skip enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.AutoSkipPattern{}, core.NotFound("pattern", id)
	}
	return s.GetPattern(ctx, id)
}
