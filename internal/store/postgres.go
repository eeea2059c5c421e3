package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) UpsertReview(ctx context.Context, review Review) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, user_id, file_name, file_type, state, view_mode, analysis_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			file_type = EXCLUDED.file_type,
			state = EXCLUDED.state,
			view_mode = EXCLUDED.view_mode,
			analysis_id = EXCLUDED.analysis_id,
			updated_at = NOW()
	`, review.ID, review.UserID, review.FileName, review.FileType, review.State, review.ViewMode, review.AnalysisID)
	if err != nil {
		return fmt.Errorf("upsert review: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReview(ctx context.Context, reviewID string) (Review, error) {
	var review Review
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, file_name, file_type, state, view_mode, analysis_id, created_at, updated_at
		FROM reviews
		WHERE id=$1 AND deleted_at IS NULL
	`, reviewID).Scan(
		&review.ID,
		&review.UserID,
		&review.FileName,
		&review.FileType,
		&review.State,
		&review.ViewMode,
		&review.AnalysisID,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		return Review{}, err
	}
	return review, nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, userID string, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, file_name, file_type, state, view_mode, analysis_id, created_at, updated_at
		FROM reviews
		WHERE user_id=$1 AND deleted_at IS NULL
		ORDER BY updated_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		var item Review
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.FileName,
			&item.FileType,
			&item.State,
			&item.ViewMode,
			&item.AnalysisID,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}

// DeleteReview soft-deletes a review. Its fix events are immutable, so the
// row stays for the audit trail.
func (s *PostgresStore) DeleteReview(ctx context.Context, reviewID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE reviews SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, reviewID)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete review rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordAnalysis stores an analysis and its issues and points the review at
// it, in one transaction.
func (s *PostgresStore) RecordAnalysis(ctx context.Context, analysis Analysis, issues []Issue) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO analyses (id, review_id, file_name, file_type, format_type, total_score, summary, is_large_document, issue_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, analysis.ID, analysis.ReviewID, analysis.FileName, analysis.FileType, analysis.FormatType,
			analysis.TotalScore, analysis.Summary, analysis.IsLargeDocument, len(issues)); err != nil {
			return fmt.Errorf("insert analysis: %w", err)
		}

		for _, item := range issues {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO issues (analysis_id, id, review_id, position, type, severity, description, suggestion, original_text, corrected_text, custom_format, is_fixed)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				ON CONFLICT (analysis_id, id) DO UPDATE SET is_fixed = EXCLUDED.is_fixed
			`, analysis.ID, item.ID, analysis.ReviewID, item.Position, item.Type, item.Severity, item.Description,
				item.Suggestion, item.OriginalText, item.CorrectedText, item.CustomFormat, item.IsFixed); err != nil {
				return fmt.Errorf("insert issue %s: %w", item.ID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE reviews SET analysis_id=$2, file_name=$3, file_type=$4, updated_at=NOW() WHERE id=$1
		`, analysis.ReviewID, analysis.ID, analysis.FileName, analysis.FileType); err != nil {
			return fmt.Errorf("point review at analysis: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListIssues(ctx context.Context, analysisID string) ([]Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT analysis_id, id, review_id, position, type, severity, description, suggestion,
			original_text, corrected_text, custom_format, is_fixed
		FROM issues
		WHERE analysis_id=$1
		ORDER BY position ASC
	`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	items := make([]Issue, 0)
	for rows.Next() {
		var item Issue
		if err := rows.Scan(
			&item.AnalysisID,
			&item.ID,
			&item.ReviewID,
			&item.Position,
			&item.Type,
			&item.Severity,
			&item.Description,
			&item.Suggestion,
			&item.OriginalText,
			&item.CorrectedText,
			&item.CustomFormat,
			&item.IsFixed,
		); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return items, nil
}

// RecordFixes appends fix events and flips the matching issues to fixed.
func (s *PostgresStore) RecordFixes(ctx context.Context, events []FixEvent) error {
	if len(events) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, event := range events {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO fix_events (review_id, analysis_id, issue_id, method, original_text, correction, applied_by)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, event.ReviewID, event.AnalysisID, event.IssueID, event.Method, event.OriginalText, event.Correction, event.AppliedBy); err != nil {
				return fmt.Errorf("insert fix event: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE issues SET is_fixed=TRUE, fixed_at=NOW() WHERE analysis_id=$1 AND id=$2
			`, event.AnalysisID, event.IssueID); err != nil {
				return fmt.Errorf("mark issue fixed: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListFixEvents(ctx context.Context, reviewID string, limit int) ([]FixEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, analysis_id, issue_id, method, original_text, correction, applied_by, applied_at
		FROM fix_events
		WHERE review_id=$1
		ORDER BY applied_at DESC, id DESC
		LIMIT $2
	`, reviewID, limit)
	if err != nil {
		return nil, fmt.Errorf("list fix events: %w", err)
	}
	defer rows.Close()

	items := make([]FixEvent, 0)
	for rows.Next() {
		var item FixEvent
		if err := rows.Scan(
			&item.ID,
			&item.ReviewID,
			&item.AnalysisID,
			&item.IssueID,
			&item.Method,
			&item.OriginalText,
			&item.Correction,
			&item.AppliedBy,
			&item.AppliedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fix event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fix events: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
