package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the issues table using PostgreSQL
// full-text search. It is the fallback when Meilisearch is down.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks issues of live reviews with plainto_tsquery and ts_rank and
// uses ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where, args := pgWhere(q)

	countSQL := `SELECT count(*) FROM issues i JOIN reviews r ON r.id = i.review_id WHERE ` + where
	dataSQL := fmt.Sprintf(`
		SELECT i.analysis_id, i.id, i.review_id, i.type, i.severity, i.description,
			ts_headline('english', coalesce(nullif(i.original_text, ''), i.suggestion), plainto_tsquery('english', $1),
				'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			i.is_fixed
		FROM issues i
		JOIN reviews r ON r.id = i.review_id
		WHERE %s
		ORDER BY ts_rank(i.fts, plainto_tsquery('english', $1)) DESC, i.position
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.AnalysisID, &r.IssueID, &r.ReviewID, &r.Type, &r.Severity, &r.Title, &r.Snippet, &r.IsFixed); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.ID = RecordID(r.AnalysisID, r.IssueID)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// pgWhere builds the shared WHERE clause. $1 is always the query text.
func pgWhere(q Query) (string, []any) {
	clauses := []string{"i.fts @@ plainto_tsquery('english', $1)", "r.deleted_at IS NULL", "i.analysis_id = r.analysis_id"}
	args := []any{q.Text}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("r.user_id", q.UserID)
	add("i.review_id", q.ReviewID)
	add("i.severity", q.Severity)
	add("i.type", q.Type)
	return strings.Join(clauses, " AND "), args
}

// LoadAllRecords returns the issues of every live review's current analysis
// for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]IssueRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT i.analysis_id, i.id, i.review_id, r.user_id, i.type, i.severity,
			i.description, i.original_text, i.suggestion, i.is_fixed
		FROM issues i
		JOIN reviews r ON r.id = i.review_id
		WHERE r.deleted_at IS NULL AND i.analysis_id = r.analysis_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}
	defer rows.Close()

	records := make([]IssueRecord, 0)
	for rows.Next() {
		var rec IssueRecord
		if err := rows.Scan(&rec.AnalysisID, &rec.IssueID, &rec.ReviewID, &rec.UserID, &rec.Type, &rec.Severity,
			&rec.Description, &rec.OriginalText, &rec.Suggestion, &rec.IsFixed); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		rec.ID = RecordID(rec.AnalysisID, rec.IssueID)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return records, nil
}
