package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/storage"
)

// AdvancedQuery is an explicit per-field query. All set fields must match.
type AdvancedQuery struct {
	Title         string
	Description   string
	Tags          []string
	Category      string
	ConfidenceMin *float64
	ConfidenceMax *float64
	DateFrom      time.Time
	DateTo        time.Time
	Limit         int
}

// SearchSimilar finds insights textually close to the insight with id. The
// reference itself is never returned. A missing reference yields no results.
func (e *Engine) SearchSimilar(ctx context.Context, id string, limit int) ([]models.ScoredInsight, error) {
	if limit <= 0 {
		limit = 5
	}
	ref, err := e.store.GetInsight(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return []models.ScoredInsight{}, nil
	}

	res, err := e.Search(ctx, ref.Title+" "+ref.Description, Filters{}, limit+1, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoredInsight, 0, limit)
	for _, r := range res.Results {
		if r.ID == id {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

// Trending lists insights created in the last days, or with journal activity
// in that window, by activity count then recency. Score is the activity count.
func (e *Engine) Trending(ctx context.Context, days, limit int) ([]models.ScoredInsight, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	since := models.FormatTime(e.store.Now().AddDate(0, 0, -days))

	rows, err := e.store.Reader().QueryContext(ctx,
		`SELECT `+storage.InsightColumns+`, COUNT(j.id) AS activity
		 FROM insights i
		 LEFT JOIN journal_entries j ON j.insight_id = i.id AND j.date >= ?
		 WHERE i.created_at >= ? OR j.id IS NOT NULL
		 GROUP BY i.id
		 ORDER BY activity DESC, i.created_at DESC, i.rowid DESC
		 LIMIT ?`, since, since, limit)
	if err != nil {
		return nil, &models.StorageError{Op: "trending", Err: err}
	}
	defer rows.Close()
	return scanScored(rows, "trending")
}

// MostMentioned lists insights by relationship degree, counting edges on
// either end. Insights without edges are omitted. Score is the degree.
func (e *Engine) MostMentioned(ctx context.Context, limit int) ([]models.ScoredInsight, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := e.store.Reader().QueryContext(ctx,
		`SELECT `+storage.InsightColumns+`, d.degree
		 FROM insights i
		 JOIN (
		     SELECT id, COUNT(*) AS degree FROM (
		         SELECT source_id AS id FROM relationships
		         UNION ALL
		         SELECT target_id AS id FROM relationships
		     ) GROUP BY id
		 ) d ON d.id = i.id
		 ORDER BY d.degree DESC, i.created_at DESC, i.rowid DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, &models.StorageError{Op: "most mentioned", Err: err}
	}
	defer rows.Close()
	return scanScored(rows, "most mentioned")
}

// AdvancedSearch matches each set field exactly (category, tags, ranges) or
// by case-insensitive substring (title, description), newest first.
func (e *Engine) AdvancedSearch(ctx context.Context, q AdvancedQuery) ([]models.Insight, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.ConfidenceMin != nil && q.ConfidenceMax != nil && *q.ConfidenceMin > *q.ConfidenceMax {
		return nil, &models.ValidationError{Field: "confidence_range", Reason: "min exceeds max"}
	}

	var c clause
	if t := strings.TrimSpace(q.Title); t != "" {
		c.add(`i.title LIKE ? ESCAPE '\'`, likePattern(t))
	}
	if d := strings.TrimSpace(q.Description); d != "" {
		c.add(`i.description LIKE ? ESCAPE '\'`, likePattern(d))
	}
	if q.Category != "" {
		c.add(`i.category = ?`, q.Category)
	}
	if q.ConfidenceMin != nil {
		c.add(`i.confidence >= ?`, *q.ConfidenceMin)
	}
	if q.ConfidenceMax != nil {
		c.add(`i.confidence <= ?`, *q.ConfidenceMax)
	}
	if !q.DateFrom.IsZero() {
		c.add(`i.created_at >= ?`, models.FormatTime(q.DateFrom))
	}
	if !q.DateTo.IsZero() {
		c.add(`i.created_at <= ?`, models.FormatTime(q.DateTo))
	}
	addTagConds(&c, q.Tags)

	rows, err := e.store.Reader().QueryContext(ctx,
		`SELECT `+storage.InsightColumns+` FROM insights i`+c.where()+
			` ORDER BY i.created_at DESC, i.rowid DESC LIMIT ?`,
		append(c.args, q.Limit)...)
	if err != nil {
		return nil, &models.StorageError{Op: "advanced search", Err: err}
	}
	defer rows.Close()
	insights, err := storage.ScanInsights(rows)
	if err != nil {
		return nil, &models.StorageError{Op: "advanced search", Err: err}
	}
	if insights == nil {
		insights = []models.Insight{}
	}
	return insights, nil
}

type scoredRows interface {
	storage.RowScanner
	Next() bool
	Err() error
}

func scanScored(rows scoredRows, op string) ([]models.ScoredInsight, error) {
	out := []models.ScoredInsight{}
	for rows.Next() {
		var score float64
		ins, err := storage.ScanInsight(withExtra(rows, &score))
		if err != nil {
			return nil, &models.StorageError{Op: op, Err: fmt.Errorf("scan: %w", err)}
		}
		out = append(out, models.ScoredInsight{Insight: *ins, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: op, Err: err}
	}
	return out, nil
}
