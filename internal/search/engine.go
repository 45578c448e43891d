// Package search is the read-only retrieval layer: ranked full-text search
// with facets, plus derived views over the knowledge base.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/logger"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/metrics"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/storage"
)

const (
	// DefaultLimit applies when a caller passes limit <= 0.
	DefaultLimit = 10
	// FallbackRelevance is the score given to substring-fallback matches.
	FallbackRelevance = 0.5

	// bm25 column weights for title, description, tags.
	rankExpr = `bm25(insights_fts, 3.0, 1.0, 2.0)`
)

// Store is what the engine reads through.
type Store interface {
	Reader() storage.Querier
	GetInsight(ctx context.Context, id string) (*models.Insight, error)
	Now() time.Time
}

// Results is one page of search hits plus match-set aggregates.
type Results struct {
	Results []models.ScoredInsight `json:"results"`
	// Total counts every match, not just this page.
	Total  int    `json:"total"`
	Facets Facets `json:"facets"`
	// QueryTime is in seconds.
	QueryTime float64 `json:"query_time"`
	Fallback  bool    `json:"fallback,omitempty"`
}

// Facets break the match set down by dimension. Each count applies every
// active filter except the facet's own.
type Facets struct {
	Categories map[string]int `json:"categories"`
	Confidence map[string]int `json:"confidence"`
}

// Engine runs queries against a Store.
type Engine struct {
	store   Store
	log     logger.Logger
	metrics *metrics.Metrics
}

// Option customises New.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics records search counts and latency.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New returns an Engine over store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, log: logger.Nop()}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "search")
	return e
}

// Search returns one page of insights matching query and filters.
//
// An empty query lists filtered insights newest-first. Otherwise the query
// runs against the full-text index and results carry a relevance in [0, 1]
// relative to the best match, ties broken newest-first. Any index failure
// demotes the query to a case-insensitive substring match over title and
// description, scored FallbackRelevance.
func (e *Engine) Search(ctx context.Context, query string, f Filters, limit, offset int) (*Results, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	start := time.Now()
	query = strings.TrimSpace(query)

	var (
		res  *Results
		err  error
		mode string
	)
	switch expr := matchExpr(query); {
	case query == "":
		mode = "recent"
		res, err = e.recent(ctx, f, limit, offset)
	case expr != "":
		mode = "fts"
		res, err = e.fullText(ctx, expr, f, limit, offset)
		if err != nil {
			e.log.Warn("full-text search failed, using substring fallback", "query", query, "error", err)
			mode = "fallback"
			res, err = e.substring(ctx, query, f, limit, offset)
		}
	default:
		mode = "fallback"
		res, err = e.substring(ctx, query, f, limit, offset)
	}
	if err != nil {
		return nil, &models.StorageError{Op: "search", Err: err}
	}

	elapsed := time.Since(start)
	res.QueryTime = elapsed.Seconds()
	e.metrics.Search(mode, elapsed)
	e.log.Debug("search", "query", query, "mode", mode, "total", res.Total, "elapsed", elapsed)
	return res, nil
}

func (e *Engine) recent(ctx context.Context, f Filters, limit, offset int) (*Results, error) {
	var c clause
	f.apply(&c, dimNone)

	res := &Results{Results: []models.ScoredInsight{}}
	db := e.store.Reader()
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights i`+c.where(), c.args...).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+storage.InsightColumns+` FROM insights i`+c.where()+
			` ORDER BY i.created_at DESC, i.rowid DESC LIMIT ? OFFSET ?`,
		append(c.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()
	insights, err := storage.ScanInsights(rows)
	if err != nil {
		return nil, err
	}
	for _, ins := range insights {
		res.Results = append(res.Results, models.ScoredInsight{Insight: ins})
	}

	res.Facets, err = e.facets(ctx, "", nil, f)
	return res, err
}

func (e *Engine) fullText(ctx context.Context, expr string, f Filters, limit, offset int) (*Results, error) {
	var c clause
	f.apply(&c, dimNone)
	db := e.store.Reader()

	from := ` FROM insights_fts JOIN insights i ON i.rowid = insights_fts.rowid
		WHERE insights_fts MATCH ?` + c.and()
	args := append([]any{expr}, c.args...)

	res := &Results{Results: []models.ScoredInsight{}}
	// bm25 cannot feed an aggregate directly; the CTE keeps the flattener off it.
	var best sql.NullFloat64
	if err := db.QueryRowContext(ctx,
		`WITH m AS MATERIALIZED (SELECT `+rankExpr+` AS r`+from+`) SELECT COUNT(*), MIN(r) FROM m`, args...,
	).Scan(&res.Total, &best); err != nil {
		return nil, fmt.Errorf("rank match set: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+storage.InsightColumns+`, `+rankExpr+` AS r`+from+
			` ORDER BY r, i.created_at DESC, i.rowid DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rank float64
		ins, err := storage.ScanInsight(withExtra(rows, &rank))
		if err != nil {
			return nil, err
		}
		res.Results = append(res.Results, models.ScoredInsight{Insight: *ins, Score: relevance(rank, best.Float64)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res.Facets, err = e.facets(ctx, `i.rowid IN (SELECT rowid FROM insights_fts WHERE insights_fts MATCH ?)`, []any{expr}, f)
	return res, err
}

func (e *Engine) substring(ctx context.Context, query string, f Filters, limit, offset int) (*Results, error) {
	var c clause
	pattern := likePattern(query)
	match := `(i.title LIKE ? ESCAPE '\' OR i.description LIKE ? ESCAPE '\')`
	c.add(match, pattern, pattern)
	f.apply(&c, dimNone)
	db := e.store.Reader()

	res := &Results{Results: []models.ScoredInsight{}, Fallback: true}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights i`+c.where(), c.args...).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+storage.InsightColumns+` FROM insights i`+c.where()+
			` ORDER BY i.created_at DESC, i.rowid DESC LIMIT ? OFFSET ?`,
		append(c.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()
	insights, err := storage.ScanInsights(rows)
	if err != nil {
		return nil, err
	}
	for _, ins := range insights {
		res.Results = append(res.Results, models.ScoredInsight{Insight: ins, Score: FallbackRelevance})
	}

	res.Facets, err = e.facets(ctx, match, []any{pattern, pattern}, f)
	return res, err
}

// facets counts the match set per category and confidence bucket. match is
// an optional extra condition with its args.
func (e *Engine) facets(ctx context.Context, match string, matchArgs []any, f Filters) (Facets, error) {
	out := Facets{Categories: map[string]int{}, Confidence: map[string]int{}}
	base := func(skip dimension) clause {
		var c clause
		if match != "" {
			c.add(match, matchArgs...)
		}
		f.apply(&c, skip)
		return c
	}

	cc := base(dimCategory)
	if err := e.countGroups(ctx,
		`SELECT i.category, COUNT(*) FROM insights i`+cc.where()+` GROUP BY i.category`,
		cc.args, out.Categories); err != nil {
		return out, fmt.Errorf("category facet: %w", err)
	}

	bc := base(dimConfidence)
	if err := e.countGroups(ctx,
		`SELECT CASE WHEN i.confidence >= 0.8 THEN 'high'
		             WHEN i.confidence >= 0.5 THEN 'medium'
		             ELSE 'low' END AS bucket, COUNT(*)
		 FROM insights i`+bc.where()+` GROUP BY bucket`,
		bc.args, out.Confidence); err != nil {
		return out, fmt.Errorf("confidence facet: %w", err)
	}
	return out, nil
}

func (e *Engine) countGroups(ctx context.Context, query string, args []any, into map[string]int) error {
	rows, err := e.store.Reader().QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// relevance maps a bm25 rank (lower is better, never positive) onto [0, 1]
// relative to the best rank in the match set.
func relevance(rank, best float64) float64 {
	if best >= 0 {
		return 1
	}
	r := rank / best
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// extraScanner appends trailing columns to an InsightColumns scan.
type extraScanner struct {
	storage.RowScanner
	extra []any
}

func (s extraScanner) Scan(dest ...any) error {
	return s.RowScanner.Scan(append(dest, s.extra...)...)
}

func withExtra(row storage.RowScanner, extra ...any) storage.RowScanner {
	return extraScanner{RowScanner: row, extra: extra}
}
