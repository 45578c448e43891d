package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/metrics"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Millisecond)
	return c.cur
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

func newTestStore(t *testing.T) (*storage.Store, *testClock) {
	t.Helper()
	clock := &testClock{cur: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s, err := storage.Open(filepath.Join(t.TempDir(), "kb.db"), storage.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func store(t *testing.T, s *storage.Store, title, desc, category string, conf float64, tags ...string) string {
	t.Helper()
	id, err := s.StoreInsight(context.Background(), models.InsightCandidate{
		Title:       title,
		Description: desc,
		Category:    category,
		Confidence:  models.Float(conf),
		Tags:        tags,
	})
	require.NoError(t, err)
	return id
}

func ids(results []models.ScoredInsight) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestSearchEmptyQueryFacets(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	store(t, s, "Gmail MCP", "mail access", "tools", 0.9)
	store(t, s, "Slack bot", "chat ops", "tools", 0.6)
	newest := store(t, s, "Chain of thought", "prompting", "techniques", 0.3)

	res, err := e.Search(context.Background(), "", Filters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, map[string]int{"tools": 2, "techniques": 1}, res.Facets.Categories)
	assert.Equal(t, map[string]int{"high": 1, "medium": 1, "low": 1}, res.Facets.Confidence)
	require.Len(t, res.Results, 3)
	assert.Equal(t, newest, res.Results[0].ID, "empty query orders by recency")
	assert.False(t, res.Fallback)
	assert.GreaterOrEqual(t, res.QueryTime, 0.0)
}

func TestSearchFacetsExcludeOwnDimension(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	store(t, s, "Docker compose", "docker services", "tools", 0.9)
	store(t, s, "Docker layers", "docker caching", "techniques", 0.4)
	store(t, s, "Docker secrets", "docker vault", "tools", 0.6)

	res, err := e.Search(context.Background(), "docker", Filters{Categories: []string{"tools"}, ConfidenceMin: 0.8}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	// category facet ignores the category filter but keeps confidence_min
	assert.Equal(t, map[string]int{"tools": 1}, res.Facets.Categories)
	// confidence facet ignores confidence_min but keeps the category filter
	assert.Equal(t, map[string]int{"high": 1, "medium": 1}, res.Facets.Confidence)
}

func TestSearchFacetSumMatchesTotal(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	for i := 0; i < 7; i++ {
		store(t, s, fmt.Sprintf("Prompt pattern %d", i), "prompt engineering", []string{"a", "b", "c"}[i%3], 0.5)
	}
	store(t, s, "Unrelated", "nothing here", "a", 0.5)

	res, err := e.Search(context.Background(), "prompt", Filters{ConfidenceMin: 0.1}, 3, 0)
	require.NoError(t, err)
	sum := 0
	for _, n := range res.Facets.Categories {
		sum += n
	}
	assert.Equal(t, res.Total, sum)
	assert.Equal(t, 7, res.Total)
	assert.Len(t, res.Results, 3)
}

func TestSearchRanksSingleMatch(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	gmail := store(t, s, "Gmail MCP Setup", "Connect the mail server", "tools", 1)
	store(t, s, "Slack Integration", "Post updates to channels", "tools", 1)
	store(t, s, "Workflow Automation", "Chain tasks together", "techniques", 1)

	res, err := e.Search(context.Background(), "gmail", Filters{}, 10, 0)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, 1, res.Total)
	require.Len(t, res.Results, 1)
	assert.Equal(t, gmail, res.Results[0].ID)
	assert.Equal(t, 1.0, res.Results[0].Score)
}

func TestSearchRelevanceOrdering(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	weak := store(t, s, "Logging", "structured logging with zap and some kubernetes notes", "ops", 1)
	strong := store(t, s, "Kubernetes operators", "kubernetes controllers reconcile kubernetes state", "ops", 1, "kubernetes")
	for i := 0; i < 3; i++ {
		store(t, s, fmt.Sprintf("Filler %d", i), "unrelated text", "ops", 1)
	}

	res, err := e.Search(context.Background(), "kubernetes", Filters{}, 10, 0)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	require.Equal(t, []string{strong, weak}, ids(res.Results))
	assert.Equal(t, 1.0, res.Results[0].Score)
	assert.Greater(t, res.Results[1].Score, 0.0)
	assert.Less(t, res.Results[1].Score, 1.0)
}

func TestSearchPagination(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	var all []string
	for i := 0; i < 10; i++ {
		all = append(all, store(t, s, fmt.Sprintf("Terraform module %d", i), "terraform state handling", "infra", 1))
	}

	ctx := context.Background()
	p1, err := e.Search(ctx, "terraform", Filters{}, 5, 0)
	require.NoError(t, err)
	p2, err := e.Search(ctx, "terraform", Filters{}, 5, 5)
	require.NoError(t, err)
	assert.False(t, p1.Fallback)
	assert.False(t, p2.Fallback)
	assert.Equal(t, 10, p1.Total)
	assert.Equal(t, 10, p2.Total)
	require.Len(t, p1.Results, 5)
	require.Len(t, p2.Results, 5)

	seen := map[string]bool{}
	for _, id := range append(ids(p1.Results), ids(p2.Results)...) {
		assert.False(t, seen[id], "id %s returned on both pages", id)
		seen[id] = true
	}
	assert.ElementsMatch(t, all, mapKeys(seen))
}

func TestFullTextRanksWithoutFallback(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	store(t, s, "Gmail MCP Setup", "Connect the mail server", "tools", 1)
	store(t, s, "Gmail labels", "Filter gmail by label", "tools", 1)
	store(t, s, "Slack Integration", "Post updates to channels", "tools", 1)

	res, err := e.fullText(context.Background(), matchExpr("gmail"), Filters{}, 10, 0)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Results, 2)
	assert.Equal(t, 1.0, res.Results[0].Score)
	assert.Equal(t, 2, res.Facets.Categories["tools"])
}

func TestSearchFilters(t *testing.T) {
	s, clock := newTestStore(t)
	e := New(s)
	ctx := context.Background()

	old := store(t, s, "Old cache tip", "cache warmup", "perf", 0.9, "cache", "redis")
	clock.Advance(48 * time.Hour)
	cutoff := clock.Now()
	withVideo, err := s.StoreInsight(ctx, models.InsightCandidate{
		Title: "Cache keys", Description: "cache naming", Category: "perf",
		SourceVideoID: "vid-9", Tags: []string{"cache"},
	})
	require.NoError(t, err)

	res, err := e.Search(ctx, "cache", Filters{Tags: []string{"cache", "redis"}}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, ids(res.Results), "tags use AND semantics")

	res, err = e.Search(ctx, "cache", Filters{DateFrom: cutoff}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{withVideo}, ids(res.Results))

	res, err = e.Search(ctx, "cache", Filters{DateTo: cutoff}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, ids(res.Results))

	res, err = e.Search(ctx, "", Filters{SourceVideoID: "vid-9"}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{withVideo}, ids(res.Results))
}

// brokenIndex makes every full-text query fail as if the index were missing.
type brokenIndex struct{ *storage.Store }

func (b brokenIndex) Reader() storage.Querier { return brokenQuerier{b.Store.Reader()} }

type brokenQuerier struct{ storage.Querier }

func (q brokenQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if strings.Contains(query, "MATCH") {
		return nil, errors.New("no such table: insights_fts")
	}
	return q.Querier.QueryContext(ctx, query, args...)
}

func (q brokenQuerier) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if strings.Contains(query, "MATCH") {
		return q.Querier.QueryRowContext(ctx, `SELECT * FROM missing_index_table`)
	}
	return q.Querier.QueryRowContext(ctx, query, args...)
}

func TestSearchFallsBackToSubstring(t *testing.T) {
	s, _ := newTestStore(t)
	reg := prometheus.NewRegistry()
	e := New(brokenIndex{s}, WithMetrics(metrics.New(reg)))
	hit := store(t, s, "GraphQL Federation", "compose subgraphs", "api", 0.9)
	store(t, s, "REST pagination", "cursor based", "api", 0.9)

	res, err := e.Search(context.Background(), "graphql", Filters{}, 10, 0)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, 1, res.Total)
	require.Len(t, res.Results, 1)
	assert.Equal(t, hit, res.Results[0].ID)
	assert.Equal(t, FallbackRelevance, res.Results[0].Score)
	assert.Equal(t, map[string]int{"api": 1}, res.Facets.Categories)
}

func TestSearchPunctuationOnlyQuery(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	store(t, s, "C++ templates", "template metaprogramming", "lang", 1)

	res, err := e.Search(context.Background(), "++", Filters{}, 10, 0)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, 1, res.Total)

	res, err = e.Search(context.Background(), `"unbalanced AND (`, Filters{}, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestSearchSimilarExcludesReference(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	ref := store(t, s, "Postgres indexing", "btree index on postgres columns", "db", 1)
	other := store(t, s, "Postgres vacuum", "autovacuum tuning for postgres", "db", 1)
	store(t, s, "Frontend bundling", "vite configuration", "web", 1)

	sim, err := e.SearchSimilar(context.Background(), ref, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{other}, ids(sim))

	none, err := e.SearchSimilar(context.Background(), "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTrending(t *testing.T) {
	s, clock := newTestStore(t)
	e := New(s)
	ctx := context.Background()

	active := store(t, s, "Old but active", "d", "c", 1)
	store(t, s, "Old and idle", "d", "c", 1)
	clock.Advance(30 * 24 * time.Hour)
	fresh := store(t, s, "Fresh", "d", "c", 1)
	for i := 0; i < 2; i++ {
		_, err := s.AddJournalEntry(ctx, models.JournalEntry{InsightID: active, Status: "tried"})
		require.NoError(t, err)
	}

	trending, err := e.Trending(ctx, 7, 10)
	require.NoError(t, err)
	require.Equal(t, []string{active, fresh}, ids(trending))
	assert.Equal(t, 2.0, trending[0].Score)
	assert.Equal(t, 0.0, trending[1].Score)
}

func TestMostMentioned(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	ctx := context.Background()

	hub := store(t, s, "Hub", "d", "c", 1)
	a := store(t, s, "A", "d", "c", 1)
	b := store(t, s, "B", "d", "c", 1)
	store(t, s, "Isolated", "d", "c", 1)
	_, err := s.AddRelationship(ctx, hub, a, models.RelSimilar, 0.5)
	require.NoError(t, err)
	_, err = s.AddRelationship(ctx, b, hub, models.RelPrerequisite, 0.5)
	require.NoError(t, err)

	top, err := e.MostMentioned(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, hub, top[0].ID)
	assert.Equal(t, 2.0, top[0].Score)
	assert.ElementsMatch(t, []string{a, b}, ids(top[1:]))
}

func TestAdvancedSearch(t *testing.T) {
	s, _ := newTestStore(t)
	e := New(s)
	ctx := context.Background()

	hit := store(t, s, "Vim macros", "record and replay edits", "editors", 0.7, "vim", "productivity")
	store(t, s, "Vim plugins", "plugin managers", "editors", 0.3, "vim")
	store(t, s, "Emacs macros", "keyboard macros", "editors", 0.7, "emacs")

	got, err := e.AdvancedSearch(ctx, AdvancedQuery{
		Title:         "vim",
		Tags:          []string{"vim"},
		Category:      "editors",
		ConfidenceMin: models.Float(0.5),
		ConfidenceMax: models.Float(0.9),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, hit, got[0].ID)

	got, err = e.AdvancedSearch(ctx, AdvancedQuery{Description: "MACROS"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = e.AdvancedSearch(ctx, AdvancedQuery{Title: "50%"})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = e.AdvancedSearch(ctx, AdvancedQuery{ConfidenceMin: models.Float(0.9), ConfidenceMax: models.Float(0.1)})
	assert.True(t, models.IsValidation(err))
}

func TestMatchExpr(t *testing.T) {
	assert.Equal(t, `"gmail" OR "oauth"`, matchExpr("Gmail and OAuth"))
	assert.Equal(t, `"the"`, matchExpr("the"))
	assert.Equal(t, "", matchExpr("!!"))
	assert.Equal(t, `"unbalanced"`, matchExpr(`"unbalanced AND (`))
}

func mapKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
