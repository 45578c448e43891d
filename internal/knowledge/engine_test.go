package knowledge

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/config"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/metrics"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/search"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/storage"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func openEngine(t *testing.T, cfg config.Config, opts ...Option) *Engine {
	t.Helper()
	var mu sync.Mutex
	cur := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
	opts = append(opts, WithStoreOptions(storage.WithClock(clock)))
	e, err := Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

var (
	gmailA = models.InsightCandidate{
		Title:       "Setup Gmail MCP Server",
		Description: "Configure Gmail MCP server for email access using OAuth authentication",
		Category:    "tools",
		Tags:        []string{"gmail", "mcp", "oauth"},
	}
	gmailB = models.InsightCandidate{
		Title:       "Setup Gmail MCP Server",
		Description: "Configure Gmail MCP server for email access using OAuth",
		Category:    "tools",
		Tags:        []string{"gmail", "mcp", "oauth"},
	}
	threeInsights = []models.InsightCandidate{
		{Title: "Gmail MCP Setup", Description: "Connect mailboxes through the protocol", Category: "tools", Tags: []string{"gmail"}},
		{Title: "Slack Integration", Description: "Post build notifications to channels", Category: "tools", Tags: []string{"slack", "ci"}},
		{Title: "Workflow Automation", Description: "Chain recurring chores into pipelines", Category: "techniques"},
	}
)

func TestStoreInsightDeduplicates(t *testing.T) {
	e := openEngine(t, testConfig(t))
	ctx := context.Background()

	idA, err := e.StoreInsight(ctx, gmailA)
	require.NoError(t, err)
	idB, err := e.StoreInsight(ctx, gmailB)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	st, err := e.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalInsights)
}

func TestStoreInsightIdempotent(t *testing.T) {
	e := openEngine(t, testConfig(t))
	ctx := context.Background()

	c := models.InsightCandidate{Title: "Pin dependencies", Description: "Lock versions in go.sum", Category: "go", Confidence: models.Float(0.5)}
	first, err := e.StoreInsight(ctx, c)
	require.NoError(t, err)
	c.Confidence = models.Float(0.9)
	second, err := e.StoreInsight(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err := e.CountInsights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.Insight(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Confidence, "a reused insight takes the higher confidence")
}

func TestStoreInsightConcurrentDuplicates(t *testing.T) {
	e := openEngine(t, testConfig(t))
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = e.StoreInsight(ctx, gmailA)
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	n, err := e.CountInsights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreInsightWithoutDedupe(t *testing.T) {
	e := openEngine(t, testConfig(t))
	ctx := context.Background()

	a, err := e.StoreInsight(ctx, gmailA, WithoutDedupe(), WithoutDiscovery())
	require.NoError(t, err)
	b, err := e.StoreInsight(ctx, gmailA, WithoutDedupe(), WithoutDiscovery())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	rels, err := e.Relationships(ctx, b, models.DirectionBoth)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestStoreInsightValidationBeforeWrite(t *testing.T) {
	e := openEngine(t, testConfig(t))
	_, err := e.StoreInsight(context.Background(), models.InsightCandidate{Title: "x", Category: "y"})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestStoreInsightDiscoversRelationships(t *testing.T) {
	e := openEngine(t, testConfig(t))
	ctx := context.Background()

	first, err := e.StoreInsight(ctx, models.InsightCandidate{
		Title: "Docker compose networking", Description: "Configure docker compose networks for service discovery",
		Category: "tools", Tags: []string{"docker"},
	})
	require.NoError(t, err)
	second, err := e.StoreInsight(ctx, models.InsightCandidate{
		Title: "Docker compose volumes", Description: "Configure docker compose volumes; requires named volumes",
		Category: "tools", Tags: []string{"docker"},
	})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	rels, err := e.Relationships(ctx, second, models.DirectionSource)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, first, rels[0].TargetID)
	assert.Equal(t, models.RelSimilar, rels[0].RelationshipType)
}

func TestStoreBatchIsolatesFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := openEngine(t, testConfig(t), WithMetrics(metrics.New(reg)))

	res, err := e.StoreBatch(context.Background(), []models.InsightCandidate{
		gmailA,
		{Title: "", Description: "missing title", Category: "tools"},
		gmailB,
		threeInsights[1],
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Len(t, res.Stored, 2)
	assert.Equal(t, []string{res.Stored[0]}, res.Duplicates)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Contains(t, res.Failed[0].Error, "title")
	assert.Equal(t, 2, res.Statistics.NewInsights)
	assert.Equal(t, 1, res.Statistics.DuplicatesMerged)
	assert.InDelta(t, 0.25, res.Statistics.DeduplicationRate, 1e-9)
	assert.GreaterOrEqual(t, res.Statistics.ProcessingTime, 0.0)

	n, err := testutil.GatherAndCount(reg, "insightkb_batch_failures_total", "insightkb_insights_ingested_total")
	require.NoError(t, err)
	// one failure series plus new and duplicate outcome series
	assert.Equal(t, 3, n)
}

func TestStoreBatchStopsOnCancel(t *testing.T) {
	e := openEngine(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.StoreBatch(ctx, threeInsights)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Stored)
}

func storeThree(t *testing.T, e *Engine) map[string]string {
	t.Helper()
	titles := map[string]string{}
	for _, c := range threeInsights {
		id, err := e.StoreInsight(context.Background(), c)
		require.NoError(t, err)
		titles[id] = c.Title
	}
	require.Len(t, titles, 3)
	return titles
}

func TestExportJSON(t *testing.T) {
	e := openEngine(t, testConfig(t))
	titles := storeThree(t, e)

	out, err := e.ExportKnowledge(context.Background(), FormatJSON, nil, "")
	require.NoError(t, err)

	var doc Export
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Insights, 3)
	for _, ins := range doc.Insights {
		assert.Equal(t, titles[ins.ID], ins.Title)
	}
	assert.Equal(t, 3, doc.Metadata.TotalInsights)
	assert.Equal(t, 3, doc.Metadata.Statistics.TotalInsights)
	assert.NotEmpty(t, doc.Metadata.ExportedAt)
}

func TestExportCSV(t *testing.T) {
	e := openEngine(t, testConfig(t))
	titles := storeThree(t, e)

	out, err := e.ExportKnowledge(context.Background(), FormatCSV, nil, "")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, CSVHeader, records[0])
	for _, rec := range records[1:] {
		require.Len(t, rec, 7)
		assert.Equal(t, titles[rec[0]], rec[1])
		if rec[1] == "Slack Integration" {
			assert.Equal(t, "ci,slack", rec[6])
			assert.Equal(t, "1", rec[4])
		}
	}
}

func TestExportMarkdownToFile(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg)
	storeThree(t, e)

	path := filepath.Join(cfg.DataDir, "exports", "kb.md")
	out, err := e.ExportKnowledge(context.Background(), FormatMarkdown, nil, path)
	require.NoError(t, err)
	assert.Contains(t, out, "## Statistics")
	assert.Contains(t, out, "- Total insights: 3")
	for _, c := range threeInsights {
		assert.Contains(t, out, "### "+c.Title)
		assert.Contains(t, out, c.Description)
	}
	assert.Contains(t, out, "- **Tags:** ci, slack")

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out, string(written))
}

func TestExportWithFilters(t *testing.T) {
	e := openEngine(t, testConfig(t))
	storeThree(t, e)

	out, err := e.ExportKnowledge(context.Background(), FormatJSON, &search.Filters{Categories: []string{"techniques"}}, "")
	require.NoError(t, err)
	var doc Export
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Insights, 1)
	assert.Equal(t, "Workflow Automation", doc.Insights[0].Title)
	assert.Equal(t, 3, doc.Metadata.Statistics.TotalInsights)
}

func TestImportRoundTrip(t *testing.T) {
	src := openEngine(t, testConfig(t))
	storeThree(t, src)
	out, err := src.ExportKnowledge(context.Background(), FormatJSON, nil, "")
	require.NoError(t, err)

	dst := openEngine(t, testConfig(t))
	res, err := dst.ImportKnowledge(context.Background(), strings.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, res.Stored, 3)
	assert.Empty(t, res.Failed)

	again, err := dst.ImportKnowledge(context.Background(), strings.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, again.Duplicates, 3, "re-importing deduplicates")

	_, err = dst.ImportKnowledge(context.Background(), bytes.NewBufferString(`{"foo": 1}`))
	assert.True(t, models.IsValidation(err))
	_, err = dst.ImportKnowledge(context.Background(), bytes.NewBufferString(`not json`))
	assert.True(t, models.IsValidation(err))
}

func TestGetStatistics(t *testing.T) {
	e := openEngine(t, testConfig(t))
	ctx := context.Background()

	a, err := e.StoreInsight(ctx, threeInsights[0], WithoutDiscovery())
	require.NoError(t, err)
	b, err := e.StoreInsight(ctx, threeInsights[1], WithoutDiscovery())
	require.NoError(t, err)
	_, err = e.AddRelationship(ctx, a, b, models.RelComplement, 0.6)
	require.NoError(t, err)
	_, err = e.UpdateJournal(ctx, models.JournalEntry{InsightID: a, Status: "done", Success: true})
	require.NoError(t, err)

	st, err := e.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalInsights)
	assert.Equal(t, 1, st.TotalRelationships)
	assert.Equal(t, 1.0, st.JournalSuccessRate)
	require.Len(t, st.TrendingInsights, 2)
	assert.Equal(t, a, st.TrendingInsights[0].ID)
	assert.Equal(t, "Gmail MCP Setup", st.TrendingInsights[0].Title)
	assert.Len(t, st.MostMentioned, 2)

	raw, err := json.Marshal(st)
	require.NoError(t, err)
	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Contains(t, flat, "total_insights")
	assert.Contains(t, flat, "trending_insights")
	assert.Contains(t, flat, "most_mentioned")
}

func TestBackupAndClose(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg)
	storeThree(t, e)

	path, err := e.BackupDatabase(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, cfg.BackupDir(), filepath.Dir(path))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"json": FormatJSON, "MD": FormatMarkdown, "markdown": FormatMarkdown, "csv": FormatCSV} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.True(t, models.IsValidation(err))
}
