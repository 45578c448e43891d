package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/knowledge"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/logger"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/search"
)

// KnowledgeTools holds references needed by ingestion and retrieval tool handlers.
type KnowledgeTools struct {
	Engine *knowledge.Engine
	Log    logger.Logger
}

// --- Input types ---

type InsightInput struct {
	Title         string         `json:"title" jsonschema:"Short insight title"`
	Description   string         `json:"description" jsonschema:"Full insight description"`
	Category      string         `json:"category" jsonschema:"Category (e.g., tools, techniques, patterns, anti_patterns)"`
	SourceVideoID string         `json:"source_video_id,omitempty" jsonschema:"Video the insight was mined from"`
	Confidence    *float64       `json:"confidence,omitempty" jsonschema:"Confidence between 0 and 1 (default 1)"`
	Tags          []string       `json:"tags,omitempty" jsonschema:"Free-form tags"`
	Metadata      map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary JSON metadata"`
}

func (in InsightInput) candidate() models.InsightCandidate {
	return models.InsightCandidate{
		Title:         in.Title,
		Description:   in.Description,
		Category:      in.Category,
		SourceVideoID: in.SourceVideoID,
		Confidence:    in.Confidence,
		Tags:          in.Tags,
		Metadata:      in.Metadata,
	}
}

type StoreInsightInput struct {
	Insight InsightInput `json:"insight" jsonschema:"Insight to store"`
	Dedupe  *bool        `json:"dedupe,omitempty" jsonschema:"Reuse an existing near-identical insight (default true)"`
}

type StoreBatchInput struct {
	Insights []InsightInput `json:"insights" jsonschema:"Insights to store; failures are reported per index"`
	Dedupe   *bool          `json:"dedupe,omitempty" jsonschema:"Reuse existing near-identical insights (default true)"`
}

type StoreSourceInput struct {
	VideoID    string         `json:"video_id" jsonschema:"Platform video identifier"`
	Title      string         `json:"title" jsonschema:"Video title"`
	Channel    string         `json:"channel,omitempty" jsonschema:"Channel name"`
	UploadDate string         `json:"upload_date,omitempty" jsonschema:"Upload date as reported by the platform"`
	Views      int64          `json:"views,omitempty" jsonschema:"View count"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary JSON metadata"`
}

type FilterInput struct {
	Categories    []string `json:"categories,omitempty" jsonschema:"Restrict to these categories"`
	ConfidenceMin float64  `json:"confidence_min,omitempty" jsonschema:"Minimum confidence"`
	DateFrom      string   `json:"date_from,omitempty" jsonschema:"Created on or after (YYYY-MM-DD or RFC 3339)"`
	DateTo        string   `json:"date_to,omitempty" jsonschema:"Created on or before (YYYY-MM-DD or RFC 3339)"`
	SourceVideoID string   `json:"source_video_id,omitempty" jsonschema:"Restrict to one source video"`
	Tags          []string `json:"tags,omitempty" jsonschema:"Tags that must all be present"`
}

func (in FilterInput) filters() (search.Filters, error) {
	f := search.Filters{
		Categories:    in.Categories,
		ConfidenceMin: in.ConfidenceMin,
		SourceVideoID: in.SourceVideoID,
		Tags:          in.Tags,
	}
	var err error
	if f.DateFrom, err = parseTime("date_from", in.DateFrom); err != nil {
		return f, err
	}
	if f.DateTo, err = parseUpperBound("date_to", in.DateTo); err != nil {
		return f, err
	}
	return f, nil
}

type SearchKnowledgeInput struct {
	Query  string      `json:"query,omitempty" jsonschema:"Full-text query; empty lists the newest insights"`
	Filter FilterInput `json:"filters,omitempty" jsonschema:"Optional result filters"`
	Limit  int         `json:"limit,omitempty" jsonschema:"Page size (default 10)"`
	Offset int         `json:"offset,omitempty" jsonschema:"Page offset"`
}

type AdvancedSearchInput struct {
	Title         string   `json:"title_query,omitempty" jsonschema:"Substring that must appear in the title"`
	Description   string   `json:"description_query,omitempty" jsonschema:"Substring that must appear in the description"`
	Tags          []string `json:"tags,omitempty" jsonschema:"Tags that must all be present"`
	Category      string   `json:"category,omitempty" jsonschema:"Exact category"`
	ConfidenceMin *float64 `json:"confidence_min,omitempty" jsonschema:"Lower confidence bound"`
	ConfidenceMax *float64 `json:"confidence_max,omitempty" jsonschema:"Upper confidence bound"`
	DateFrom      string   `json:"date_from,omitempty" jsonschema:"Created on or after (YYYY-MM-DD or RFC 3339)"`
	DateTo        string   `json:"date_to,omitempty" jsonschema:"Created on or before (YYYY-MM-DD or RFC 3339)"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Maximum results"`
}

type InsightIDInput struct {
	ID string `json:"id" jsonschema:"Insight id"`
}

type SimilarInsightsInput struct {
	ID    string `json:"id" jsonschema:"Reference insight id"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results (default 5)"`
}

type AddJournalEntryInput struct {
	InsightID string `json:"insight_id,omitempty" jsonschema:"Insight the attempt implemented"`
	Status    string `json:"status" jsonschema:"Outcome label (e.g., completed, in_progress, abandoned)"`
	Date      string `json:"date,omitempty" jsonschema:"When it happened (default now)"`
	TimeSpent int    `json:"time_spent,omitempty" jsonschema:"Minutes spent"`
	Notes     string `json:"notes,omitempty" jsonschema:"Free-form notes"`
	Success   bool   `json:"success,omitempty" jsonschema:"Whether the attempt succeeded"`
}

type JournalEntriesInput struct {
	InsightID string `json:"insight_id,omitempty" jsonschema:"Only entries for this insight"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum entries (default all)"`
}

// --- Handlers ---

func (t *KnowledgeTools) StoreInsight(ctx context.Context, _ *mcp.CallToolRequest, input StoreInsightInput) (*mcp.CallToolResult, any, error) {
	id, err := t.Engine.StoreInsight(ctx, input.Insight.candidate(), storeOptions(input.Dedupe)...)
	if err != nil {
		return failure(t.Log, "Failed to store insight", err), nil, nil
	}
	return toolJSON(map[string]string{"id": id})
}

func (t *KnowledgeTools) StoreBatch(ctx context.Context, _ *mcp.CallToolRequest, input StoreBatchInput) (*mcp.CallToolResult, any, error) {
	cands := make([]models.InsightCandidate, len(input.Insights))
	for i, in := range input.Insights {
		cands[i] = in.candidate()
	}
	res, err := t.Engine.StoreBatch(ctx, cands, storeOptions(input.Dedupe)...)
	if err != nil {
		return failure(t.Log, "Batch interrupted", err), nil, nil
	}
	return toolJSON(res)
}

func (t *KnowledgeTools) StoreSource(ctx context.Context, _ *mcp.CallToolRequest, input StoreSourceInput) (*mcp.CallToolResult, any, error) {
	id, err := t.Engine.StoreSource(ctx, models.Source{
		VideoID:    input.VideoID,
		Title:      input.Title,
		Channel:    input.Channel,
		UploadDate: input.UploadDate,
		Views:      input.Views,
		Metadata:   input.Metadata,
	})
	if err != nil {
		return failure(t.Log, "Failed to store source", err), nil, nil
	}
	return toolJSON(map[string]string{"id": id})
}

func (t *KnowledgeTools) SearchKnowledge(ctx context.Context, _ *mcp.CallToolRequest, input SearchKnowledgeInput) (*mcp.CallToolResult, any, error) {
	f, err := input.Filter.filters()
	if err != nil {
		return failure(t.Log, "Invalid filters", err), nil, nil
	}
	res, err := t.Engine.SearchKnowledge(ctx, input.Query, f, input.Limit, input.Offset)
	if err != nil {
		return failure(t.Log, "Search failed", err), nil, nil
	}
	return toolJSON(res)
}

func (t *KnowledgeTools) AdvancedSearch(ctx context.Context, _ *mcp.CallToolRequest, input AdvancedSearchInput) (*mcp.CallToolResult, any, error) {
	q := search.AdvancedQuery{
		Title:         input.Title,
		Description:   input.Description,
		Tags:          input.Tags,
		Category:      input.Category,
		ConfidenceMin: input.ConfidenceMin,
		ConfidenceMax: input.ConfidenceMax,
		Limit:         input.Limit,
	}
	var err error
	if q.DateFrom, err = parseTime("date_from", input.DateFrom); err != nil {
		return failure(t.Log, "Invalid date range", err), nil, nil
	}
	if q.DateTo, err = parseUpperBound("date_to", input.DateTo); err != nil {
		return failure(t.Log, "Invalid date range", err), nil, nil
	}

	insights, err := t.Engine.AdvancedSearch(ctx, q)
	if err != nil {
		return failure(t.Log, "Advanced search failed", err), nil, nil
	}
	return toolJSON(insights)
}

func (t *KnowledgeTools) GetInsight(ctx context.Context, _ *mcp.CallToolRequest, input InsightIDInput) (*mcp.CallToolResult, any, error) {
	ins, err := t.Engine.Insight(ctx, input.ID)
	if err != nil {
		return failure(t.Log, "Failed to load insight", err), nil, nil
	}
	if ins == nil {
		return toolError("Insight %q not found", input.ID), nil, nil
	}
	rels, err := t.Engine.Relationships(ctx, input.ID, models.DirectionBoth)
	if err != nil {
		return failure(t.Log, "Failed to load relationships", err), nil, nil
	}
	return toolJSON(struct {
		*models.Insight
		Relationships []models.Relationship `json:"relationships"`
	}{ins, nonNil(rels)})
}

func (t *KnowledgeTools) SimilarInsights(ctx context.Context, _ *mcp.CallToolRequest, input SimilarInsightsInput) (*mcp.CallToolResult, any, error) {
	similar, err := t.Engine.SimilarInsights(ctx, input.ID, input.Limit)
	if err != nil {
		return failure(t.Log, "Similarity search failed", err), nil, nil
	}
	return toolJSON(nonNil(similar))
}

func (t *KnowledgeTools) AddJournalEntry(ctx context.Context, _ *mcp.CallToolRequest, input AddJournalEntryInput) (*mcp.CallToolResult, any, error) {
	id, err := t.Engine.UpdateJournal(ctx, models.JournalEntry{
		InsightID: input.InsightID,
		Date:      input.Date,
		Status:    input.Status,
		TimeSpent: input.TimeSpent,
		Notes:     input.Notes,
		Success:   input.Success,
	})
	if err != nil {
		return failure(t.Log, "Failed to add journal entry", err), nil, nil
	}
	return toolJSON(map[string]string{"id": id})
}

func (t *KnowledgeTools) JournalEntries(ctx context.Context, _ *mcp.CallToolRequest, input JournalEntriesInput) (*mcp.CallToolResult, any, error) {
	entries, err := t.Engine.JournalEntries(ctx, input.InsightID, input.Limit)
	if err != nil {
		return failure(t.Log, "Failed to list journal entries", err), nil, nil
	}
	return toolJSON(nonNil(entries))
}

func storeOptions(dedupe *bool) []knowledge.StoreOption {
	if dedupe != nil && !*dedupe {
		return []knowledge.StoreOption{knowledge.WithoutDedupe()}
	}
	return nil
}

const dateLayout = "2006-01-02"

var timeLayouts = []string{models.TimeLayout, time.RFC3339Nano, "2006-01-02T15:04:05", dateLayout}

// parseTime accepts the storage layout, RFC 3339 or a bare date. Empty input
// yields the zero time, which disables the filter.
func parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &models.ValidationError{Field: field, Reason: fmt.Sprintf("unrecognized date %q", s)}
}

// parseUpperBound is parseTime for inclusive upper bounds: a bare date
// covers the whole day, up to the last storable microsecond.
func parseUpperBound(field, s string) (time.Time, error) {
	t, err := parseTime(field, s)
	if err != nil || t.IsZero() {
		return t, err
	}
	if _, err := time.Parse(dateLayout, s); err == nil {
		t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return t, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
