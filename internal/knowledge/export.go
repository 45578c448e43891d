package knowledge

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/search"
)

// Format is an export file format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
)

// CSVHeader is the fixed column set of CSV exports.
var CSVHeader = []string{"id", "title", "description", "category", "confidence", "created_at", "tags"}

// ParseFormat accepts json, markdown (or md) and csv, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", &models.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", s)}
	}
}

// ExportMetadata heads a JSON export.
type ExportMetadata struct {
	ExportedAt    string            `json:"exported_at"`
	TotalInsights int               `json:"total_insights"`
	Statistics    models.Statistics `json:"statistics"`
}

// Export is the JSON export document.
type Export struct {
	Metadata ExportMetadata   `json:"metadata"`
	Insights []models.Insight `json:"insights"`
}

// ExportKnowledge renders insights matching filters (all insights when
// filters is nil or empty) with store statistics. When outputPath is set the
// rendering is also written there.
func (e *Engine) ExportKnowledge(ctx context.Context, format Format, filters *search.Filters, outputPath string) (out string, err error) {
	ctx, span := tracer.Start(ctx, "knowledge.ExportKnowledge",
		trace.WithAttributes(attribute.String("export.format", string(format))))
	defer func() { endSpan(span, err) }()

	insights, err := e.all(ctx, filters)
	if err != nil {
		return "", err
	}
	if insights == nil {
		insights = []models.Insight{}
	}
	stats, err := e.store.GetStatistics(ctx)
	if err != nil {
		return "", err
	}
	meta := ExportMetadata{
		ExportedAt:    models.FormatTime(e.store.Now()),
		TotalInsights: len(insights),
		Statistics:    *stats,
	}

	switch format {
	case FormatJSON:
		out, err = renderJSON(meta, insights)
	case FormatMarkdown:
		out = renderMarkdown(meta, insights)
	case FormatCSV:
		out, err = renderCSV(insights)
	default:
		return "", &models.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", format)}
	}
	if err != nil {
		return "", err
	}

	if outputPath != "" {
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return "", fmt.Errorf("create export dir: %w", err)
		}
		if err := os.WriteFile(outputPath, []byte(out), 0o644); err != nil {
			return "", fmt.Errorf("write export: %w", err)
		}
		e.log.Info("knowledge exported", "path", outputPath, "format", format, "insights", len(insights))
	}
	span.SetAttributes(attribute.Int("export.insights", len(insights)))
	return out, nil
}

// ImportKnowledge re-ingests the insights of a JSON export through StoreBatch.
func (e *Engine) ImportKnowledge(ctx context.Context, r io.Reader, opts ...StoreOption) (res *BatchResult, err error) {
	ctx, span := tracer.Start(ctx, "knowledge.ImportKnowledge")
	defer func() { endSpan(span, err) }()

	var doc struct {
		Insights *[]models.Insight `json:"insights"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &models.ValidationError{Field: "document", Reason: fmt.Sprintf("not a JSON export: %v", err)}
	}
	if doc.Insights == nil {
		return nil, &models.ValidationError{Field: "insights", Reason: "is required"}
	}

	cands := make([]models.InsightCandidate, 0, len(*doc.Insights))
	for _, ins := range *doc.Insights {
		cands = append(cands, models.InsightCandidate{
			Title:         ins.Title,
			Description:   ins.Description,
			Category:      ins.Category,
			SourceVideoID: ins.SourceVideoID,
			Confidence:    models.Float(ins.Confidence),
			Tags:          ins.Tags,
			Metadata:      ins.Metadata,
		})
	}
	return e.StoreBatch(ctx, cands, opts...)
}

func renderJSON(meta ExportMetadata, insights []models.Insight) (string, error) {
	b, err := json.MarshalIndent(Export{Metadata: meta, Insights: insights}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	return string(b) + "\n", nil
}

func renderMarkdown(meta ExportMetadata, insights []models.Insight) string {
	var b strings.Builder
	st := meta.Statistics

	b.WriteString("# Knowledge Base Export\n\n")
	fmt.Fprintf(&b, "Exported at %s\n\n", meta.ExportedAt)

	b.WriteString("## Statistics\n\n")
	fmt.Fprintf(&b, "- Total insights: %d\n", st.TotalInsights)
	fmt.Fprintf(&b, "- Total sources: %d\n", st.TotalSources)
	fmt.Fprintf(&b, "- Total journal entries: %d\n", st.TotalJournalEntries)
	fmt.Fprintf(&b, "- Total relationships: %d\n", st.TotalRelationships)
	fmt.Fprintf(&b, "- Journal success rate: %.1f%%\n", st.JournalSuccessRate*100)
	fmt.Fprintf(&b, "- Average confidence: %.2f\n", st.AverageConfidence)
	if len(st.CategoryCounts) > 0 {
		b.WriteString("\n### Categories\n\n")
		cats := make([]string, 0, len(st.CategoryCounts))
		for c := range st.CategoryCounts {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Fprintf(&b, "- %s: %d\n", c, st.CategoryCounts[c])
		}
	}

	fmt.Fprintf(&b, "\n## Insights (%d)\n", len(insights))
	for _, ins := range insights {
		fmt.Fprintf(&b, "\n### %s\n\n", ins.Title)
		fmt.Fprintf(&b, "- **Category:** %s\n", ins.Category)
		fmt.Fprintf(&b, "- **Confidence:** %.2f\n", ins.Confidence)
		fmt.Fprintf(&b, "- **Created:** %s\n", ins.CreatedAt)
		if len(ins.Tags) > 0 {
			fmt.Fprintf(&b, "- **Tags:** %s\n", strings.Join(ins.Tags, ", "))
		}
		fmt.Fprintf(&b, "\n%s\n", ins.Description)
	}
	return b.String()
}

func renderCSV(insights []models.Insight) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return "", err
	}
	for _, ins := range insights {
		rec := []string{
			ins.ID,
			ins.Title,
			ins.Description,
			ins.Category,
			strconv.FormatFloat(ins.Confidence, 'f', -1, 64),
			ins.CreatedAt,
			strings.Join(ins.Tags, ","),
		}
		if err := w.Write(rec); err != nil {
			return "", fmt.Errorf("encode csv row %s: %w", ins.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("encode csv: %w", err)
	}
	return buf.String(), nil
}
