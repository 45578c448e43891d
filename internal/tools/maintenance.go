package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/knowledge"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/logger"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/search"
)

// --- Input types ---

type ExportKnowledgeInput struct {
	Format     string       `json:"format,omitempty" jsonschema:"json, markdown or csv (default json)"`
	OutputPath string       `json:"output_path,omitempty" jsonschema:"Also write the export to this file"`
	Filter     *FilterInput `json:"filters,omitempty" jsonschema:"Only export insights matching these filters"`
}

type BackupDatabaseInput struct {
	Path string `json:"path,omitempty" jsonschema:"Backup file path (default: timestamped file in the backup directory)"`
}

// --- Handlers ---

func (t *KnowledgeTools) Statistics(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	stats, err := t.Engine.GetStatistics(ctx)
	if err != nil {
		return failure(t.Log, "Failed to gather statistics", err), nil, nil
	}
	return toolJSON(stats)
}

func (t *KnowledgeTools) ExportKnowledge(ctx context.Context, _ *mcp.CallToolRequest, input ExportKnowledgeInput) (*mcp.CallToolResult, any, error) {
	format, err := knowledge.ParseFormat(input.Format)
	if err != nil {
		return failure(t.Log, "Invalid format", err), nil, nil
	}
	var filters *search.Filters
	if input.Filter != nil {
		f, err := input.Filter.filters()
		if err != nil {
			return failure(t.Log, "Invalid filters", err), nil, nil
		}
		filters = &f
	}

	out, err := t.Engine.ExportKnowledge(ctx, format, filters, input.OutputPath)
	if err != nil {
		return failure(t.Log, "Export failed", err), nil, nil
	}
	if input.OutputPath != "" {
		return toolText(fmt.Sprintf("Exported knowledge base as %s to %s.", format, input.OutputPath)), nil, nil
	}
	return toolText(out), nil, nil
}

func (t *KnowledgeTools) BackupDatabase(ctx context.Context, _ *mcp.CallToolRequest, input BackupDatabaseInput) (*mcp.CallToolResult, any, error) {
	path, err := t.Engine.BackupDatabase(ctx, input.Path)
	if err != nil {
		return failure(t.Log, "Backup failed", err), nil, nil
	}
	return toolJSON(map[string]string{"path": path})
}

// --- Helpers ---

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// failure reports err to the caller as a tool error. Caller mistakes are
// returned as-is; storage faults are also logged.
func failure(log logger.Logger, action string, err error) *mcp.CallToolResult {
	if models.IsValidation(err) {
		return toolError("Invalid input: %v", err)
	}
	if !errors.Is(err, models.ErrNotFound) && log != nil {
		log.Error(action, "error", err)
	}
	return toolError("%s: %v", action, err)
}
