package server

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/knowledge"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/logger"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/tools"
)

// Version is reported to MCP clients during initialization.
var Version = "0.1.0"

// New creates a fully configured MCP server with all tools registered.
func New(engine *knowledge.Engine, log logger.Logger) *mcp.Server {
	if log == nil {
		log = logger.Nop()
	}
	kt := &tools.KnowledgeTools{Engine: engine, Log: log.With("component", "tools")}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "insightkb",
		Version: Version,
	}, nil)

	// Ingestion tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "store_insight",
		Description: "Store one insight; a near-identical existing insight is reused unless dedupe is false",
	}, kt.StoreInsight)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "store_batch",
		Description: "Store many insights; each is deduplicated independently and failures are reported per index",
	}, kt.StoreBatch)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "store_source",
		Description: "Create or update the metadata of a source video",
	}, kt.StoreSource)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "add_journal_entry",
		Description: "Record an attempt to implement an insight",
	}, kt.AddJournalEntry)

	// Retrieval tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Ranked full-text search with filters, pagination and category/confidence facets",
	}, kt.SearchKnowledge)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "advanced_search",
		Description: "Per-field substring search with tag, category, confidence and date constraints",
	}, kt.AdvancedSearch)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_insight",
		Description: "Retrieve one insight with its relationships",
	}, kt.GetInsight)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "similar_insights",
		Description: "Find insights textually similar to an existing one",
	}, kt.SimilarInsights)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "journal_entries",
		Description: "List journal entries, newest first, optionally for one insight",
	}, kt.JournalEntries)

	// Relationship graph tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "add_relationship",
		Description: "Create or update a typed, weighted edge between two insights",
	}, kt.AddRelationship)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "relationship_graph",
		Description: "Breadth-first neighbourhood of an insight, following edges in both directions",
	}, kt.RelationshipGraph)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "merge_duplicates",
		Description: "Fold duplicate insights into a primary, moving their tags, journal entries and edges",
	}, kt.MergeDuplicates)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "discover_relationships",
		Description: "Classify and record relationships between an insight and its most similar peers",
	}, kt.DiscoverRelationships)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "suggest_tags",
		Description: "Suggest tags used by similar insights that this insight lacks",
	}, kt.SuggestTags)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "co_occurring",
		Description: "Pairs of insights mined from a video that also share other source videos",
	}, kt.CoOccurring)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "validate_relationships",
		Description: "Report relationships whose endpoints no longer exist",
	}, kt.ValidateRelationships)

	// Maintenance tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "statistics",
		Description: "Counts, success rate, trending and most-referenced insights",
	}, kt.Statistics)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "export_knowledge",
		Description: "Export insights as JSON, Markdown or CSV, optionally to a file",
	}, kt.ExportKnowledge)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "backup_database",
		Description: "Write a consistent copy of the database file",
	}, kt.BackupDatabase)

	return srv
}
