package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
)

// DefaultGraphDepth bounds relationship_graph when max_depth is omitted.
const DefaultGraphDepth = 2

// DefaultStrength is the edge weight add_relationship uses when none is given.
const DefaultStrength = 0.5

// DefaultMinOccurrences is the co_occurring threshold when none is given.
const DefaultMinOccurrences = 2

// --- Input types ---

type AddRelationshipInput struct {
	SourceID         string   `json:"source_id" jsonschema:"Insight the edge starts at"`
	TargetID         string   `json:"target_id" jsonschema:"Insight the edge points to"`
	RelationshipType string   `json:"relationship_type" jsonschema:"One of similar, prerequisite, alternative, complement, supersedes, duplicate, related"`
	Strength         *float64 `json:"strength,omitempty" jsonschema:"Edge weight between 0 and 1 (default 0.5)"`
}

type RelationshipGraphInput struct {
	ID       string `json:"id" jsonschema:"Root insight id"`
	MaxDepth *int   `json:"max_depth,omitempty" jsonschema:"Traversal depth (default 2)"`
}

type MergeDuplicatesInput struct {
	PrimaryID    string   `json:"primary_id" jsonschema:"Insight that absorbs the duplicates"`
	DuplicateIDs []string `json:"duplicate_ids" jsonschema:"Insights to fold into the primary"`
}

type DiscoverRelationshipsInput struct {
	ID               string `json:"id" jsonschema:"Insight to discover relationships for"`
	MaxRelationships int    `json:"max_relationships,omitempty" jsonschema:"Maximum edges to create (default from config)"`
}

type SuggestTagsInput struct {
	ID    string `json:"id" jsonschema:"Insight to suggest tags for"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum tags (default 5)"`
}

type CoOccurringInput struct {
	VideoID        string `json:"video_id" jsonschema:"Source video whose insights anchor the search"`
	MinOccurrences int    `json:"min_occurrences,omitempty" jsonschema:"Minimum shared videos (default 2)"`
}

// --- Handlers ---

func (t *KnowledgeTools) AddRelationship(ctx context.Context, _ *mcp.CallToolRequest, input AddRelationshipInput) (*mcp.CallToolResult, any, error) {
	strength := DefaultStrength
	if input.Strength != nil {
		strength = *input.Strength
	}
	id, err := t.Engine.AddRelationship(ctx, input.SourceID, input.TargetID,
		models.RelationshipType(input.RelationshipType), strength)
	if err != nil {
		return failure(t.Log, "Failed to add relationship", err), nil, nil
	}
	return toolJSON(map[string]string{"id": id})
}

func (t *KnowledgeTools) RelationshipGraph(ctx context.Context, _ *mcp.CallToolRequest, input RelationshipGraphInput) (*mcp.CallToolResult, any, error) {
	depth := DefaultGraphDepth
	if input.MaxDepth != nil {
		depth = *input.MaxDepth
	}
	g, err := t.Engine.RelationshipGraph(ctx, input.ID, depth)
	if err != nil {
		return failure(t.Log, "Failed to build relationship graph", err), nil, nil
	}
	return toolJSON(g)
}

func (t *KnowledgeTools) MergeDuplicates(ctx context.Context, _ *mcp.CallToolRequest, input MergeDuplicatesInput) (*mcp.CallToolResult, any, error) {
	merged, err := t.Engine.MergeDuplicates(ctx, input.PrimaryID, input.DuplicateIDs)
	if err != nil && len(merged) == 0 {
		return failure(t.Log, "Merge failed", err), nil, nil
	}

	out := struct {
		Merged []string `json:"merged"`
		Errors []string `json:"errors,omitempty"`
	}{Merged: nonNil(merged)}
	if err != nil {
		out.Errors = unjoin(err)
	}
	return toolJSON(out)
}

func (t *KnowledgeTools) DiscoverRelationships(ctx context.Context, _ *mcp.CallToolRequest, input DiscoverRelationshipsInput) (*mcp.CallToolResult, any, error) {
	rels, err := t.Engine.DiscoverRelationships(ctx, input.ID, input.MaxRelationships)
	if err != nil {
		return failure(t.Log, "Relationship discovery failed", err), nil, nil
	}
	return toolJSON(nonNil(rels))
}

func (t *KnowledgeTools) SuggestTags(ctx context.Context, _ *mcp.CallToolRequest, input SuggestTagsInput) (*mcp.CallToolResult, any, error) {
	tags, err := t.Engine.SuggestTags(ctx, input.ID, input.Limit)
	if err != nil {
		return failure(t.Log, "Tag suggestion failed", err), nil, nil
	}
	return toolJSON(nonNil(tags))
}

func (t *KnowledgeTools) CoOccurring(ctx context.Context, _ *mcp.CallToolRequest, input CoOccurringInput) (*mcp.CallToolResult, any, error) {
	minOcc := input.MinOccurrences
	if minOcc <= 0 {
		minOcc = DefaultMinOccurrences
	}
	pairs, err := t.Engine.CoOccurring(ctx, input.VideoID, minOcc)
	if err != nil {
		return failure(t.Log, "Co-occurrence lookup failed", err), nil, nil
	}
	return toolJSON(nonNil(pairs))
}

func (t *KnowledgeTools) ValidateRelationships(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	report, err := t.Engine.ValidateRelationships(ctx)
	if err != nil {
		return failure(t.Log, "Integrity check failed", err), nil, nil
	}
	return toolJSON(report)
}

// unjoin flattens an errors.Join result into its messages.
func unjoin(err error) []string {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range j.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}
