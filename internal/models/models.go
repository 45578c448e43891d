package models

import (
	"sort"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for every persisted timestamp.
// Lexicographic order of formatted values equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Insight is a mined fact with confidence and provenance.
type Insight struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	SourceVideoID string         `json:"source_video_id,omitempty"`
	Confidence    float64        `json:"confidence"`
	Tags          []string       `json:"tags"`
	Metadata      map[string]any `json:"metadata"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

// Source holds metadata about the video an insight was mined from.
type Source struct {
	ID         string         `json:"id"`
	VideoID    string         `json:"video_id" validate:"notblank"`
	Title      string         `json:"title" validate:"notblank"`
	Channel    string         `json:"channel,omitempty"`
	UploadDate string         `json:"upload_date,omitempty"`
	Views      int64          `json:"views" validate:"gte=0"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  string         `json:"created_at,omitempty"`
	UpdatedAt  string         `json:"updated_at,omitempty"`
}

// JournalEntry records one attempt to implement an insight.
type JournalEntry struct {
	ID        string `json:"id"`
	InsightID string `json:"insight_id,omitempty"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	TimeSpent int    `json:"time_spent"`
	Notes     string `json:"notes"`
	Success   bool   `json:"success"`
}

// Relationship is a directed, typed, weighted edge between two insights.
type Relationship struct {
	ID               string           `json:"id"`
	SourceID         string           `json:"source_id"`
	TargetID         string           `json:"target_id"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Strength         float64          `json:"strength"`
	CreatedAt        string           `json:"created_at"`
}

// RelationshipType classifies an edge.
type RelationshipType string

const (
	RelSimilar      RelationshipType = "similar"
	RelPrerequisite RelationshipType = "prerequisite"
	RelAlternative  RelationshipType = "alternative"
	RelComplement   RelationshipType = "complement"
	RelSupersedes   RelationshipType = "supersedes"
	RelDuplicate    RelationshipType = "duplicate"
	RelRelated      RelationshipType = "related"
)

// RelationshipTypes lists every accepted relationship type.
var RelationshipTypes = []RelationshipType{
	RelSimilar, RelPrerequisite, RelAlternative, RelComplement,
	RelSupersedes, RelDuplicate, RelRelated,
}

// Valid reports whether t is one of RelationshipTypes.
func (t RelationshipType) Valid() bool {
	for _, known := range RelationshipTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Direction selects which side of an edge an insight must occupy.
type Direction string

const (
	DirectionSource Direction = "source"
	DirectionTarget Direction = "target"
	DirectionBoth   Direction = "both"
)

// InsightCandidate is the upstream record produced by the summarization pipeline.
// A nil Confidence means 1.0.
type InsightCandidate struct {
	Title         string         `json:"title" validate:"notblank"`
	Description   string         `json:"description" validate:"notblank"`
	Category      string         `json:"category" validate:"notblank"`
	SourceVideoID string         `json:"source_video_id,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Tags          []string       `json:"tags,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ConfidenceValue returns the candidate's confidence with the 1.0 default applied.
func (c InsightCandidate) ConfidenceValue() float64 {
	if c.Confidence == nil {
		return 1.0
	}
	return *c.Confidence
}

// AsInsight projects the candidate onto an unsaved Insight, used for similarity scoring.
func (c InsightCandidate) AsInsight() *Insight {
	return &Insight{
		Title:         c.Title,
		Description:   c.Description,
		Category:      c.Category,
		SourceVideoID: c.SourceVideoID,
		Confidence:    c.ConfidenceValue(),
		Tags:          NormalizeTags(c.Tags),
		Metadata:      c.Metadata,
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// ScoredInsight is an insight annotated with a relevance, activity or degree score.
type ScoredInsight struct {
	Insight
	Score float64 `json:"score"`
}

// InsightRef is the id+title pair used in statistics listings.
type InsightRef struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Statistics summarizes the knowledge base.
type Statistics struct {
	TotalInsights          int            `json:"total_insights"`
	TotalSources           int            `json:"total_sources"`
	TotalJournalEntries    int            `json:"total_journal_entries"`
	TotalRelationships     int            `json:"total_relationships"`
	CategoryCounts         map[string]int `json:"category_counts"`
	RelationshipTypeCounts map[string]int `json:"relationship_type_counts"`
	JournalSuccessRate     float64        `json:"journal_success_rate"`
	AverageConfidence      float64        `json:"average_confidence"`
}

// GraphNode is an insight reached during relationship-graph traversal.
type GraphNode struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Depth      int     `json:"depth"`
}

// Graph is the bounded neighbourhood around a root insight.
type Graph struct {
	RootID string         `json:"root_id"`
	Nodes  []GraphNode    `json:"nodes"`
	Edges  []Relationship `json:"edges"`
}

// IntegrityIssue reports a relationship whose endpoint no longer resolves.
type IntegrityIssue struct {
	RelationshipID string `json:"relationship_id"`
	SourceID       string `json:"source_id"`
	TargetID       string `json:"target_id"`
	Problem        string `json:"problem"`
}

// IntegrityReport is the outcome of a relationship integrity scan.
type IntegrityReport struct {
	Total   int              `json:"total"`
	Valid   int              `json:"valid"`
	Invalid int              `json:"invalid"`
	Issues  []IntegrityIssue `json:"issues"`
}

// NormalizeTags trims, de-duplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// UnionTags merges two tag sets.
func UnionTags(a, b []string) []string {
	merged := make([]string, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return NormalizeTags(merged)
}
