package search

import (
	"strings"
	"time"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/textutil"
)

// Filters narrows a search. Zero values disable a filter.
type Filters struct {
	Categories    []string  `json:"category,omitempty"`
	ConfidenceMin float64   `json:"confidence_min,omitempty"`
	DateFrom      time.Time `json:"date_from,omitempty"`
	DateTo        time.Time `json:"date_to,omitempty"`
	SourceVideoID string    `json:"source_video_id,omitempty"`
	// Tags must all be present on a result.
	Tags []string `json:"tags,omitempty"`
}

// Empty reports whether no filter is active.
func (f Filters) Empty() bool {
	return len(f.Categories) == 0 && f.ConfidenceMin == 0 && f.DateFrom.IsZero() &&
		f.DateTo.IsZero() && f.SourceVideoID == "" && len(f.Tags) == 0
}

// dimension names a filter that a facet may exclude from its own count.
type dimension int

const (
	dimNone dimension = iota
	dimCategory
	dimConfidence
)

// clause is a conjunction of SQL conditions over insights aliased as "i".
type clause struct {
	conds []string
	args  []any
}

func (c *clause) add(cond string, args ...any) {
	c.conds = append(c.conds, cond)
	c.args = append(c.args, args...)
}

func (c *clause) where() string {
	if len(c.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.conds, " AND ")
}

func (c *clause) and() string {
	if len(c.conds) == 0 {
		return ""
	}
	return " AND " + strings.Join(c.conds, " AND ")
}

// apply adds every active filter except the one on skip.
func (f Filters) apply(c *clause, skip dimension) {
	if cats := nonBlank(f.Categories); len(cats) > 0 && skip != dimCategory {
		c.add(`i.category IN (`+placeholders(len(cats))+`)`, toAny(cats)...)
	}
	if f.ConfidenceMin > 0 && skip != dimConfidence {
		c.add(`i.confidence >= ?`, f.ConfidenceMin)
	}
	if !f.DateFrom.IsZero() {
		c.add(`i.created_at >= ?`, models.FormatTime(f.DateFrom))
	}
	if !f.DateTo.IsZero() {
		c.add(`i.created_at <= ?`, models.FormatTime(f.DateTo))
	}
	if f.SourceVideoID != "" {
		c.add(`i.source_video_id = ?`, f.SourceVideoID)
	}
	addTagConds(c, f.Tags)
}

func addTagConds(c *clause, tags []string) {
	for _, t := range models.NormalizeTags(tags) {
		c.add(`EXISTS (SELECT 1 FROM json_each(i.tags) WHERE json_each.value = ?)`, t)
	}
}

// matchExpr turns free text into an FTS5 expression: each content word is
// quoted and the words are OR-ed. Stop words are dropped unless nothing else
// is left. An empty result means the text has no searchable words.
func matchExpr(query string) string {
	words := textutil.Words(query)
	var keep []string
	seen := map[string]bool{}
	for _, w := range words {
		if textutil.IsStopWord(w) || seen[w] {
			continue
		}
		seen[w] = true
		keep = append(keep, w)
	}
	if len(keep) == 0 {
		for _, w := range words {
			if !seen[w] {
				seen[w] = true
				keep = append(keep, w)
			}
		}
	}
	quoted := make([]string, len(keep))
	for i, w := range keep {
		quoted[i] = `"` + w + `"`
	}
	return strings.Join(quoted, " OR ")
}

// likePattern builds a %substring% pattern with LIKE metacharacters escaped by '\'.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func nonBlank(ss []string) []string {
	var out []string
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
