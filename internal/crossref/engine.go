// Package crossref scores insight similarity and maintains the relationship
// graph: deduplication, merge, discovery, traversal and integrity checks.
package crossref

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/config"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/logger"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/metrics"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/search"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/storage"
)

// Store is the persistence surface the engine needs.
type Store interface {
	GetInsight(ctx context.Context, id string) (*models.Insight, error)
	AddRelationship(ctx context.Context, sourceID, targetID string, relType models.RelationshipType, strength float64) (string, error)
	GetRelationships(ctx context.Context, insightID string, dir models.Direction) ([]models.Relationship, error)
	MergeInsight(ctx context.Context, primaryID, duplicateID string) error
	Occurrences(ctx context.Context) ([]storage.Occurrence, error)
	RelationshipIssues(ctx context.Context) (*models.IntegrityReport, error)
}

// Searcher supplies candidate sets.
type Searcher interface {
	Search(ctx context.Context, query string, f search.Filters, limit, offset int) (*search.Results, error)
	SearchSimilar(ctx context.Context, id string, limit int) ([]models.ScoredInsight, error)
}

// Match is a duplicate candidate and its similarity score.
type Match struct {
	Insight models.Insight `json:"insight"`
	Score   float64        `json:"score"`
}

// CoOccurrence counts the source videos two insights share.
type CoOccurrence struct {
	InsightA string `json:"insight_a"`
	InsightB string `json:"insight_b"`
	Count    int    `json:"count"`
}

// Engine implements cross-referencing on top of a Store and a Searcher.
type Engine struct {
	store      Store
	searcher   Searcher
	classifier Classifier
	dedup      config.DedupConfig
	rel        config.RelationshipsConfig
	log        logger.Logger
	metrics    *metrics.Metrics
}

// Option customises New.
type Option func(*Engine)

// WithConfig takes thresholds and limits from cfg.
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) {
		e.dedup = cfg.Dedup
		e.rel = cfg.Relationships
	}
}

// WithClassifier replaces the keyword classifier.
func WithClassifier(c Classifier) Option { return func(e *Engine) { e.classifier = c } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics counts discovered relationships and merges.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New returns an Engine with the default configuration unless overridden.
func New(store Store, searcher Searcher, opts ...Option) *Engine {
	def := config.Default()
	e := &Engine{
		store:    store,
		searcher: searcher,
		dedup:    def.Dedup,
		rel:      def.Relationships,
		log:      logger.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.classifier == nil {
		e.classifier = KeywordClassifier{SupersedeSimilarity: e.rel.SupersedeSimilarity}
	}
	e.log = e.log.With("component", "crossref")
	return e
}

// Threshold is the configured duplicate threshold.
func (e *Engine) Threshold() float64 { return e.dedup.Threshold }

// FindDuplicates scores the top search hits for ins's own text, scoped to its
// category, and returns those at or above threshold, best first. ins may be
// unsaved; a saved insight never matches itself.
func (e *Engine) FindDuplicates(ctx context.Context, ins *models.Insight, threshold float64) ([]Match, error) {
	var f search.Filters
	if ins.Category != "" {
		f.Categories = []string{ins.Category}
	}
	res, err := e.searcher.Search(ctx, ins.Title+" "+ins.Description, f, e.dedup.CandidateLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}

	matches := []Match{}
	for _, cand := range res.Results {
		if ins.ID != "" && cand.ID == ins.ID {
			continue
		}
		score := CalculateSimilarity(ins, &cand.Insight)
		if score >= threshold {
			matches = append(matches, Match{Insight: cand.Insight, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// MergeDuplicates folds each duplicate into primary, one transaction per
// duplicate. A failed duplicate does not stop the rest; the ids merged are
// returned along with the joined failures.
func (e *Engine) MergeDuplicates(ctx context.Context, primaryID string, duplicateIDs []string) ([]string, error) {
	merged := []string{}
	var errs []error
	for _, dup := range duplicateIDs {
		if err := e.store.MergeInsight(ctx, primaryID, dup); err != nil {
			e.log.Warn("merge failed", "primary", primaryID, "duplicate", dup, "error", err)
			errs = append(errs, fmt.Errorf("merge %s into %s: %w", dup, primaryID, err))
			continue
		}
		e.metrics.DuplicateMerged()
		merged = append(merged, dup)
	}
	if len(merged) > 0 {
		e.log.Info("duplicates merged", "primary", primaryID, "count", len(merged))
	}
	return merged, errors.Join(errs...)
}

// DiscoverRelationships links insightID to up to maxRelationships of its most
// similar insights and persists the edges. Edges point from the insight to
// the candidate, except supersedes edges which point from the newer
// candidate back to the insight.
func (e *Engine) DiscoverRelationships(ctx context.Context, insightID string, maxRelationships int) ([]models.Relationship, error) {
	if maxRelationships <= 0 {
		maxRelationships = e.rel.MaxPerInsight
	}
	ins, err := e.store.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if ins == nil {
		return nil, fmt.Errorf("discover relationships for %s: %w", insightID, models.ErrNotFound)
	}

	cands, err := e.searcher.SearchSimilar(ctx, insightID, e.dedup.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("discover relationships: %w", err)
	}
	type scored struct {
		cand models.Insight
		sim  float64
	}
	var ranked []scored
	for _, c := range cands {
		if sim := CalculateSimilarity(ins, &c.Insight); sim >= e.rel.MinStrength {
			ranked = append(ranked, scored{cand: c.Insight, sim: sim})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if len(ranked) > maxRelationships {
		ranked = ranked[:maxRelationships]
	}

	rels := []models.Relationship{}
	for _, r := range ranked {
		relType := e.classifier.Classify(ins, &r.cand, r.sim)
		src, tgt := ins.ID, r.cand.ID
		if relType == models.RelSupersedes {
			src, tgt = tgt, src
		}
		id, err := e.store.AddRelationship(ctx, src, tgt, relType, r.sim)
		if err != nil {
			return rels, fmt.Errorf("persist %s relationship: %w", relType, err)
		}
		e.metrics.Relationship(string(relType))
		rels = append(rels, models.Relationship{
			ID:               id,
			SourceID:         src,
			TargetID:         tgt,
			RelationshipType: relType,
			Strength:         r.sim,
		})
	}
	e.log.Debug("relationships discovered", "insight", insightID, "count", len(rels))
	return rels, nil
}

// FindCoOccurring pairs the insights that came from videoID and counts how
// many source videos each pair shares. Merged duplicates count toward their
// primary. Pairs below minOccurrences are dropped.
func (e *Engine) FindCoOccurring(ctx context.Context, videoID string, minOccurrences int) ([]CoOccurrence, error) {
	occ, err := e.store.Occurrences(ctx)
	if err != nil {
		return nil, err
	}
	videos := map[string]map[string]bool{}
	for _, o := range occ {
		if videos[o.InsightID] == nil {
			videos[o.InsightID] = map[string]bool{}
		}
		videos[o.InsightID][o.VideoID] = true
	}

	var present []string
	for id, vs := range videos {
		if vs[videoID] {
			present = append(present, id)
		}
	}
	sort.Strings(present)

	out := []CoOccurrence{}
	for i := 0; i < len(present); i++ {
		for j := i + 1; j < len(present); j++ {
			a, b := present[i], present[j]
			n := 0
			for v := range videos[a] {
				if videos[b][v] {
					n++
				}
			}
			if n >= minOccurrences {
				out = append(out, CoOccurrence{InsightA: a, InsightB: b, Count: n})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

// BuildRelationshipGraph walks relationships in both directions from rootID,
// breadth first, up to maxDepth hops. A missing root yields an empty graph.
func (e *Engine) BuildRelationshipGraph(ctx context.Context, rootID string, maxDepth int) (*models.Graph, error) {
	if maxDepth < 0 {
		maxDepth = 0
	}
	g := &models.Graph{RootID: rootID, Nodes: []models.GraphNode{}, Edges: []models.Relationship{}}
	root, err := e.store.GetInsight(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return g, nil
	}

	type item struct {
		ins   *models.Insight
		depth int
	}
	visited := map[string]bool{rootID: true}
	seenEdge := map[string]bool{}
	queue := []item{{root, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		g.Nodes = append(g.Nodes, models.GraphNode{
			ID:         cur.ins.ID,
			Title:      cur.ins.Title,
			Category:   cur.ins.Category,
			Confidence: cur.ins.Confidence,
			Depth:      cur.depth,
		})
		if cur.depth >= maxDepth {
			continue
		}

		rels, err := e.store.GetRelationships(ctx, cur.ins.ID, models.DirectionBoth)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			if seenEdge[r.ID] {
				continue
			}
			next := r.TargetID
			if next == cur.ins.ID {
				next = r.SourceID
			}
			if !visited[next] {
				n, err := e.store.GetInsight(ctx, next)
				if err != nil {
					return nil, err
				}
				if n == nil {
					// dangling edge; reported by ValidateRelationships
					continue
				}
				visited[next] = true
				queue = append(queue, item{n, cur.depth + 1})
			}
			seenEdge[r.ID] = true
			g.Edges = append(g.Edges, r)
		}
	}
	return g, nil
}

// SuggestTags proposes tags carried by insights similar to insightID that it
// does not already have, most frequent first.
func (e *Engine) SuggestTags(ctx context.Context, insightID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	ins, err := e.store.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if ins == nil {
		return []string{}, nil
	}
	similar, err := e.searcher.SearchSimilar(ctx, insightID, 10)
	if err != nil {
		return nil, err
	}

	have := map[string]bool{}
	for _, t := range ins.Tags {
		have[strings.ToLower(t)] = true
	}
	counts := map[string]int{}
	for _, s := range similar {
		for _, t := range s.Tags {
			if !have[strings.ToLower(t)] {
				counts[t]++
			}
		}
	}

	tags := make([]string, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags, nil
}

// ValidateRelationships reports edges whose endpoints no longer exist.
func (e *Engine) ValidateRelationships(ctx context.Context) (*models.IntegrityReport, error) {
	report, err := e.store.RelationshipIssues(ctx)
	if err != nil {
		return nil, err
	}
	if report.Invalid > 0 {
		e.log.Warn("relationship integrity issues", "invalid", report.Invalid, "total", report.Total)
	}
	return report, nil
}
