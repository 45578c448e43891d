// Package knowledge is the facade over the knowledge base. It owns the Store
// and the engines built on it, and is the only entry point for the CLI and
// the MCP tools.
package knowledge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/config"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/crossref"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/logger"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/metrics"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/search"
	"github.com/wagnerlima/memory-cloud/insight-kb/internal/storage"
)

var tracer = otel.Tracer("insightkb/knowledge")

// Engine ties the Store, search and cross-reference engines to one lifetime.
type Engine struct {
	cfg     config.Config
	store   *storage.Store
	search  *search.Engine
	xref    *crossref.Engine
	log     logger.Logger
	metrics *metrics.Metrics

	// ingest spans the duplicate lookup and the write that depends on it.
	ingest sync.Mutex
}

type options struct {
	log        logger.Logger
	metrics    *metrics.Metrics
	classifier crossref.Classifier
	storeOpts  []storage.Option
}

// Option customises Open.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l logger.Logger) Option { return func(o *options) { o.log = l } }

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithClassifier replaces the keyword relationship classifier.
func WithClassifier(c crossref.Classifier) Option { return func(o *options) { o.classifier = c } }

// WithStoreOptions passes extra options to storage.Open.
func WithStoreOptions(opts ...storage.Option) Option {
	return func(o *options) { o.storeOpts = append(o.storeOpts, opts...) }
}

// Open opens the knowledge base described by cfg. The caller must Close it.
func Open(cfg config.Config, opts ...Option) (*Engine, error) {
	o := options{log: logger.Nop()}
	for _, fn := range opts {
		fn(&o)
	}

	storeOpts := append([]storage.Option{
		storage.WithLogger(o.log),
		storage.WithBackupDir(cfg.BackupDir()),
	}, o.storeOpts...)
	st, err := storage.Open(cfg.DBPath(), storeOpts...)
	if err != nil {
		return nil, err
	}

	se := search.New(st, search.WithLogger(o.log), search.WithMetrics(o.metrics))
	xopts := []crossref.Option{
		crossref.WithConfig(cfg),
		crossref.WithLogger(o.log),
		crossref.WithMetrics(o.metrics),
	}
	if o.classifier != nil {
		xopts = append(xopts, crossref.WithClassifier(o.classifier))
	}

	return &Engine{
		cfg:     cfg,
		store:   st,
		search:  se,
		xref:    crossref.New(st, se, xopts...),
		log:     o.log.With("component", "knowledge"),
		metrics: o.metrics,
	}, nil
}

// Close releases the database. Later calls return the first result.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() config.Config { return e.cfg }

type storeSettings struct {
	dedupe   bool
	discover bool
}

// StoreOption adjusts a single StoreInsight or StoreBatch call.
type StoreOption func(*storeSettings)

// WithoutDedupe always writes a new row.
func WithoutDedupe() StoreOption { return func(s *storeSettings) { s.dedupe = false } }

// WithoutDiscovery skips relationship discovery for new rows.
func WithoutDiscovery() StoreOption { return func(s *storeSettings) { s.discover = false } }

func resolve(opts []StoreOption) storeSettings {
	s := storeSettings{dedupe: true, discover: true}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// StoreInsight ingests one candidate. With dedupe on, a stored insight at or
// above the duplicate threshold is reused and its id returned instead of
// writing a row. New rows get relationship discovery unless disabled.
func (e *Engine) StoreInsight(ctx context.Context, c models.InsightCandidate, opts ...StoreOption) (id string, err error) {
	ctx, span := tracer.Start(ctx, "knowledge.StoreInsight",
		trace.WithAttributes(attribute.String("insight.category", c.Category)))
	defer func() { endSpan(span, err) }()

	id, _, err = e.storeOne(ctx, c, resolve(opts))
	return id, err
}

func (e *Engine) storeOne(ctx context.Context, c models.InsightCandidate, s storeSettings) (string, bool, error) {
	if err := c.Validate(); err != nil {
		return "", false, err
	}

	id, dup, err := e.dedupeOrStore(ctx, c, s.dedupe)
	if err != nil || dup {
		return id, dup, err
	}

	if s.discover {
		// The insight is committed; a discovery failure only costs edges.
		if _, err := e.xref.DiscoverRelationships(ctx, id, e.cfg.Relationships.MaxPerInsight); err != nil {
			e.log.Warn("relationship discovery failed", "id", id, "error", err)
		}
	}
	return id, false, nil
}

// dedupeOrStore reuses a near-identical insight or writes c as a new one.
func (e *Engine) dedupeOrStore(ctx context.Context, c models.InsightCandidate, dedupe bool) (string, bool, error) {
	e.ingest.Lock()
	defer e.ingest.Unlock()

	if dedupe {
		matches, err := e.xref.FindDuplicates(ctx, c.AsInsight(), e.cfg.Dedup.Threshold)
		if err != nil {
			return "", false, err
		}
		if len(matches) > 0 {
			best := matches[0]
			if e.cfg.Dedup.BumpConfidence {
				if err := e.store.RaiseConfidence(ctx, best.Insight.ID, c.ConfidenceValue()); err != nil {
					return "", false, err
				}
			}
			e.metrics.IngestDuplicate()
			e.log.Debug("duplicate insight reused", "id", best.Insight.ID, "score", best.Score)
			return best.Insight.ID, true, nil
		}
	}

	id, err := e.store.StoreInsight(ctx, c)
	if err != nil {
		return "", false, err
	}
	e.metrics.IngestNew()
	return id, false, nil
}

// BatchFailure records a candidate that could not be stored.
type BatchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchStatistics summarizes a StoreBatch call.
type BatchStatistics struct {
	NewInsights      int `json:"new_insights"`
	DuplicatesMerged int `json:"duplicates_merged"`
	// ProcessingTime is in seconds.
	ProcessingTime    float64 `json:"processing_time"`
	DeduplicationRate float64 `json:"deduplication_rate"`
}

// BatchResult reports which ids were created and which were reused.
type BatchResult struct {
	Stored     []string        `json:"stored"`
	Duplicates []string        `json:"duplicates"`
	Failed     []BatchFailure  `json:"failed"`
	Total      int             `json:"total"`
	Statistics BatchStatistics `json:"statistics"`
}

// StoreBatch applies StoreInsight to each candidate. A failing candidate is
// recorded in Failed and does not stop the batch; only context cancellation
// ends it early.
func (e *Engine) StoreBatch(ctx context.Context, cands []models.InsightCandidate, opts ...StoreOption) (res *BatchResult, err error) {
	ctx, span := tracer.Start(ctx, "knowledge.StoreBatch",
		trace.WithAttributes(attribute.Int("batch.size", len(cands))))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	s := resolve(opts)
	res = &BatchResult{
		Stored:     []string{},
		Duplicates: []string{},
		Failed:     []BatchFailure{},
		Total:      len(cands),
	}
	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		id, dup, err := e.storeOne(ctx, c, s)
		switch {
		case err != nil:
			e.metrics.BatchFailure()
			e.log.Warn("batch candidate rejected", "index", i, "error", err)
			res.Failed = append(res.Failed, BatchFailure{Index: i, Error: err.Error()})
		case dup:
			res.Duplicates = append(res.Duplicates, id)
		default:
			res.Stored = append(res.Stored, id)
		}
	}

	res.Statistics = BatchStatistics{
		NewInsights:      len(res.Stored),
		DuplicatesMerged: len(res.Duplicates),
		ProcessingTime:   time.Since(start).Seconds(),
	}
	if res.Total > 0 {
		res.Statistics.DeduplicationRate = float64(len(res.Duplicates)) / float64(res.Total)
	}
	span.SetAttributes(
		attribute.Int("batch.new", len(res.Stored)),
		attribute.Int("batch.duplicates", len(res.Duplicates)),
		attribute.Int("batch.failed", len(res.Failed)),
	)
	e.log.Info("batch stored", "total", res.Total, "new", len(res.Stored),
		"duplicates", len(res.Duplicates), "failed", len(res.Failed))
	return res, nil
}

// SearchKnowledge runs a ranked, filtered search.
func (e *Engine) SearchKnowledge(ctx context.Context, query string, f search.Filters, limit, offset int) (res *search.Results, err error) {
	ctx, span := tracer.Start(ctx, "knowledge.SearchKnowledge",
		trace.WithAttributes(attribute.String("search.query", query)))
	defer func() { endSpan(span, err) }()

	res, err = e.search.Search(ctx, query, f, limit, offset)
	if err == nil {
		span.SetAttributes(attribute.Int("search.total", res.Total), attribute.Bool("search.fallback", res.Fallback))
	}
	return res, err
}

// UpdateJournal records a journal entry.
func (e *Engine) UpdateJournal(ctx context.Context, entry models.JournalEntry) (string, error) {
	return e.store.AddJournalEntry(ctx, entry)
}

// Statistics is the store-wide summary plus trending and most-referenced lists.
type Statistics struct {
	models.Statistics
	TrendingInsights []models.InsightRef `json:"trending_insights"`
	MostMentioned    []models.InsightRef `json:"most_mentioned"`
}

// GetStatistics gathers counts, trending and most-mentioned concurrently.
func (e *Engine) GetStatistics(ctx context.Context) (out *Statistics, err error) {
	ctx, span := tracer.Start(ctx, "knowledge.GetStatistics")
	defer func() { endSpan(span, err) }()

	var (
		base              *models.Statistics
		trending, mention []models.ScoredInsight
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		base, err = e.store.GetStatistics(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		trending, err = e.search.Trending(gctx, e.cfg.Search.TrendingDays, e.cfg.Search.TrendingLimit)
		return err
	})
	g.Go(func() error {
		var err error
		mention, err = e.search.MostMentioned(gctx, e.cfg.Search.TrendingLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Statistics{
		Statistics:       *base,
		TrendingInsights: refs(trending),
		MostMentioned:    refs(mention),
	}, nil
}

// BackupDatabase writes a point-in-time copy; see storage.Store.BackupDatabase.
func (e *Engine) BackupDatabase(ctx context.Context, path string) (out string, err error) {
	ctx, span := tracer.Start(ctx, "knowledge.BackupDatabase")
	defer func() { endSpan(span, err) }()
	return e.store.BackupDatabase(ctx, path)
}

// StoreSource creates or updates a source video's metadata and returns its id.
func (e *Engine) StoreSource(ctx context.Context, src models.Source) (string, error) {
	return e.store.StoreSource(ctx, src)
}

// Source returns the source with videoID, or nil when there is none.
func (e *Engine) Source(ctx context.Context, videoID string) (*models.Source, error) {
	return e.store.GetSource(ctx, videoID)
}

// Insight returns the insight with id, or nil when there is none.
func (e *Engine) Insight(ctx context.Context, id string) (*models.Insight, error) {
	return e.store.GetInsight(ctx, id)
}

// CountInsights returns the number of stored insights.
func (e *Engine) CountInsights(ctx context.Context) (int, error) {
	return e.store.CountInsights(ctx)
}

// JournalEntries lists journal entries newest first, optionally for one insight.
func (e *Engine) JournalEntries(ctx context.Context, insightID string, limit int) ([]models.JournalEntry, error) {
	return e.store.GetJournalEntries(ctx, insightID, limit)
}

// AddRelationship upserts a typed edge between two existing insights.
func (e *Engine) AddRelationship(ctx context.Context, sourceID, targetID string, relType models.RelationshipType, strength float64) (string, error) {
	return e.store.AddRelationship(ctx, sourceID, targetID, relType, strength)
}

// Relationships lists the edges touching insightID on the given side.
func (e *Engine) Relationships(ctx context.Context, insightID string, dir models.Direction) ([]models.Relationship, error) {
	return e.store.GetRelationships(ctx, insightID, dir)
}

// SimilarInsights finds insights textually similar to id, excluding it.
func (e *Engine) SimilarInsights(ctx context.Context, id string, limit int) ([]models.ScoredInsight, error) {
	return e.search.SearchSimilar(ctx, id, limit)
}

// AdvancedSearch runs an unranked per-field query.
func (e *Engine) AdvancedSearch(ctx context.Context, q search.AdvancedQuery) ([]models.Insight, error) {
	return e.search.AdvancedSearch(ctx, q)
}

// RelationshipGraph returns the neighbourhood of rootID up to maxDepth hops.
func (e *Engine) RelationshipGraph(ctx context.Context, rootID string, maxDepth int) (*models.Graph, error) {
	return e.xref.BuildRelationshipGraph(ctx, rootID, maxDepth)
}

// SuggestTags proposes tags carried by similar insights that insightID lacks.
func (e *Engine) SuggestTags(ctx context.Context, insightID string, limit int) ([]string, error) {
	return e.xref.SuggestTags(ctx, insightID, limit)
}

// MergeDuplicates folds each duplicate into primary; see crossref.Engine.MergeDuplicates.
func (e *Engine) MergeDuplicates(ctx context.Context, primaryID string, duplicateIDs []string) (merged []string, err error) {
	ctx, span := tracer.Start(ctx, "knowledge.MergeDuplicates",
		trace.WithAttributes(attribute.String("merge.primary", primaryID), attribute.Int("merge.count", len(duplicateIDs))))
	defer func() { endSpan(span, err) }()
	return e.xref.MergeDuplicates(ctx, primaryID, duplicateIDs)
}

// DiscoverRelationships classifies and records edges to the most similar insights.
func (e *Engine) DiscoverRelationships(ctx context.Context, insightID string, maxRelationships int) ([]models.Relationship, error) {
	return e.xref.DiscoverRelationships(ctx, insightID, maxRelationships)
}

// CoOccurring pairs insights from videoID that share at least minOccurrences videos.
func (e *Engine) CoOccurring(ctx context.Context, videoID string, minOccurrences int) ([]crossref.CoOccurrence, error) {
	return e.xref.FindCoOccurring(ctx, videoID, minOccurrences)
}

// ValidateRelationships reports edges whose endpoints no longer exist.
func (e *Engine) ValidateRelationships(ctx context.Context) (*models.IntegrityReport, error) {
	return e.xref.ValidateRelationships(ctx)
}

func refs(in []models.ScoredInsight) []models.InsightRef {
	out := make([]models.InsightRef, 0, len(in))
	for _, s := range in {
		out = append(out, models.InsightRef{ID: s.ID, Title: s.Title, Score: s.Score})
	}
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// all pages through every insight matching f, newest first.
func (e *Engine) all(ctx context.Context, f *search.Filters) ([]models.Insight, error) {
	if f == nil || f.Empty() {
		return e.store.GetAllInsights(ctx, "", 0, 0)
	}
	const page = 500
	var out []models.Insight
	for offset := 0; ; offset += page {
		res, err := e.search.Search(ctx, "", *f, page, offset)
		if err != nil {
			return nil, fmt.Errorf("collect insights: %w", err)
		}
		for _, r := range res.Results {
			out = append(out, r.Insight)
		}
		if len(res.Results) < page {
			return out, nil
		}
	}
}
