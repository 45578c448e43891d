// Package metrics holds the Prometheus collectors for ingestion and search.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	insightsStored   *prometheus.CounterVec
	batchFailures    prometheus.Counter
	searchTotal      *prometheus.CounterVec
	searchDuration   *prometheus.HistogramVec
	relationships    *prometheus.CounterVec
	mergedDuplicates prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// insightsStored counts ingested candidates by outcome (new|duplicate)
		insightsStored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insightkb_insights_ingested_total",
			Help: "Insight candidates ingested by outcome",
		}, []string{"outcome"}),
		batchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "insightkb_batch_failures_total",
			Help: "Batch candidates rejected by validation or storage",
		}),
		searchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insightkb_search_total",
			Help: "Searches executed by mode (fts|fallback|recent)",
		}, []string{"mode"}),
		searchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insightkb_search_duration_seconds",
			Help:    "Search latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"mode"}),
		relationships: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insightkb_relationships_discovered_total",
			Help: "Relationships persisted by discovery, by type",
		}, []string{"type"}),
		mergedDuplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "insightkb_duplicates_merged_total",
			Help: "Duplicate insights merged into a primary",
		}),
	}
}

// IngestNew records a newly stored insight.
func (m *Metrics) IngestNew() {
	if m == nil {
		return
	}
	m.insightsStored.WithLabelValues("new").Inc()
}

// IngestDuplicate records a candidate resolved to an existing insight.
func (m *Metrics) IngestDuplicate() {
	if m == nil {
		return
	}
	m.insightsStored.WithLabelValues("duplicate").Inc()
}

// BatchFailure records one rejected batch candidate.
func (m *Metrics) BatchFailure() {
	if m == nil {
		return
	}
	m.batchFailures.Inc()
}

// Search records one search execution.
func (m *Metrics) Search(mode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.searchTotal.WithLabelValues(mode).Inc()
	m.searchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// Relationship records one discovered edge.
func (m *Metrics) Relationship(relType string) {
	if m == nil {
		return
	}
	m.relationships.WithLabelValues(relType).Inc()
}

// DuplicateMerged records one merged duplicate.
func (m *Metrics) DuplicateMerged() {
	if m == nil {
		return
	}
	m.mergedDuplicates.Inc()
}
