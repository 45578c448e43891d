package storage

import (
	"context"
	"database/sql"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
)

// GetStatistics aggregates counts over every table. The journal success rate
// is 0 when there are no journal entries.
func (s *Store) GetStatistics(ctx context.Context) (*models.Statistics, error) {
	st := &models.Statistics{
		CategoryCounts:         map[string]int{},
		RelationshipTypeCounts: map[string]int{},
	}

	var (
		successes int
		avgConf   sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM insights),
			(SELECT COUNT(*) FROM sources),
			(SELECT COUNT(*) FROM journal_entries),
			(SELECT COUNT(*) FROM relationships),
			(SELECT COUNT(*) FROM journal_entries WHERE success = 1),
			(SELECT AVG(confidence) FROM insights)`,
	).Scan(&st.TotalInsights, &st.TotalSources, &st.TotalJournalEntries, &st.TotalRelationships,
		&successes, &avgConf)
	if err != nil {
		return nil, &models.StorageError{Op: "statistics", Err: err}
	}
	if st.TotalJournalEntries > 0 {
		st.JournalSuccessRate = float64(successes) / float64(st.TotalJournalEntries)
	}
	st.AverageConfidence = avgConf.Float64

	if err := s.countInto(ctx, `SELECT category, COUNT(*) FROM insights GROUP BY category`, st.CategoryCounts); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, `SELECT relationship_type, COUNT(*) FROM relationships GROUP BY relationship_type`, st.RelationshipTypeCounts); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) countInto(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return &models.StorageError{Op: "statistics", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return &models.StorageError{Op: "statistics", Err: err}
		}
		into[key] = n
	}
	if err := rows.Err(); err != nil {
		return &models.StorageError{Op: "statistics", Err: err}
	}
	return nil
}

// CountInsights returns the number of stored insights.
func (s *Store) CountInsights(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights`).Scan(&n); err != nil {
		return 0, &models.StorageError{Op: "count insights", Err: err}
	}
	return n, nil
}
