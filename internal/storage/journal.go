package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
)

// AddJournalEntry appends an entry. An empty Date is stamped with the store clock.
func (s *Store) AddJournalEntry(ctx context.Context, e models.JournalEntry) (string, error) {
	if strings.TrimSpace(e.Status) == "" {
		return "", &models.ValidationError{Field: "status", Reason: "is required"}
	}
	if e.TimeSpent < 0 {
		return "", &models.ValidationError{Field: "time_spent", Reason: "must not be negative"}
	}
	if e.Date == "" {
		e.Date = s.timestamp()
	}

	id := s.newID()
	err := s.withTx(ctx, "add journal entry", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO journal_entries (id, insight_id, date, status, time_spent, notes, success)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, nullable(e.InsightID), e.Date, e.Status, e.TimeSpent, e.Notes, e.Success,
		)
		if err != nil {
			return fmt.Errorf("insert journal entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetJournalEntries lists entries newest-first, optionally for one insight.
// limit <= 0 means no limit.
func (s *Store) GetJournalEntries(ctx context.Context, insightID string, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, insight_id, date, status, time_spent, notes, success FROM journal_entries`
	var args []any
	if insightID != "" {
		query += ` WHERE insight_id = ?`
		args = append(args, insightID)
	}
	query += ` ORDER BY date DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "list journal entries", Err: err}
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var (
			e       models.JournalEntry
			insight sql.NullString
		)
		if err := rows.Scan(&e.ID, &insight, &e.Date, &e.Status, &e.TimeSpent, &e.Notes, &e.Success); err != nil {
			return nil, &models.StorageError{Op: "scan journal entry", Err: err}
		}
		e.InsightID = insight.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list journal entries", Err: err}
	}
	return entries, nil
}
