package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
)

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// StoreInsight validates c and writes a new insight with a fresh id. The
// search index is updated in the same transaction.
func (s *Store) StoreInsight(ctx context.Context, c models.InsightCandidate) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	tags, err := encodeTags(c.Tags)
	if err != nil {
		return "", &models.ValidationError{Field: "tags", Reason: err.Error()}
	}
	md, err := encodeMetadata(c.Metadata)
	if err != nil {
		return "", &models.ValidationError{Field: "metadata", Reason: err.Error()}
	}

	id := s.newID()
	now := s.timestamp()
	err = s.withTx(ctx, "store insight", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO insights (id, title, description, category, source_video_id,
			 confidence, tags, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, c.Title, c.Description, c.Category, nullable(c.SourceVideoID),
			c.ConfidenceValue(), tags, md, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert insight %q: %w", c.Title, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.log.Debug("insight stored", "id", id, "category", c.Category)
	return id, nil
}

// GetInsight loads one insight. A missing id yields (nil, nil).
func (s *Store) GetInsight(ctx context.Context, id string) (*models.Insight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+insightColumns+` FROM insights i WHERE i.id = ?`, id)
	ins, err := ScanInsight(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get insight", Err: err}
	}
	return ins, nil
}

// GetAllInsights lists insights newest-first, optionally restricted to one
// category. limit <= 0 means no limit.
func (s *Store) GetAllInsights(ctx context.Context, category string, limit, offset int) ([]models.Insight, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + insightColumns + ` FROM insights i`
	var args []any
	if category != "" {
		query += ` WHERE i.category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY i.created_at DESC, i.rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "list insights", Err: err}
	}
	defer rows.Close()

	insights, err := ScanInsights(rows)
	if err != nil {
		return nil, &models.StorageError{Op: "list insights", Err: err}
	}
	return insights, nil
}

// RaiseConfidence lifts an insight's confidence to at least confidence.
func (s *Store) RaiseConfidence(ctx context.Context, id string, confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return &models.ValidationError{Field: "confidence", Reason: "must be within [0, 1]"}
	}
	return s.withTx(ctx, "raise confidence", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE insights SET confidence = MAX(confidence, ?), updated_at = ?
			 WHERE id = ? AND confidence < ?`,
			confidence, s.timestamp(), id, confidence)
		if err != nil {
			return fmt.Errorf("update confidence: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("lookup insight: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("insight %s: %w", id, models.ErrNotFound)
		}
		return nil
	})
}

// ScanInsight maps one row selected with InsightColumns. Malformed JSON in
// the tags or metadata columns is an error.
func ScanInsight(row RowScanner) (*models.Insight, error) {
	var (
		ins            models.Insight
		video          sql.NullString
		rawTags, rawMD string
	)
	if err := row.Scan(&ins.ID, &ins.Title, &ins.Description, &ins.Category, &video,
		&ins.Confidence, &rawTags, &rawMD, &ins.CreatedAt, &ins.UpdatedAt); err != nil {
		return nil, err
	}
	ins.SourceVideoID = video.String

	var err error
	if ins.Tags, err = decodeTags(rawTags); err != nil {
		return nil, fmt.Errorf("insight %s: %w", ins.ID, err)
	}
	if ins.Metadata, err = decodeMetadata(rawMD); err != nil {
		return nil, fmt.Errorf("insight %s: %w", ins.ID, err)
	}
	return &ins, nil
}

// ScanInsights drains rows selected with InsightColumns.
func ScanInsights(rows *sql.Rows) ([]models.Insight, error) {
	var out []models.Insight
	for rows.Next() {
		ins, err := ScanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		out = append(out, *ins)
	}
	return out, rows.Err()
}
