package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
)

// Occurrence ties an insight (resolved to its merge primary) to a source video.
type Occurrence struct {
	InsightID string
	VideoID   string
}

// AddRelationship upserts the (source, target, type) edge; re-adding an
// existing edge replaces its strength and keeps its id.
func (s *Store) AddRelationship(ctx context.Context, sourceID, targetID string, relType models.RelationshipType, strength float64) (string, error) {
	if err := models.ValidateRelationship(sourceID, targetID, relType, strength); err != nil {
		return "", err
	}

	var id string
	err := s.withTx(ctx, "add relationship", func(tx *sql.Tx) error {
		if err := requireInsights(ctx, tx, sourceID, targetID); err != nil {
			return err
		}
		var err error
		id, err = upsertRelationship(ctx, tx, s.newID(), sourceID, targetID, relType, strength, s.timestamp())
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetRelationships lists the edges touching insightID on the requested side.
func (s *Store) GetRelationships(ctx context.Context, insightID string, dir models.Direction) ([]models.Relationship, error) {
	var where string
	var args []any
	switch dir {
	case models.DirectionSource:
		where, args = `source_id = ?`, []any{insightID}
	case models.DirectionTarget:
		where, args = `target_id = ?`, []any{insightID}
	case models.DirectionBoth, "":
		where, args = `source_id = ? OR target_id = ?`, []any{insightID, insightID}
	default:
		return nil, &models.ValidationError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q", dir)}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, target_id, relationship_type, strength, created_at
		 FROM relationships WHERE `+where+` ORDER BY strength DESC, created_at`, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "list relationships", Err: err}
	}
	defer rows.Close()

	var rels []models.Relationship
	for rows.Next() {
		var r models.Relationship
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.RelationshipType, &r.Strength, &r.CreatedAt); err != nil {
			return nil, &models.StorageError{Op: "scan relationship", Err: err}
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list relationships", Err: err}
	}
	return rels, nil
}

// MergeInsight folds duplicateID into primaryID in one transaction: tags are
// unioned, confidence raised to the max, journal entries and relationships
// re-pointed to the primary, and a duplicate→primary edge of strength 1.0 recorded.
func (s *Store) MergeInsight(ctx context.Context, primaryID, duplicateID string) error {
	if primaryID == duplicateID {
		return &models.ValidationError{Field: "duplicate_id", Reason: "must differ from primary_id"}
	}
	return s.withTx(ctx, "merge insight", func(tx *sql.Tx) error {
		primary, err := loadInsightTx(ctx, tx, primaryID)
		if err != nil {
			return err
		}
		dup, err := loadInsightTx(ctx, tx, duplicateID)
		if err != nil {
			return err
		}

		tags, err := encodeTags(models.UnionTags(primary.Tags, dup.Tags))
		if err != nil {
			return err
		}
		confidence := primary.Confidence
		if dup.Confidence > confidence {
			confidence = dup.Confidence
		}
		now := s.timestamp()
		if _, err := tx.ExecContext(ctx,
			`UPDATE insights SET tags = ?, confidence = ?, updated_at = ? WHERE id = ?`,
			tags, confidence, now, primaryID); err != nil {
			return fmt.Errorf("update primary: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE journal_entries SET insight_id = ? WHERE insight_id = ?`,
			primaryID, duplicateID); err != nil {
			return fmt.Errorf("reassign journal entries: %w", err)
		}

		// Edges between the pair would become self-loops once re-pointed.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relationships
			 WHERE (source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?)`,
			duplicateID, primaryID, primaryID, duplicateID); err != nil {
			return fmt.Errorf("drop pair edges: %w", err)
		}
		// OR IGNORE skips rows whose re-pointed triple already exists on the
		// primary; the leftovers are removed below.
		if _, err := tx.ExecContext(ctx,
			`UPDATE OR IGNORE relationships SET source_id = ? WHERE source_id = ?`,
			primaryID, duplicateID); err != nil {
			return fmt.Errorf("reassign outgoing edges: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE OR IGNORE relationships SET target_id = ? WHERE target_id = ?`,
			primaryID, duplicateID); err != nil {
			return fmt.Errorf("reassign incoming edges: %w", err)
		}
		// A leftover edge lends its strength to the primary's matching edge.
		if _, err := tx.ExecContext(ctx,
			`UPDATE relationships AS p SET strength = MAX(p.strength, d.strength)
			 FROM relationships AS d
			 WHERE d.source_id = ? AND p.source_id = ?
			   AND p.target_id = d.target_id AND p.relationship_type = d.relationship_type`,
			duplicateID, primaryID); err != nil {
			return fmt.Errorf("merge outgoing strengths: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE relationships AS p SET strength = MAX(p.strength, d.strength)
			 FROM relationships AS d
			 WHERE d.target_id = ? AND p.target_id = ?
			   AND p.source_id = d.source_id AND p.relationship_type = d.relationship_type`,
			duplicateID, primaryID); err != nil {
			return fmt.Errorf("merge incoming strengths: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relationships WHERE source_id = ? OR target_id = ?`,
			duplicateID, duplicateID); err != nil {
			return fmt.Errorf("drop conflicting edges: %w", err)
		}

		_, err = upsertRelationship(ctx, tx, s.newID(), duplicateID, primaryID, models.RelDuplicate, 1.0, now)
		return err
	})
}

// Occurrences lists every (insight, video) pair, resolving merged duplicates
// to their primary so that a primary occurs in each of its duplicates' videos.
func (s *Store) Occurrences(ctx context.Context) ([]Occurrence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(r.target_id, i.id), i.source_video_id
		 FROM insights i
		 LEFT JOIN relationships r ON r.source_id = i.id AND r.relationship_type = 'duplicate'
		 WHERE i.source_video_id IS NOT NULL AND i.source_video_id != ''`)
	if err != nil {
		return nil, &models.StorageError{Op: "list occurrences", Err: err}
	}
	defer rows.Close()

	var out []Occurrence
	for rows.Next() {
		var o Occurrence
		if err := rows.Scan(&o.InsightID, &o.VideoID); err != nil {
			return nil, &models.StorageError{Op: "scan occurrence", Err: err}
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list occurrences", Err: err}
	}
	return out, nil
}

// RelationshipIssues scans every edge and reports those whose source or
// target no longer resolves to an insight.
func (s *Store) RelationshipIssues(ctx context.Context) (*models.IntegrityReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.source_id, r.target_id, src.id IS NULL, tgt.id IS NULL
		 FROM relationships r
		 LEFT JOIN insights src ON src.id = r.source_id
		 LEFT JOIN insights tgt ON tgt.id = r.target_id
		 ORDER BY r.created_at`)
	if err != nil {
		return nil, &models.StorageError{Op: "validate relationships", Err: err}
	}
	defer rows.Close()

	report := &models.IntegrityReport{Issues: []models.IntegrityIssue{}}
	for rows.Next() {
		var (
			issue                     models.IntegrityIssue
			missingSource, missingTgt bool
		)
		if err := rows.Scan(&issue.RelationshipID, &issue.SourceID, &issue.TargetID, &missingSource, &missingTgt); err != nil {
			return nil, &models.StorageError{Op: "scan relationship", Err: err}
		}
		report.Total++
		switch {
		case missingSource && missingTgt:
			issue.Problem = "source and target insights do not exist"
		case missingSource:
			issue.Problem = "source insight does not exist"
		case missingTgt:
			issue.Problem = "target insight does not exist"
		default:
			report.Valid++
			continue
		}
		report.Invalid++
		report.Issues = append(report.Issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "validate relationships", Err: err}
	}
	return report, nil
}

func upsertRelationship(ctx context.Context, tx *sql.Tx, newID, sourceID, targetID string, relType models.RelationshipType, strength float64, now string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		`INSERT INTO relationships (id, source_id, target_id, relationship_type, strength, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id, relationship_type) DO UPDATE SET strength = excluded.strength
		 RETURNING id`,
		newID, sourceID, targetID, string(relType), strength, now,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert relationship %s->%s (%s): %w", sourceID, targetID, relType, err)
	}
	return id, nil
}

func requireInsights(ctx context.Context, tx *sql.Tx, ids ...string) error {
	for _, id := range ids {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights WHERE id = ?`, id).Scan(&n); err != nil {
			return fmt.Errorf("lookup insight: %w", err)
		}
		if n == 0 {
			return &models.ValidationError{Field: "insight_id", Reason: fmt.Sprintf("%s does not reference an existing insight", id)}
		}
	}
	return nil
}

func loadInsightTx(ctx context.Context, tx *sql.Tx, id string) (*models.Insight, error) {
	ins, err := ScanInsight(tx.QueryRowContext(ctx,
		`SELECT `+insightColumns+` FROM insights i WHERE i.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("insight %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return ins, nil
}
