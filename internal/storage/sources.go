package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wagnerlima/memory-cloud/insight-kb/internal/models"
)

// StoreSource upserts a source by video_id and returns its id, which is the
// pre-existing one when the video was already known.
func (s *Store) StoreSource(ctx context.Context, src models.Source) (string, error) {
	if err := src.Validate(); err != nil {
		return "", err
	}
	md, err := encodeMetadata(src.Metadata)
	if err != nil {
		return "", &models.ValidationError{Field: "metadata", Reason: err.Error()}
	}

	var id string
	now := s.timestamp()
	err = s.withTx(ctx, "store source", func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO sources (id, video_id, title, channel, upload_date, views, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(video_id) DO UPDATE SET
			     title = excluded.title,
			     channel = excluded.channel,
			     upload_date = excluded.upload_date,
			     views = excluded.views,
			     metadata = excluded.metadata,
			     updated_at = excluded.updated_at
			 RETURNING id`,
			s.newID(), src.VideoID, src.Title, src.Channel, src.UploadDate, src.Views, md, now, now,
		).Scan(&id)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetSource loads a source by its video id. A missing video yields (nil, nil).
func (s *Store) GetSource(ctx context.Context, videoID string) (*models.Source, error) {
	var (
		src   models.Source
		rawMD string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, video_id, title, channel, upload_date, views, metadata, created_at, updated_at
		 FROM sources WHERE video_id = ?`, videoID,
	).Scan(&src.ID, &src.VideoID, &src.Title, &src.Channel, &src.UploadDate, &src.Views,
		&rawMD, &src.CreatedAt, &src.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get source", Err: err}
	}
	if src.Metadata, err = decodeMetadata(rawMD); err != nil {
		return nil, &models.StorageError{Op: "get source", Err: fmt.Errorf("source %s: %w", src.VideoID, err)}
	}
	return &src, nil
}
