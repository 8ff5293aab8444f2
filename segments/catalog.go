// Package segments implements the Segment Catalog (C2, spec.md section
// 4.6/3): the durable index of recorded MP4 segments, backed by GORM and
// Postgres like the teacher's camera store.
package segments

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"relaycore/models"
)

const defaultListLimit = 5000

// Catalog exclusively owns segment rows (spec.md section 3 Ownership);
// files on disk belong to the Recording Consumer until RecordSegment
// commits them, after which the Catalog is the sole writer of the index.
type Catalog struct {
	db *gorm.DB
}

// New wraps an already-migrated *gorm.DB.
func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// Migrate ensures the segments table exists with the columns spec.md
// section 6 requires.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Segment{})
}

// RecordSegment appends a closed segment row. Segment appends are
// monotonic in id (spec.md section 5).
func (c *Catalog) RecordSegment(ctx context.Context, seg models.Segment) error {
	if seg.EndTime.Before(seg.StartTime) {
		return fmt.Errorf("segments: end_time before start_time for stream %q", seg.Stream)
	}
	return c.db.WithContext(ctx).Create(&seg).Error
}

// List implements spec.md section 4.6's query: segments where
// end > start AND start < end, sorted by start ascending, truncated to
// limit (default 5000). A start > end window (clock skew) yields an empty
// result, not an error (spec.md section 8 boundary behaviors).
func (c *Catalog) List(ctx context.Context, stream string, start, end time.Time, limit int) ([]models.Segment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if !start.Before(end) {
		return nil, nil
	}

	var rows []models.Segment
	err := c.db.WithContext(ctx).
		Where("stream = ? AND end_time > ? AND start_time < ?", stream, start, end).
		Order("start_time ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Get fetches one segment by id, used by the Timeline Engine's playback
// endpoint.
func (c *Catalog) Get(ctx context.Context, id int64) (models.Segment, error) {
	var row models.Segment
	err := c.db.WithContext(ctx).First(&row, id).Error
	return row, err
}

// Delete removes a segment's file then its index row, in that order
// (spec.md section 3 invariant: "file-first, then row"), unless the
// segment is Protected.
func (c *Catalog) Delete(ctx context.Context, id int64) error {
	row, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if row.Protected {
		return fmt.Errorf("segments: cannot delete protected segment %d", id)
	}

	if err := os.Remove(row.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("segments: delete file: %w", err)
	}
	return c.db.WithContext(ctx).Delete(&models.Segment{}, id).Error
}

// EvictOlderThan removes every non-protected segment for stream whose
// EndTime precedes cutoff, implementing the max-age-days retention policy
// from spec.md section 3. It logs and continues past individual file
// errors (spec.md section 7 SegmentIoFailed: "never fatal").
func (c *Catalog) EvictOlderThan(ctx context.Context, stream string, cutoff time.Time) (evicted int, err error) {
	var rows []models.Segment
	if err := c.db.WithContext(ctx).
		Where("stream = ? AND protected = ? AND end_time < ?", stream, false, cutoff).
		Find(&rows).Error; err != nil {
		return 0, err
	}

	for _, row := range rows {
		if delErr := c.Delete(ctx, row.ID); delErr != nil {
			log.Warn().Int64("id", row.ID).Str("stream", stream).Err(delErr).Msg("segments: eviction failed for segment")
			continue
		}
		evicted++
	}
	return evicted, nil
}

// TotalStorageBytes sums Size across every segment for stream, used to
// enforce a per-stream MaxStorageMB cap.
func (c *Catalog) TotalStorageBytes(ctx context.Context, stream string) (int64, error) {
	var total int64
	err := c.db.WithContext(ctx).
		Model(&models.Segment{}).
		Where("stream = ?", stream).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	return total, err
}
