package models

import "time"

// Segment is one recorded MP4 fragment (spec.md section 3). The Segment
// Catalog (C2) exclusively owns rows of this shape; the Recording Consumer
// owns the underlying file until it closes the segment.
type Segment struct {
	ID                     int64     `gorm:"primaryKey;autoIncrement"`
	Stream                 string    `gorm:"index;not null"`
	Path                   string    `gorm:"not null"`
	StartTime              time.Time `gorm:"index;not null"`
	EndTime                time.Time `gorm:"index;not null"`
	Size                   int64     `gorm:"not null"`
	HasDetection           bool      `gorm:"not null;default:false"`
	Protected              bool      `gorm:"not null;default:false"`
	RetentionOverrideDays  *int
}

func (Segment) TableName() string { return "segments" }

// Duration is the segment's wall-clock length, zero for malformed
// (end == start) rows per spec.md section 8 boundary behavior.
func (s Segment) Duration() time.Duration {
	if s.EndTime.Before(s.StartTime) {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// OverlapsWindow reports whether the segment satisfies the list() predicate
// of spec.md section 4.6: end > start AND start < end, using the window's
// [start, end) bounds.
func (s Segment) OverlapsWindow(start, end time.Time) bool {
	return s.EndTime.After(start) && s.StartTime.Before(end)
}
