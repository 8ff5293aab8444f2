package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSegmentDuration(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s := Segment{StartTime: base, EndTime: base.Add(60 * time.Second)}
	assert.Equal(t, 60*time.Second, s.Duration())

	malformed := Segment{StartTime: base, EndTime: base.Add(-time.Second)}
	assert.Equal(t, time.Duration(0), malformed.Duration())

	zero := Segment{StartTime: base, EndTime: base}
	assert.Equal(t, time.Duration(0), zero.Duration())
}

func TestSegmentOverlapsWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	seg := Segment{StartTime: base, EndTime: base.Add(10 * time.Second)} // [10,20)

	assert.True(t, seg.OverlapsWindow(base.Add(-5*time.Second), base.Add(5*time.Second)))
	assert.True(t, seg.OverlapsWindow(base, base.Add(10*time.Second)))
	assert.False(t, seg.OverlapsWindow(base.Add(10*time.Second), base.Add(20*time.Second)))
	assert.False(t, seg.OverlapsWindow(base.Add(-20*time.Second), base.Add(-10*time.Second)))
}
