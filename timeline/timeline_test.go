package timeline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"relaycore/models"
	"relaycore/segments"
)

func newTestEngine(t *testing.T) (*Engine, *segments.Catalog) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, segments.Migrate(db))
	cat := segments.New(db)
	return New(cat, t.TempDir()), cat
}

func writeFakeSegmentFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "segment-*.mp4")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write([]byte("fake mp4 bytes"))
	require.NoError(t, err)
	return f.Name()
}

func TestRenderManifestInsertsDiscontinuityOnGap(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.Segment{
		{ID: 1, StartTime: base, EndTime: base.Add(60 * time.Second)},
		// gap of 5s before this segment starts - exceeds the 1s threshold.
		{ID: 2, StartTime: base.Add(65 * time.Second), EndTime: base.Add(125 * time.Second)},
	}

	manifest := renderManifest(rows)

	assert.Contains(t, manifest, "#EXT-X-DISCONTINUITY")
	assert.Contains(t, manifest, "#EXT-X-ENDLIST")
	assert.Contains(t, manifest, "/api/recordings/play/1")
	assert.Contains(t, manifest, "/api/recordings/play/2")
}

func TestRenderManifestNoDiscontinuityForContiguousSegments(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.Segment{
		{ID: 1, StartTime: base, EndTime: base.Add(60 * time.Second)},
		{ID: 2, StartTime: base.Add(60 * time.Second), EndTime: base.Add(120 * time.Second)},
	}

	manifest := renderManifest(rows)
	assert.NotContains(t, manifest, "#EXT-X-DISCONTINUITY")
}

func TestRenderManifestOmitsZeroDurationSegments(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.Segment{
		{ID: 1, StartTime: base, EndTime: base}, // malformed, zero duration
		{ID: 2, StartTime: base, EndTime: base.Add(60 * time.Second)},
	}

	manifest := renderManifest(rows)
	assert.NotContains(t, manifest, "/api/recordings/play/1")
	assert.Contains(t, manifest, "/api/recordings/play/2")
}

func TestBuildManifestWritesFileAndReturnsPath(t *testing.T) {
	engine, cat := newTestEngine(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, cat.RecordSegment(context.Background(), models.Segment{
		Stream: "cam1", Path: writeFakeSegmentFile(t), StartTime: base, EndTime: base.Add(60 * time.Second), Size: 10,
	}))

	path, err := engine.BuildManifest(context.Background(), "cam1", base.Add(-time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	defer os.Remove(path)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "#EXTM3U")
}

func TestBuildManifestErrorsWhenNoSegments(t *testing.T) {
	engine, _ := newTestEngine(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := engine.BuildManifest(context.Background(), "cam1", base, base.Add(time.Hour))
	assert.Error(t, err)
}
