// Package timeline implements the Timeline Engine (C8, spec.md section
// 4.6): segment lookup by time range, HLS-style manifest construction, and
// continuous MP4 assembly over a subprocess pipe.
package timeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"relaycore/models"
	"relaycore/segments"
)

const (
	discontinuityThreshold = 1 * time.Second
	maxContinuousWindow    = 24 * time.Hour
)

// Engine wraps the Segment Catalog with the query/manifest/playback
// operations from spec.md section 4.6.
type Engine struct {
	segCatalog *segments.Catalog
	scratchDir string
}

// New builds an Engine writing scratch manifests under scratchDir.
func New(segCatalog *segments.Catalog, scratchDir string) *Engine {
	return &Engine{segCatalog: segCatalog, scratchDir: scratchDir}
}

// ListSegments is a thin pass-through to the Segment Catalog's overlap
// query, the shape the `/api/timeline/segments` endpoint serves directly.
func (e *Engine) ListSegments(ctx context.Context, stream string, start, end time.Time, limit int) ([]models.Segment, error) {
	return e.segCatalog.List(ctx, stream, start, end, limit)
}

// BuildManifest writes an HLS-style M3U8 to a uniquely-named file in the
// scratch directory and returns its path. Per spec.md section 4.6, the
// caller is expected to delete it after serving.
func (e *Engine) BuildManifest(ctx context.Context, stream string, start, end time.Time) (string, error) {
	rows, err := e.segCatalog.List(ctx, stream, start, end, 0)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("timeline: no segments for %q in requested window", stream)
	}

	manifest := renderManifest(rows)

	if err := os.MkdirAll(e.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("timeline: create scratch dir: %w", err)
	}
	path := filepath.Join(e.scratchDir, fmt.Sprintf("manifest-%s.m3u8", uuid.NewString()))
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		return "", fmt.Errorf("timeline: write manifest: %w", err)
	}
	return path, nil
}

// renderManifest implements spec.md section 4.6: version 3, media-sequence
// 0, allow-cache yes, one #EXTINF per non-zero-duration segment,
// #EXT-X-DISCONTINUITY inserted when the gap to the previous segment
// exceeds 1.0s, terminated with #EXT-X-ENDLIST. A segment with
// end == start has zero duration and is omitted (cannot emit EXTINF:0).
func renderManifest(rows []models.Segment) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-ALLOW-CACHE:YES\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	var prevEnd time.Time
	haveEmitted := false
	for _, seg := range rows {
		dur := seg.Duration()
		if dur <= 0 {
			continue
		}
		if haveEmitted && seg.StartTime.Sub(prevEnd) > discontinuityThreshold {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", dur.Seconds())
		fmt.Fprintf(&b, "/api/recordings/play/%d\n", seg.ID)
		prevEnd = seg.EndTime
		haveEmitted = true
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}
