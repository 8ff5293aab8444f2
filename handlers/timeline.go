package handlers

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"relaycore/segments"
	"relaycore/timeline"
)

// TimelineHandler serves the timeline/playback endpoints of spec.md
// section 6.
type TimelineHandler struct {
	engine   *timeline.Engine
	segments *segments.Catalog
}

// NewTimelineHandler builds a TimelineHandler.
func NewTimelineHandler(engine *timeline.Engine, segCatalog *segments.Catalog) *TimelineHandler {
	return &TimelineHandler{engine: engine, segments: segCatalog}
}

const defaultWindow = 24 * time.Hour

// parseTimeParam accepts YYYY-MM-DDTHH:MM:SS[.sss][Z] or a UNIX integer,
// per spec.md section 6. Gin already URL-decodes %3A before this runs.
func parseTimeParam(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	if unixSeconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unixSeconds, 0).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func parseWindow(c *gin.Context) (start, end time.Time) {
	now := time.Now().UTC()
	end = parseTimeParam(c.Query("end"), now)
	start = parseTimeParam(c.Query("start"), end.Add(-defaultWindow))
	return
}

// Segments handles GET /api/timeline/segments?stream&start&end.
func (h *TimelineHandler) Segments(c *gin.Context) {
	stream := c.Query("stream")
	start, end := parseWindow(c)

	rows, err := h.engine.ListSegments(c.Request.Context(), stream, start, end, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type segmentView struct {
		ID           int64  `json:"id"`
		Path         string `json:"path"`
		StartUnix    int64  `json:"start_unix"`
		EndUnix      int64  `json:"end_unix"`
		StartHuman   string `json:"start"`
		EndHuman     string `json:"end"`
		Size         int64  `json:"size"`
		HasDetection bool   `json:"has_detection"`
		Protected    bool   `json:"protected"`
	}
	views := make([]segmentView, 0, len(rows))
	for _, row := range rows {
		views = append(views, segmentView{
			ID: row.ID, Path: row.Path,
			StartUnix: row.StartTime.Unix(), EndUnix: row.EndTime.Unix(),
			StartHuman: row.StartTime.Format(time.RFC3339), EndHuman: row.EndTime.Format(time.RFC3339),
			Size: row.Size, HasDetection: row.HasDetection, Protected: row.Protected,
		})
	}
	c.JSON(http.StatusOK, gin.H{"segments": views})
}

// Manifest handles GET /api/timeline/manifest?stream&start&end.
func (h *TimelineHandler) Manifest(c *gin.Context) {
	stream := c.Query("stream")
	start, end := parseWindow(c)

	path, err := h.engine.BuildManifest(c.Request.Context(), stream, start, end)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	defer os.Remove(path)

	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.File(path)
}

// PlayContinuous handles GET /api/playback/continuous?stream&start.
func (h *TimelineHandler) PlayContinuous(c *gin.Context) {
	stream := c.Query("stream")
	start := parseTimeParam(c.Query("start"), time.Now().UTC().Add(-defaultWindow))

	c.Header("Content-Type", "video/mp4")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if err := h.engine.PlayContinuous(c.Request.Context(), c.Writer, stream, start); err != nil {
		// Headers are already flushed; nothing more we can do but log via
		// gin's own error collector so middleware can record it.
		c.Error(err)
	}
}

// Play handles GET /api/recordings/play/{id}, serving one segment file
// directly — the unit the HLS manifest's URLs point at.
func (h *TimelineHandler) Play(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid segment id"})
		return
	}
	seg, err := h.segments.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "segment not found"})
		return
	}
	c.File(seg.Path)
}
