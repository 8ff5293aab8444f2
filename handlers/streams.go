// Package handlers implements the core's HTTP surface (spec.md section 6),
// in the teacher's Gin handler style.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"relaycore/catalog"
	"relaycore/config"
	"relaycore/models"
)

// ConsumerStopper is the narrow view of the Recording Registry the
// StreamHandler needs: just enough to stop a stream's consumer on delete,
// kept as its own interface so tests can inject a fake without a full
// Registry.
type ConsumerStopper interface {
	Stop(name string) error
}

// StreamHandler serves /api/streams.
type StreamHandler struct {
	cat        *catalog.Catalog
	recordings ConsumerStopper
}

// NewStreamHandler builds a StreamHandler bound to cat, stopping the
// matching Recording Consumer through recordings on delete (spec.md section
// 6: DELETE "unregisters and stops consumers").
func NewStreamHandler(cat *catalog.Catalog, recordings ConsumerStopper) *StreamHandler {
	return &StreamHandler{cat: cat, recordings: recordings}
}

type streamView struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Enabled     bool   `json:"enabled"`
	Backchannel bool   `json:"backchannel"`
	State       string `json:"state"`
	LastKnownGood int64 `json:"last_known_good,omitempty"`
}

// List handles GET /api/streams (spec.md section 6).
func (h *StreamHandler) List(c *gin.Context) {
	names := h.cat.Names()
	views := make([]streamView, 0, len(names))
	for _, name := range names {
		st, err := h.cat.StreamConfig(name)
		if err != nil {
			continue
		}
		view := streamView{Name: st.Name, URL: st.URL, Enabled: st.Enabled, Backchannel: st.Backchannel}
		if rt, ok := h.cat.Runtime(name); ok {
			view.State = string(rt.State())
			if lkg := rt.LastKnownGood(); !lkg.IsZero() {
				view.LastKnownGood = lkg.Unix()
			}
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"streams": views})
}

type createStreamRequest struct {
	Name        string           `json:"name" binding:"required"`
	URL         string           `json:"url" binding:"required"`
	ONVIFUser   string           `json:"onvif_user"`
	ONVIFPass   string           `json:"onvif_pass"`
	Enabled     bool             `json:"enabled"`
	Backchannel bool             `json:"backchannel"`
	Retention   models.Retention `json:"retention"`
	PTZEnabled  bool             `json:"ptz_enabled"`
	PTZLimits   models.PTZLimits `json:"ptz_limits"`
}

// Create handles POST /api/streams.
func (h *StreamHandler) Create(c *gin.Context) {
	var req createStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := models.ValidateName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st := models.Stream{
		Name:        req.Name,
		URL:         req.URL,
		ONVIFUser:   req.ONVIFUser,
		ONVIFPass:   req.ONVIFPass,
		Enabled:     req.Enabled,
		Backchannel: req.Backchannel,
		Retention:   req.Retention,
		PTZEnabled:  req.PTZEnabled,
		PTZLimits:   req.PTZLimits,
	}

	if err := h.cat.Add(c.Request.Context(), st); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrConflict) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": st.Name})
}

type updateStreamRequest struct {
	URL         *string `json:"url"`
	ONVIFUser   *string `json:"onvif_user"`
	ONVIFPass   *string `json:"onvif_pass"`
	Enabled     *bool   `json:"enabled"`
	Backchannel *bool   `json:"backchannel"`
}

// Update handles PUT /api/streams/{name} (spec.md section 6: "triggers
// reconciliation with Relay").
func (h *StreamHandler) Update(c *gin.Context) {
	name := c.Param("name")
	var req updateStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.cat.Update(c.Request.Context(), name, func(st models.Stream) models.Stream {
		if req.URL != nil {
			st.URL = *req.URL
		}
		if req.ONVIFUser != nil {
			st.ONVIFUser = *req.ONVIFUser
		}
		if req.ONVIFPass != nil {
			st.ONVIFPass = *req.ONVIFPass
		}
		if req.Enabled != nil {
			st.Enabled = *req.Enabled
		}
		if req.Backchannel != nil {
			st.Backchannel = *req.Backchannel
		}
		return st
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name})
}

// Delete handles DELETE /api/streams/{name}: stops the stream's Recording
// Consumer before dropping the catalog/Relay registration, so no muxer is
// left appending segments for a stream that no longer exists (spec.md
// section 6).
func (h *StreamHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if h.recordings != nil {
		if err := h.recordings.Stop(name); err != nil {
			log.Warn().Str("stream", name).Err(err).Msg("handlers: consumer stop on delete failed")
		}
	}
	if err := h.cat.Delete(c.Request.Context(), name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
