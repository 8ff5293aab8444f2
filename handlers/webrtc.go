package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"relaycore/relay"
)

// WebRTCHandler proxies SDP offer/answer and trickled ICE to the Relay
// (spec.md section 4.2/6); it never terminates WebRTC itself.
type WebRTCHandler struct {
	client *relay.Client
}

// NewWebRTCHandler builds a WebRTCHandler.
func NewWebRTCHandler(client *relay.Client) *WebRTCHandler {
	return &WebRTCHandler{client: client}
}

// Offer handles POST /api/webrtc?src={name}.
func (h *WebRTCHandler) Offer(c *gin.Context) {
	name := c.Query("src")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing src"})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read offer body"})
		return
	}

	answer, err := h.client.ProxyWebRTCOffer(c.Request.Context(), name, string(body))
	if err != nil {
		writeRelayError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/sdp", []byte(answer))
}

// ICE handles POST /api/webrtc/ice?src={name}.
func (h *WebRTCHandler) ICE(c *gin.Context) {
	name := c.Query("src")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing src"})
		return
	}
	var candidate json.RawMessage
	if err := c.ShouldBindJSON(&candidate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.client.ProxyWebRTCICE(c.Request.Context(), name, candidate); err != nil {
		writeRelayError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeRelayError maps the Relay API Client's sentinel error kinds to HTTP
// status codes per spec.md section 7.
func writeRelayError(c *gin.Context, err error) {
	var notFound *relay.NotFoundError
	var notReady *relay.NotReadyError
	var httpErr *relay.HTTPStatusError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &notReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &httpErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
