package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"relaycore/relay"
)

// HealthHandler serves GET /api/health: 200 iff core subsystems are
// healthy (spec.md section 6).
type HealthHandler struct {
	controller *relay.Controller
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(controller *relay.Controller) *HealthHandler {
	return &HealthHandler{controller: controller}
}

func (h *HealthHandler) Check(c *gin.Context) {
	if !h.controller.IsReady(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "relay_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
