package handlers

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"relaycore/core"
	"relaycore/middleware"
)

// NewRouter builds the Gin engine exposing the HTTP surface of spec.md
// section 6, wired against c's subsystems.
func NewRouter(c *core.Core) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
	}))

	streamH := NewStreamHandler(c.Catalog, c.Recordings)
	timelineH := NewTimelineHandler(c.Timeline, c.Segments)
	webrtcH := NewWebRTCHandler(c.RelayClient)
	healthH := NewHealthHandler(c.RelayCtl)

	router.GET("/api/health", healthH.Check)

	api := router.Group("/api")
	api.Use(middleware.RequireAuth(c.Config.JWT.Secret))
	{
		api.GET("/streams", streamH.List)
		api.POST("/streams", streamH.Create)
		api.PUT("/streams/:name", streamH.Update)
		api.DELETE("/streams/:name", streamH.Delete)

		api.GET("/timeline/segments", timelineH.Segments)
		api.GET("/timeline/manifest", timelineH.Manifest)
		api.GET("/playback/continuous", timelineH.PlayContinuous)
		api.GET("/recordings/play/:id", timelineH.Play)

		api.POST("/webrtc", webrtcH.Offer)
		api.POST("/webrtc/ice", webrtcH.ICE)
	}

	return router
}
