package main

import (
	"callbridge/internal/httpapi"
	"callbridge/internal/stream"
	"callbridge/internal/webhook"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	authMW   gin.HandlerFunc
	api      httpapi.Handlers
	webhooks webhook.Handler
	media    *stream.MediaHandler
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider callbacks (public). The webhook endpoint acknowledges
	// everything with 200; the media endpoint upgrades to a WebSocket the
	// provider dials back for each forked leg.
	// NOTE: webhook signature validation belongs here before production traffic.
	r.POST("/v1/telnyx/webhook", deps.webhooks.HandleWebhook)
	r.GET("/v1/telnyx/media/:call_control_id", deps.media.HandleMedia)

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", deps.api.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		callGroup := v1.Group("/calls")
		{
			callGroup.POST("", deps.api.InitiateCall)
			callGroup.POST("/preload", deps.api.PreloadAudio)
			callGroup.POST("/:conference_name/play", deps.api.PlayVoiceLine)
			callGroup.POST("/:conference_name/stop", deps.api.StopPlayback)
			callGroup.POST("/:conference_name/hangup", deps.api.HangupConference)
			callGroup.GET("/history", deps.api.CallHistory)
		}

		v1.GET("/webrtc/token", deps.api.RealtimeToken)
	}
}
