package webhook

import (
	"net/http"

	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler exposes the provider webhook endpoint.
//
// The provider retries non-2xx deliveries aggressively, so the handler
// always acknowledges 200: processing failures are logged and isolated per
// event, never surfaced to the provider.
type Handler struct {
	Router *Router
}

func (h Handler) HandleWebhook(c *gin.Context) {
	log := logger.FromGin(c)

	var env Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		log.Warn("webhook payload unparseable", "err", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.Router.HandleEvent(c.Request.Context(), env.Data); err != nil {
		log.Error("webhook processing failed",
			"event_type", env.Data.EventType,
			"call_control_id", env.Data.Payload.CallControlID,
			"err", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
