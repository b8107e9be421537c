package stream

import (
	"errors"
	"net/http"
	"sync"

	"callbridge/internal/session"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// wsSocket serializes writes to one fork connection. gorilla/websocket
// permits a single concurrent writer, while the streamer may broadcast from
// several playbacks over the socket's lifetime.
type wsSocket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSocket) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// forkEvent is the inbound control frame on a media fork connection.
type forkEvent struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequence_number"`
}

// MediaHandler terminates provider media fork connections. The provider dials
// the stream URL embedded at fork time; the socket then carries call audio in
// and accepts injected frames out.
type MediaHandler struct {
	Sessions session.Store
	Sockets  *session.SocketRegistry
	Upgrader websocket.Upgrader
}

func (h *MediaHandler) HandleMedia(c *gin.Context) {
	log := logger.FromGin(c)
	ccid := c.Param("call_control_id")

	// The fork URL names a leg we created; anything else is noise.
	if _, err := h.Sessions.Get(c.Request.Context(), ccid); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown call leg"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media socket upgrade failed", "call_control_id", ccid, "err", err)
		return
	}
	defer conn.Close()

	sock := &wsSocket{conn: conn}
	h.Sockets.Add(ccid, sock)
	defer h.Sockets.Remove(ccid, sock)
	log.Info("media fork connected", "call_control_id", ccid)

	for {
		var ev forkEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("media fork read ended", "call_control_id", ccid, "err", err)
			}
			return
		}
		switch ev.Event {
		case "connected", "start":
			log.Debug("media fork event", "call_control_id", ccid, "event", ev.Event)
		case "stop", "streaming_stopped":
			log.Info("media fork stopped by provider", "call_control_id", ccid)
			return
		case "media":
			// Inbound call audio. Nothing consumes it yet; draining keeps the
			// socket healthy for outbound injection.
		}
	}
}
