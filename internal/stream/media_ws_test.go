package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callbridge/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func mediaTestServer(t *testing.T) (*httptest.Server, *session.MemoryStore, *session.SocketRegistry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := session.NewMemoryStore()
	sockets := session.NewSocketRegistry()
	h := &MediaHandler{Sessions: store, Sockets: sockets}

	r := gin.New()
	r.GET("/v1/telnyx/media/:call_control_id", h.HandleMedia)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store, sockets
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func waitForSockets(t *testing.T, reg *session.SocketRegistry, ccid string, want int) []session.MediaSocket {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conns := reg.Conns(ccid); len(conns) == want {
			return conns
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket count for %s never reached %d", ccid, want)
	return nil
}

func TestMediaSocketLifecycle(t *testing.T) {
	srv, store, sockets := mediaTestServer(t)
	err := store.Put(context.Background(), session.Session{
		CallControlID:  "cc-1",
		UserID:         "u1",
		ConferenceName: "conf",
		State:          session.StateStreaming,
	}, time.Hour)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/telnyx/media/cc-1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conns := waitForSockets(t, sockets, "cc-1", 1)

	// Frames written through the registry must reach the provider side.
	if err := conns[0].WriteJSON(mediaMessage{Event: "media", Media: mediaPayload{Payload: "AAAA"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got mediaMessage
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Event != "media" || got.Media.Payload != "AAAA" {
		t.Fatalf("unexpected frame %+v", got)
	}

	// A provider stop event tears the socket down and deregisters it.
	if err := conn.WriteJSON(forkEvent{Event: "stop"}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	waitForSockets(t, sockets, "cc-1", 0)
}

func TestMediaSocketRejectsUnknownLeg(t *testing.T) {
	srv, _, _ := mediaTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/telnyx/media/cc-missing"), nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown leg")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake rejection, got %+v", resp)
	}
}
