package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubServer wraps httptest.Server to track upgraded WebSocket
// connections: httptest forgets conns once they are hijacked, so its own
// CloseClientConnections never reaches them.
type stubServer struct {
	*httptest.Server

	mu    sync.Mutex
	conns []net.Conn
}

// CloseClientConnections closes the upgraded WebSocket connections,
// shadowing httptest's version, which skips hijacked conns.
func (s *stubServer) CloseClientConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

// consoleStub emulates the console's WebSocket endpoint: it answers auth
// and set requests and pushes one update notification after every set.
func consoleStub(t *testing.T, token string) *stubServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := &stubServer{}

	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ws" {
			http.NotFound(w, r)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		srv.mu.Lock()
		srv.conns = append(srv.conns, c.UnderlyingConn())
		srv.mu.Unlock()

		for {
			var req map[string]any
			if err := c.ReadJSON(&req); err != nil {
				return
			}

			switch req["method"] {
			case "auth":
				ok := req["token"] == token
				_ = c.WriteJSON(map[string]any{"method": "auth", "success": ok})
				if !ok {
					return
				}
			case "set":
				_ = c.WriteJSON(map[string]any{
					"msgID":   req["msgID"],
					"method":  "set",
					"path":    req["path"],
					"payload": req["payload"],
					"success": true,
				})
				_ = c.WriteJSON(map[string]any{
					"method":  "update",
					"payload": map[string]any{"ch": map[string]any{"1": map[string]any{"mute": req["payload"]}}},
					"success": true,
				})
			case "subscribe":
				_ = c.WriteJSON(map[string]any{
					"msgID":   req["msgID"],
					"method":  "subscribe",
					"success": true,
				})
			}
		}
	}))
	return srv
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	srv := consoleStub(t, "secret")
	defer srv.Close()

	dialer := &WebSocketDialer{Token: "secret"}
	conn, err := dialer.Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := conn.Request(ctx, NewSetRequest("ch.1.mute", true))
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Equal(t, true, reply.Payload)

	// The update notification is flattened into a per-path update.
	select {
	case u := <-conn.Updates():
		assert.Equal(t, "ch.1.mute", u.Path)
		assert.Equal(t, true, u.Value)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestWebSocketDialerRejectsBadToken(t *testing.T) {
	srv := consoleStub(t, "secret")
	defer srv.Close()

	dialer := &WebSocketDialer{Token: "wrong"}
	_, err := dialer.Dial(context.Background(), srv.URL)

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConnectRejected, ce.Kind)
}

func TestWebSocketDialerUnreachable(t *testing.T) {
	dialer := &WebSocketDialer{}
	_, err := dialer.Dial(context.Background(), "http://127.0.0.1:1")

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConnectUnreachable, ce.Kind)
}

func TestWebSocketConnSignalsLossThroughUpdates(t *testing.T) {
	srv := consoleStub(t, "")
	dialer := &WebSocketDialer{}
	conn, err := dialer.Dial(context.Background(), srv.URL)
	require.NoError(t, err)

	srv.CloseClientConnections()

	select {
	case _, ok := <-conn.Updates():
		assert.False(t, ok, "updates channel should close on connection loss")
	case <-time.After(2 * time.Second):
		t.Fatal("updates channel did not close")
	}
	srv.Close()
}
