package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/auth"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/room"
)

func newTestServer(t *testing.T, origins []string) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := room.NewRegistry(room.Options{RouterEnabled: true})
	hub := NewHub(registry, auth.PermissiveHook{}, nil, origins)

	r := gin.New()
	r.GET("/ws", hub.ServeWs)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func mustDial(t *testing.T, srv *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	conn, _, err := dial(t, srv, origin)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// awaitType reads frames until one of the wanted type arrives.
func awaitType(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", msgType)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame["type"] == msgType {
			return frame
		}
		require.True(t, time.Now().Before(deadline), "never saw %q", msgType)
	}
}

func TestUpgradeAndRoundTrip(t *testing.T) {
	srv, hub := newTestServer(t, []string{"*"})
	conn := mustDial(t, srv, "http://localhost:3000")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	sendJSON(t, conn, map[string]any{"type": "ping", "ts": float64(777), "msgId": "m1"})

	pong := awaitType(t, conn, "pong")
	assert.Equal(t, float64(777), pong["ts"])

	ack := awaitType(t, conn, "ack")
	assert.Equal(t, "m1", ack["for"])
}

func TestJoinOverRealSocket(t *testing.T) {
	srv, _ := newTestServer(t, []string{"*"})
	conn := mustDial(t, srv, "")

	sendJSON(t, conn, map[string]any{"type": "join_stream", "streamId": "s1", "userId": "alice"})

	confirmed := awaitType(t, conn, "join_confirmed")
	assert.Equal(t, "host", confirmed["role"])
	assert.NotEmpty(t, confirmed["sessionToken"])
}

func TestOriginRejected(t *testing.T) {
	srv, hub := newTestServer(t, []string{"https://app.example"})

	_, resp, err := dial(t, srv, "https://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.ClientCount())
}

func TestAllowedOriginAccepted(t *testing.T) {
	srv, _ := newTestServer(t, []string{"https://app.example"})

	conn, _, err := dial(t, srv, "https://app.example")
	require.NoError(t, err)
	conn.Close()
}

func TestMissingOriginAccepted(t *testing.T) {
	// Non-browser clients send no Origin header and are admitted.
	srv, _ := newTestServer(t, []string{"https://app.example"})

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	conn.Close()
}

func TestBinaryFramesRejected(t *testing.T) {
	srv, _ := newTestServer(t, []string{"*"})
	conn := mustDial(t, srv, "")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))

	errFrame := awaitType(t, conn, "error")
	assert.Equal(t, "invalid_request", errFrame["code"])
}

func TestOversizedFrameGetsProtocolError(t *testing.T) {
	// Past 64KiB but under the transport read cap: the peer gets a
	// payload_too_large error and the connection stays open.
	srv, _ := newTestServer(t, []string{"*"})
	conn := mustDial(t, srv, "")

	sendJSON(t, conn, map[string]any{"type": "ping", "pad": strings.Repeat("x", 200*1024)})

	errFrame := awaitType(t, conn, "error")
	assert.Equal(t, "payload_too_large", errFrame["code"])

	sendJSON(t, conn, map[string]any{"type": "ping", "ts": float64(1)})
	assert.Equal(t, float64(1), awaitType(t, conn, "pong")["ts"])
}

func TestDisconnectDropsClientCount(t *testing.T) {
	srv, hub := newTestServer(t, []string{"*"})
	conn := mustDial(t, srv, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestCloseFrameSignalsServerShutdown(t *testing.T) {
	srv, hub := newTestServer(t, []string{"*"})
	conn := mustDial(t, srv, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	hub.CloseAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "Server shutdown", closeErr.Text)
}

func TestUpgradeRefusedWhileDraining(t *testing.T) {
	srv, hub := newTestServer(t, []string{"*"})

	hub.StopAccepting()

	_, resp, err := dial(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Zero(t, hub.ClientCount())
}

func TestSocketIDsAreMonotonic(t *testing.T) {
	srv, _ := newTestServer(t, []string{"*"})

	a := mustDial(t, srv, "")
	b := mustDial(t, srv, "")

	// Both sockets are usable concurrently and independently.
	sendJSON(t, a, map[string]any{"type": "ping", "ts": float64(1)})
	sendJSON(t, b, map[string]any{"type": "ping", "ts": float64(2)})

	assert.Equal(t, float64(1), awaitType(t, a, "pong")["ts"])
	assert.Equal(t, float64(2), awaitType(t, b, "pong")["ts"])
}
