package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/auth"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/metrics"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/ratelimit"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

// Hub accepts WebSocket upgrades and owns the live client set. Message
// semantics live in the router; the hub only moves bytes and enforces the
// admission checks (IP rate limit, identity hook, origin allow-list).
type Hub struct {
	router         types.Router
	identity       auth.IdentityHook
	connLimiter    *ratelimit.ConnLimiter
	allowedOrigins []string
	upgrader       websocket.Upgrader

	nextSocketID atomic.Uint64
	draining     atomic.Bool

	mu      sync.Mutex
	clients map[types.SocketIDType]*Client
}

func NewHub(router types.Router, identity auth.IdentityHook, connLimiter *ratelimit.ConnLimiter, allowedOrigins []string) *Hub {
	h := &Hub{
		router:         router,
		identity:       identity,
		connLimiter:    connLimiter,
		allowedOrigins: allowedOrigins,
		clients:        make(map[types.SocketIDType]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// The origin decision is made (and counted) before Upgrade runs.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return h
}

// ServeWs is the gin handler for GET /ws.
func (h *Hub) ServeWs(c *gin.Context) {
	ctx := c.Request.Context()

	if h.draining.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		return
	}

	if h.connLimiter != nil && !h.connLimiter.CheckWebSocket(c) {
		return
	}

	origin := c.GetHeader("Origin")
	if !auth.OriginAllowed(origin, h.allowedOrigins) {
		metrics.RejectedOrigin.Inc()
		logging.Warn(ctx, "rejected connection from disallowed origin", zap.String("origin", origin))
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	ident, err := h.identity.Identify(c.Request)
	if err != nil {
		logging.Warn(ctx, "identity rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}

	id := types.SocketIDType(h.nextSocketID.Add(1))
	client := newClient(id, conn, h.router, h.remove)

	h.mu.Lock()
	h.clients[id] = client
	h.mu.Unlock()
	metrics.IncConnection()

	// The request context dies with the HTTP handler; the connection
	// outlives it, so the pumps get a fresh one carrying the socket id.
	connCtx := context.WithValue(context.Background(), logging.SocketIDKey, uint64(id))

	h.router.HandleConnect(connCtx, client, *ident)

	go client.writePump()
	go client.readPump(connCtx)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if present {
		metrics.DecConnection()
	}
}

// ClientCount reports the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// StopAccepting makes ServeWs refuse further upgrades. Called at the top of
// the shutdown sequence, before the existing sockets are drained.
func (h *Hub) StopAccepting() {
	h.draining.Store(true)
}

// CloseAll force-disconnects every client; the drain itself is driven by
// the registry's shutdown sequence.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Disconnect()
	}
}
