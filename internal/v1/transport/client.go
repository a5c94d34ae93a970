// Package transport owns the WebSocket boundary: upgrade, per-connection
// read/write pumps, and the outbound queues the room layer writes into.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/backpressure"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/protocol"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a silent peer survives; pings go out at 90% of it.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Outbound queue capacities. The send queue holds 1MiB of 512-byte
	// frames, so byte-based shedding at the critical threshold kicks in
	// before slot exhaustion can silently drop frames. The priority queue
	// carries frames that must not be shed; its saturation means the peer
	// is beyond saving.
	sendQueueSize     = backpressure.CriticalBytes / 512
	priorityQueueSize = 64

	// readLimit is the transport hard cap. It sits well above the protocol's
	// 64KiB payload limit so oversized frames get a payload_too_large error
	// instead of an abrupt close.
	readLimit = 16 * protocol.MaxFrameBytes
)

// Client is one WebSocket connection. It implements types.Conn; all state
// shared with the pumps is atomic or channel-mediated.
type Client struct {
	id     types.SocketIDType
	conn   *websocket.Conn
	router types.Router

	send     chan []byte
	priority chan []byte
	buffered atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	onClose func(*Client)
}

func newClient(id types.SocketIDType, conn *websocket.Conn, router types.Router, onClose func(*Client)) *Client {
	return &Client{
		id:       id,
		conn:     conn,
		router:   router,
		send:     make(chan []byte, sendQueueSize),
		priority: make(chan []byte, priorityQueueSize),
		done:     make(chan struct{}),
		onClose:  onClose,
	}
}

func (c *Client) SocketID() types.SocketIDType { return c.id }

func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Send enqueues a frame. Non-critical frames are shed when the normal queue
// is full. A critical frame that cannot even fit the priority queue
// escalates to disconnect: the peer has stopped consuming and no protocol
// guarantee can be kept on a dead pipe.
func (c *Client) Send(data []byte, critical bool) bool {
	if data == nil || c.closed.Load() {
		return false
	}

	if critical {
		select {
		case c.priority <- data:
			c.buffered.Add(int64(len(data)))
			return true
		default:
			logging.Warn(context.Background(), "priority queue saturated, closing connection",
				zap.Uint64("socketId", uint64(c.id)),
			)
			c.Disconnect()
			return false
		}
	}

	select {
	case c.send <- data:
		c.buffered.Add(int64(len(data)))
		return true
	default:
		return false
	}
}

func (c *Client) BufferedBytes() int64 { return c.buffered.Load() }

func (c *Client) IsClosed() bool { return c.closed.Load() }

// Disconnect signals both pumps to wind down. Idempotent.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// readPump consumes inbound frames until the connection dies, handing each
// text frame to the router. It owns the disconnect notification: whatever
// kills the connection, HandleDisconnect fires exactly once from here.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.Disconnect()
		c.router.HandleDisconnect(ctx, c)
		if c.onClose != nil {
			c.onClose(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(ctx, "unexpected close", zap.Error(err), zap.Uint64("socketId", uint64(c.id)))
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.Send(protocol.ErrorFrame(protocol.CodeInvalidRequest, "binary frames are not supported", ""), true)
			continue
		}
		c.router.Route(ctx, c, data)
	}
}

// writePump serializes all writes to the socket. Priority frames drain
// before normal ones; on shutdown both queues are flushed before the close
// frame goes out, so server_shutdown and final acks reach the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		// Strict priority: drain critical frames first.
		select {
		case msg := <-c.priority:
			if !c.write(msg) {
				return
			}
			continue
		default:
		}

		select {
		case <-c.done:
			c.flushAndClose()
			return
		case msg := <-c.priority:
			if !c.write(msg) {
				return
			}
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(msg []byte) bool {
	c.buffered.Add(-int64(len(msg)))
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.Disconnect()
		return false
	}
	return true
}

// flushAndClose empties both queues and sends the going-away close frame.
func (c *Client) flushAndClose() {
	for {
		select {
		case msg := <-c.priority:
			if !c.write(msg) {
				return
			}
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
		default:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutdown"))
			return
		}
	}
}
