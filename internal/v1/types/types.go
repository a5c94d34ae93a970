package types

import "context"

// --- Core Domain Types ---

// RoleType defines the different roles a participant can have in a stream.
type RoleType string

// UserIDType represents the authenticated identity of a participant.
type UserIDType string

// StreamIDType represents a unique identifier for a room (stream).
type StreamIDType string

// SocketIDType is the stable, monotonically assigned identifier of a
// WebSocket connection. It is independent of the user identity: the same
// user reconnecting gets a new socket id.
type SocketIDType uint64

// Role constants define the hierarchy and permissions.
const (
	RoleTypeHost   RoleType = "host"   // First joiner; owns game state and co-host decisions
	RoleTypeViewer RoleType = "viewer" // Receive-only participant
	RoleTypeGuest  RoleType = "guest"  // Promoted viewer with a media path to the host
)

// --- Shared Interfaces ---

// Conn defines the behavior required from a WebSocket connection.
// This allows the room package to deliver frames without depending on the
// transport package. Connections are non-owning handles: the room registry
// owns participants, participants reference their Conn.
type Conn interface {
	SocketID() SocketIDType
	RemoteAddr() string

	// Send enqueues a frame for delivery. Critical frames are always
	// enqueued (a saturated priority queue escalates to transport close);
	// non-critical frames are dropped when the buffer is full, in which
	// case Send reports false.
	Send(data []byte, critical bool) bool

	// BufferedBytes reports the current outbound queue depth, used by the
	// backpressure monitor to classify this connection.
	BufferedBytes() int64

	IsClosed() bool

	// Disconnect closes the connection. Safe to call more than once.
	Disconnect()
}

// Router is the inbound side of the connection: the transport layer hands
// every text frame to Route and reports lifecycle transitions. The Identity
// on connect comes from the authentication hook and may be empty, in which
// case identity is bound at join time.
type Router interface {
	Route(ctx context.Context, conn Conn, data []byte)
	HandleConnect(ctx context.Context, conn Conn, ident Identity)
	HandleDisconnect(ctx context.Context, conn Conn)
}

// Identity is the result of the pluggable authentication hook.
type Identity struct {
	UserID UserIDType
	Name   string
}
