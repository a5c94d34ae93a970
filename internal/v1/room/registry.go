package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/coalesce"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/dedup"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/metrics"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/protocol"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/ratelimit"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/sessions"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

const sweepInterval = 30 * time.Second

// connState is the registry's view of one socket: its identity from the
// auth hook, its membership (nil before join), and router bookkeeping.
type connState struct {
	conn         types.Conn
	identity     types.Identity
	participant  *Participant
	lastSeq      uint32
	sessionToken string
}

// Options configures registry behavior from the environment.
type Options struct {
	// RouterEnabled gates the validation pipeline (schema, sanitization,
	// dedup, seq tracking). Disabled only for load-testing raw dispatch.
	RouterEnabled bool

	// DebugSDP logs full SDP bodies instead of redacting them.
	DebugSDP bool
}

// Registry owns every room and every connection binding. A single mutex
// serializes all handler work: handlers read and mutate room state freely
// and hand frames to connection queues, which are the only cross-goroutine
// boundary. Timers (coalescer flushes, sweeps) re-enter through the same
// mutex.
type Registry struct {
	mu    sync.Mutex
	rooms map[types.StreamIDType]*Room
	conns map[types.SocketIDType]*connState

	sessions  *sessions.Manager
	buckets   *ratelimit.Buckets
	dedup     *dedup.Deduplicator
	coalescer *coalesce.Coalescer

	handlers map[string]handlerFunc

	routerEnabled bool
	debugSDP      bool
	shuttingDown  bool

	now func() time.Time
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		rooms:         make(map[types.StreamIDType]*Room),
		conns:         make(map[types.SocketIDType]*connState),
		sessions:      sessions.NewManager(),
		buckets:       ratelimit.NewBuckets(),
		dedup:         dedup.New(),
		coalescer:     coalesce.New(),
		routerEnabled: opts.RouterEnabled,
		debugSDP:      opts.DebugSDP,
		now:           time.Now,
	}
	r.handlers = r.buildHandlerTable()
	return r
}

// Sessions exposes the session manager, used by tests to manipulate the
// clock.
func (r *Registry) Sessions() *sessions.Manager {
	return r.sessions
}

// SetClock swaps the registry time source. Test helper; does not touch the
// session manager's clock.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// HandleConnect registers a socket before any frame is routed.
func (r *Registry) HandleConnect(ctx context.Context, conn types.Conn, ident types.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.SocketID()] = &connState{conn: conn, identity: ident}
	logging.Info(ctx, "socket connected",
		zap.Uint64("socketId", uint64(conn.SocketID())),
		zap.String("remoteAddr", conn.RemoteAddr()),
	)
}

// HandleDisconnect performs an implicit leave and tears down all per-socket
// state. The session record survives: the client may resume within the TTL.
func (r *Registry) HandleDisconnect(ctx context.Context, conn types.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sock := conn.SocketID()
	st, ok := r.conns[sock]
	if !ok {
		return
	}

	userKey := r.userKey(st)
	r.leaveLocked(ctx, st)
	delete(r.conns, sock)

	r.dedup.DropSocket(sock)
	r.buckets.Release(userKey)

	logging.Info(ctx, "socket disconnected", zap.Uint64("socketId", uint64(sock)))
}

// userKey is the rate-limit bucket key for a socket: the joined userId,
// falling back to the hook identity, falling back to anonymous for
// pre-join traffic.
func (r *Registry) userKey(st *connState) string {
	if st.participant != nil {
		return string(st.participant.UserID)
	}
	if st.identity.UserID != "" {
		return string(st.identity.UserID)
	}
	return "anonymous"
}

// stateFor maps a participant back to its registry binding.
func (r *Registry) stateFor(p *Participant) *connState {
	if p == nil || p.Conn == nil {
		return nil
	}
	return r.conns[p.Conn.SocketID()]
}

func (r *Registry) getOrCreateRoomLocked(streamID types.StreamIDType) *Room {
	room, ok := r.rooms[streamID]
	if !ok {
		room = newRoom(streamID, r.now())
		r.rooms[streamID] = room
		metrics.ActiveRooms.Set(float64(len(r.rooms)))
		logging.Info(context.Background(), "room created", zap.String("streamId", string(streamID)))
	}
	return room
}

func (r *Registry) destroyRoomLocked(room *Room) {
	r.coalescer.CancelRoom(room.StreamID)
	delete(r.rooms, room.StreamID)
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	logging.Info(context.Background(), "room destroyed", zap.String("streamId", string(room.StreamID)))
}

func (r *Registry) updateParticipantGaugeLocked() {
	total := 0
	for _, room := range r.rooms {
		total += len(room.participants)
	}
	metrics.ActiveParticipants.Set(float64(total))
}

// leaveLocked removes st's participant from its room and settles every
// dependent piece of room state: the co-host queue, an active co-host
// session, and room destruction when the last member leaves.
func (r *Registry) leaveLocked(ctx context.Context, st *connState) {
	p := st.participant
	if p == nil {
		return
	}
	st.participant = nil

	room, ok := r.rooms[p.StreamID]
	if !ok {
		return
	}
	// A later join or resume may have replaced this entry; only remove our own.
	if room.participants[p.UserID] == p {
		delete(room.participants, p.UserID)
	}

	if room.dequeueCohost(p.UserID) {
		r.sendQueueUpdateLocked(room)
	}

	switch {
	case room.activeGuestID == p.UserID:
		room.activeGuestID = ""
		if h := room.host(); h != nil {
			r.deliver(h, "cohost_ended", protocol.Marshal(map[string]any{
				"type":        "cohost_ended",
				"by":          "guest",
				"guestUserId": p.UserID,
				"ts":          protocol.NowMillis(),
			}))
		}
		r.sendQueueUpdateLocked(room)
	case p.Role == types.RoleTypeHost:
		if g := room.guest(); g != nil {
			g.Role = types.RoleTypeViewer
			room.activeGuestID = ""
			r.patchSessionRole(g, types.RoleTypeViewer)
			r.deliver(g, "cohost_ended", protocol.Marshal(map[string]any{
				"type": "cohost_ended",
				"by":   "host",
				"ts":   protocol.NowMillis(),
			}))
		}
		r.sendQueueUpdateLocked(room)
	}

	logging.Info(ctx, "participant left",
		zap.String("streamId", string(p.StreamID)),
		zap.String("userId", string(p.UserID)),
		zap.String("role", string(p.Role)),
	)

	if len(room.participants) == 0 {
		r.destroyRoomLocked(room)
	} else {
		r.broadcastCountLocked(room)
	}
	r.updateParticipantGaugeLocked()
}

func (r *Registry) patchSessionRole(p *Participant, role types.RoleType) {
	st := r.stateFor(p)
	if st == nil || st.sessionToken == "" {
		return
	}
	r.sessions.Update(st.sessionToken, sessions.Patch{Role: &role})
}

// StartSweepers runs the 30s lifecycle cadence: session TTL eviction and
// the host-absence room reaper. Returns when ctx is cancelled.
func (r *Registry) StartSweepers(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sessions.Sweep()
			r.reapIdleRooms(ctx)
		}
	}
}

// reapIdleRooms closes rooms whose host has been absent past the timeout.
// Remaining participants get room_closed and stay connected; they may join
// another room afterwards.
func (r *Registry) reapIdleRooms(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, room := range r.rooms {
		if room.host() != nil {
			room.lastHostSeenAt = now
			continue
		}
		if now.Sub(room.lastHostSeenAt) < hostAbsenceTimeout {
			continue
		}
		r.closeRoomLocked(ctx, room, "host_timeout")
	}
}

// closeRoomLocked notifies every remaining participant and destroys the
// room. Connections stay open; bindings are cleared.
func (r *Registry) closeRoomLocked(ctx context.Context, room *Room, reason string) {
	frame := protocol.RoomClosed(reason)
	for _, p := range room.participants {
		r.deliver(p, "room_closed", frame)
		if st := r.stateFor(p); st != nil && st.participant == p {
			st.participant = nil
		}
	}
	logging.Warn(ctx, "room closed",
		zap.String("streamId", string(room.StreamID)),
		zap.String("reason", reason),
		zap.Int("participants", len(room.participants)),
	)
	room.participants = make(map[types.UserIDType]*Participant)
	r.destroyRoomLocked(room)
	r.updateParticipantGaugeLocked()
}

// Shutdown announces server_shutdown to every socket, closes them, and
// waits for the transport to drain until ctx expires. New work is refused
// once shutdown begins.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.shuttingDown = true
	frame := protocol.ServerShutdown()
	conns := make([]types.Conn, 0, len(r.conns))
	for _, st := range r.conns {
		st.conn.Send(frame, true)
		conns = append(conns, st.conn)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		r.mu.Lock()
		remaining := len(r.conns)
		r.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			logging.Warn(ctx, "shutdown drain timed out", zap.Int("remaining", remaining))
			r.coalescer.Stop()
			return
		case <-ticker.C:
		}
	}
	r.coalescer.Stop()
}

// Summary is the admin view of one room.
type Summary struct {
	ID            string `json:"id"`
	ViewersCount  int    `json:"viewersCount"`
	HasActiveGame bool   `json:"hasActiveGame"`
}

// ListRooms snapshots all rooms for the health surface.
func (r *Registry) ListRooms() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Summary, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, Summary{
			ID:            string(room.StreamID),
			ViewersCount:  len(room.participants),
			HasActiveGame: room.game.Active(),
		})
	}
	return out
}

// RoomCount reports the number of live rooms. Test helper.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// ParticipantCount reports membership of one room, -1 if absent. Test
// helper.
func (r *Registry) ParticipantCount(streamID types.StreamIDType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[streamID]
	if !ok {
		return -1
	}
	return len(room.participants)
}
