// Package room implements the room registry: membership, roles, the
// co-host queue, versioned game state, the message router, and the
// relay/broadcast fabric. All mutations are serialized by the registry
// mutex; rooms never outlive their last participant or an absent host.
package room

import (
	"time"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

const (
	// MaxParticipants is the room capacity. Joins beyond it fail with
	// room_full unless the userId is already a member.
	MaxParticipants = 100

	// hostAbsenceTimeout is how long a room survives without a host
	// before the reaper closes it.
	hostAbsenceTimeout = 2 * time.Minute
)

// Participant is one (streamId, userId) membership. The Conn handle is
// non-owning; the transport layer owns the socket.
type Participant struct {
	Conn     types.Conn
	UserID   types.UserIDType
	StreamID types.StreamIDType
	Role     types.RoleType
}

// QueueEntry is one pending co-host request.
type QueueEntry struct {
	UserID    types.UserIDType `json:"userId"`
	Timestamp int64            `json:"timestamp"`
}

// GameState is the room's versioned, host-writable state blob. Data is
// opaque to the server; version only ever grows.
type GameState struct {
	Version uint64
	Data    map[string]any
	GameID  string
	Seed    uint64
}

// Active reports whether a game is in progress. Readers must treat Data as
// null outside of an active game.
func (g *GameState) Active() bool {
	return g.GameID != ""
}

// Room is a named group of participants sharing one signaling context.
// Fields are guarded by the registry mutex, not a per-room lock.
type Room struct {
	StreamID       types.StreamIDType
	participants   map[types.UserIDType]*Participant
	activeGuestID  types.UserIDType // "" when no guest
	cohostQueue    []QueueEntry
	game           GameState
	lastHostSeenAt time.Time
}

func newRoom(streamID types.StreamIDType, now time.Time) *Room {
	return &Room{
		StreamID:       streamID,
		participants:   make(map[types.UserIDType]*Participant),
		lastHostSeenAt: now,
	}
}

// host returns the room's host participant, or nil.
func (r *Room) host() *Participant {
	for _, p := range r.participants {
		if p.Role == types.RoleTypeHost {
			return p
		}
	}
	return nil
}

// guest returns the active guest participant, or nil.
func (r *Room) guest() *Participant {
	if r.activeGuestID == "" {
		return nil
	}
	return r.participants[r.activeGuestID]
}

// queuePosition reports the 1-based position of userID in the co-host
// queue, 0 when absent.
func (r *Room) queuePosition(userID types.UserIDType) int {
	for i, e := range r.cohostQueue {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}

// enqueueCohost appends a request, idempotent on userId.
func (r *Room) enqueueCohost(userID types.UserIDType, ts int64) bool {
	if r.queuePosition(userID) != 0 {
		return false
	}
	r.cohostQueue = append(r.cohostQueue, QueueEntry{UserID: userID, Timestamp: ts})
	return true
}

// dequeueCohost removes userID from the queue, reporting whether it was
// present.
func (r *Room) dequeueCohost(userID types.UserIDType) bool {
	for i, e := range r.cohostQueue {
		if e.UserID == userID {
			r.cohostQueue = append(r.cohostQueue[:i], r.cohostQueue[i+1:]...)
			return true
		}
	}
	return false
}

// queueSnapshot copies the queue for wire serialization.
func (r *Room) queueSnapshot() []QueueEntry {
	out := make([]QueueEntry, len(r.cohostQueue))
	copy(out, r.cohostQueue)
	return out
}
