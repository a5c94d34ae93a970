package room

import (
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/backpressure"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/metrics"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/protocol"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

// deliver sends one frame to one participant, applying the drop policy for
// non-critical kinds: a connection whose outbound queue has gone critical
// sheds droppable traffic instead of growing without bound.
func (r *Registry) deliver(p *Participant, kind string, frame []byte) bool {
	if p == nil || p.Conn == nil || p.Conn.IsClosed() || frame == nil {
		return false
	}

	critical := protocol.IsCriticalOutbound(kind)
	if !critical && backpressure.ShouldDrop(p.Conn.BufferedBytes(), kind) {
		metrics.MessagesDropped.WithLabelValues(kind).Inc()
		return false
	}
	if !p.Conn.Send(frame, critical) {
		metrics.MessagesDropped.WithLabelValues(kind).Inc()
		return false
	}
	return true
}

// broadcastLocked fans a frame out to every participant in the room except
// the one named by except ("" sends to all). Per-recipient drop decisions
// are independent; a slow viewer never delays the rest.
func (r *Registry) broadcastLocked(room *Room, kind string, frame []byte, except types.UserIDType) int {
	if frame == nil {
		return 0
	}
	sent := 0
	for _, p := range room.participants {
		if except != "" && p.UserID == except {
			continue
		}
		if r.deliver(p, kind, frame) {
			sent++
		}
	}
	metrics.BroadcastFanout.Observe(float64(sent))
	return sent
}

// broadcastCountLocked announces the current participant count to the room.
func (r *Registry) broadcastCountLocked(room *Room) {
	frame := protocol.Marshal(map[string]any{
		"type":     "participant_count_update",
		"streamId": room.StreamID,
		"count":    len(room.participants),
		"ts":       protocol.NowMillis(),
	})
	r.broadcastLocked(room, "participant_count_update", frame, "")
}

// findUserLocked resolves a target userId, preferring the sender's room and
// falling back to a global scan (first match wins; rooms do not share
// userId namespaces, so cross-room relay is best effort).
func (r *Registry) findUserLocked(prefer *Room, userID types.UserIDType) *Participant {
	if prefer != nil {
		if p, ok := prefer.participants[userID]; ok {
			return p
		}
	}
	for _, room := range r.rooms {
		if room == prefer {
			continue
		}
		if p, ok := room.participants[userID]; ok {
			return p
		}
	}
	return nil
}
