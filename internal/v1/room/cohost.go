package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/protocol"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/sessions"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

// Co-host lifecycle. Exactly one guest may be active per room; everyone
// else waits in a FIFO queue owned by the host.

// requireHost resolves the sender as the room host or fails with NOT_HOST.
func (r *Registry) requireHost(st *connState) (*Room, *Participant, *protocol.WireError) {
	room, p, werr := r.requireJoined(st)
	if werr != nil {
		return nil, nil, werr
	}
	if p.Role != types.RoleTypeHost {
		return nil, nil, protocol.NewWireError(protocol.CodeNotHost, "only the host may do this")
	}
	return room, p, nil
}

// sendQueueUpdateLocked pushes the current queue to the host and refreshes
// each queued user's session position so a resume restores their place.
func (r *Registry) sendQueueUpdateLocked(room *Room) {
	snapshot := room.queueSnapshot()
	for i, e := range snapshot {
		pos := i + 1
		if p, ok := room.participants[e.UserID]; ok {
			if st := r.stateFor(p); st != nil && st.sessionToken != "" {
				r.sessions.Update(st.sessionToken, sessions.Patch{QueuePosition: &pos})
			}
		}
	}

	h := room.host()
	if h == nil {
		return
	}
	r.deliver(h, "cohost_queue_updated", protocol.Marshal(map[string]any{
		"type":     "cohost_queue_updated",
		"streamId": room.StreamID,
		"queue":    snapshot,
		"ts":       protocol.NowMillis(),
	}))
}

func (r *Registry) handleCohostRequest(ctx context.Context, st *connState, _ *protocol.Envelope, _ map[string]any) *protocol.WireError {
	room, p, werr := r.requireJoined(st)
	if werr != nil {
		return werr
	}
	if p.Role != types.RoleTypeViewer {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "only viewers may request co-host")
	}

	// A request while a guest is active is auto-declined rather than queued;
	// the viewer retries once the slot frees up.
	if room.activeGuestID != "" {
		r.deliver(p, "cohost_declined", protocol.Marshal(map[string]any{
			"type":   "cohost_declined",
			"reason": "guest_active",
			"ts":     protocol.NowMillis(),
		}))
		return nil
	}

	if !room.enqueueCohost(p.UserID, protocol.NowMillis()) {
		// Already queued; re-requesting is a no-op.
		return nil
	}

	logging.Info(ctx, "cohost requested",
		zap.String("streamId", string(room.StreamID)),
		zap.String("userId", string(p.UserID)),
		zap.Int("position", room.queuePosition(p.UserID)),
	)

	if h := room.host(); h != nil {
		r.deliver(h, "cohost_request", protocol.Marshal(map[string]any{
			"type":       "cohost_request",
			"fromUserId": p.UserID,
			"position":   room.queuePosition(p.UserID),
			"ts":         protocol.NowMillis(),
		}))
	}
	r.sendQueueUpdateLocked(room)
	return nil
}

func (r *Registry) handleCohostCancel(_ context.Context, st *connState, _ *protocol.Envelope, _ map[string]any) *protocol.WireError {
	room, p, werr := r.requireJoined(st)
	if werr != nil {
		return werr
	}
	if room.dequeueCohost(p.UserID) {
		r.sendQueueUpdateLocked(room)
	}
	return nil
}

func (r *Registry) handleCohostAccept(ctx context.Context, st *connState, _ *protocol.Envelope, fields map[string]any) *protocol.WireError {
	room, _, werr := r.requireHost(st)
	if werr != nil {
		return werr
	}
	guestRaw, ok := fields["guestUserId"].(string)
	if !ok {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "guestUserId must be a string")
	}
	if room.activeGuestID != "" {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "a guest is already active")
	}

	guestID := types.UserIDType(guestRaw)
	guest, ok := room.participants[guestID]
	if !ok {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "guest is not in the room")
	}

	room.dequeueCohost(guestID)
	guest.Role = types.RoleTypeGuest
	room.activeGuestID = guestID
	r.patchSessionRole(guest, types.RoleTypeGuest)

	logging.Info(ctx, "cohost accepted",
		zap.String("streamId", string(room.StreamID)),
		zap.String("guestUserId", string(guestID)),
	)

	r.deliver(guest, "cohost_accepted", protocol.Marshal(map[string]any{
		"type":     "cohost_accepted",
		"streamId": room.StreamID,
		"ts":       protocol.NowMillis(),
	}))
	r.sendQueueUpdateLocked(room)
	return nil
}

func (r *Registry) handleCohostDecline(_ context.Context, st *connState, _ *protocol.Envelope, fields map[string]any) *protocol.WireError {
	room, _, werr := r.requireHost(st)
	if werr != nil {
		return werr
	}
	viewerRaw, ok := fields["viewerUserId"].(string)
	if !ok {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "viewerUserId must be a string")
	}

	viewerID := types.UserIDType(viewerRaw)
	room.dequeueCohost(viewerID)

	reason, _ := fields["reason"].(string)
	if reason == "" {
		reason = "declined_by_host"
	}
	if viewer, ok := room.participants[viewerID]; ok {
		r.deliver(viewer, "cohost_declined", protocol.Marshal(map[string]any{
			"type":   "cohost_declined",
			"reason": reason,
			"ts":     protocol.NowMillis(),
		}))
	}
	r.sendQueueUpdateLocked(room)
	return nil
}

func (r *Registry) handleCohostEnd(ctx context.Context, st *connState, _ *protocol.Envelope, fields map[string]any) *protocol.WireError {
	room, p, werr := r.requireJoined(st)
	if werr != nil {
		return werr
	}
	if p.Role != types.RoleTypeHost && p.UserID != room.activeGuestID {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "only the host or the active guest may end a co-host session")
	}

	guest := room.guest()
	if guest == nil {
		// Ending an already-ended session is idempotent.
		return nil
	}

	by, _ := fields["by"].(string)
	if by != "host" && by != "guest" {
		by = string(p.Role)
	}

	guest.Role = types.RoleTypeViewer
	room.activeGuestID = ""
	r.patchSessionRole(guest, types.RoleTypeViewer)

	logging.Info(ctx, "cohost ended",
		zap.String("streamId", string(room.StreamID)),
		zap.String("guestUserId", string(guest.UserID)),
		zap.String("by", by),
	)

	ended := protocol.Marshal(map[string]any{
		"type":        "cohost_ended",
		"by":          by,
		"guestUserId": guest.UserID,
		"ts":          protocol.NowMillis(),
	})
	if h := room.host(); h != nil && h.UserID != p.UserID {
		r.deliver(h, "cohost_ended", ended)
	}
	if guest.UserID != p.UserID {
		r.deliver(guest, "cohost_ended", ended)
	}
	// The slot just freed; the host picks the next guest from a fresh queue.
	r.sendQueueUpdateLocked(room)
	return nil
}

// handleCohostControl serves the host's media directives (mute, unmute,
// camera on/off), relayed to the active guest. No guest, no-op.
func (r *Registry) handleCohostControl(_ context.Context, st *connState, env *protocol.Envelope, fields map[string]any) *protocol.WireError {
	room, _, werr := r.requireHost(st)
	if werr != nil {
		return werr
	}
	if target, _ := fields["target"].(string); target != "guest" {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "target must be \"guest\"")
	}

	guest := room.guest()
	if guest == nil {
		return nil
	}
	r.deliver(guest, env.Type, protocol.Marshal(map[string]any{
		"type": env.Type,
		"ts":   protocol.NowMillis(),
	}))
	return nil
}
