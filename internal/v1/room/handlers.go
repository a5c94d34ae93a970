package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/metrics"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/protocol"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/sessions"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

// requireJoined resolves the sender's membership or fails with
// invalid_request. Every room-scoped handler starts here.
func (r *Registry) requireJoined(st *connState) (*Room, *Participant, *protocol.WireError) {
	p := st.participant
	if p == nil {
		return nil, nil, protocol.NewWireError(protocol.CodeInvalidRequest, "not in a room")
	}
	room, ok := r.rooms[p.StreamID]
	if !ok {
		return nil, nil, protocol.NewWireError(protocol.CodeInvalidRequest, "room no longer exists")
	}
	return room, p, nil
}

func (r *Registry) handlePing(_ context.Context, st *connState, _ *protocol.Envelope, fields map[string]any) *protocol.WireError {
	st.conn.Send(protocol.Pong(fields["ts"]), false)
	return nil
}

func (r *Registry) handleEcho(_ context.Context, st *connState, _ *protocol.Envelope, fields map[string]any) *protocol.WireError {
	st.conn.Send(protocol.EchoTest(fields["payload"]), false)
	return nil
}

func (r *Registry) handleJoinStream(ctx context.Context, st *connState, _ *protocol.Envelope, fields map[string]any) *protocol.WireError {
	streamRaw, ok := fields["streamId"].(string)
	if !ok {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "streamId must be a string")
	}
	userRaw, ok := fields["userId"].(string)
	if !ok {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "userId must be a string")
	}

	streamID := types.StreamIDType(streamRaw)
	userID := types.UserIDType(userRaw)
	// An authenticated identity overrides the client-supplied userId.
	if st.identity.UserID != "" {
		userID = st.identity.UserID
	}

	// Joining while joined is a move: leave the old room first.
	if st.participant != nil {
		r.leaveLocked(ctx, st)
	}

	room := r.getOrCreateRoomLocked(streamID)

	existing := room.participants[userID]
	if existing == nil && len(room.participants) >= MaxParticipants {
		return protocol.NewWireError(protocol.CodeRoomFull, "room is at capacity")
	}

	role := types.RoleTypeViewer
	if len(room.participants) == 0 {
		role = types.RoleTypeHost
	}
	if existing != nil {
		// Same user on a new socket takes over the membership, keeping the
		// established role. The stale socket is closed.
		role = existing.Role
		if existing.Conn != nil && existing.Conn != st.conn {
			if old := r.stateFor(existing); old != nil && old.participant == existing {
				old.participant = nil
			}
			existing.Conn.Disconnect()
		}
	}

	p := &Participant{Conn: st.conn, UserID: userID, StreamID: streamID, Role: role}
	room.participants[userID] = p
	st.participant = p
	if role == types.RoleTypeHost {
		room.lastHostSeenAt = r.now()
	}

	sess := r.sessions.Create(userID, streamID, role)
	st.sessionToken = sess.Token

	logging.Info(ctx, "participant joined",
		zap.String("streamId", string(streamID)),
		zap.String("userId", string(userID)),
		zap.String("role", string(role)),
		zap.Int("participants", len(room.participants)),
	)

	st.conn.Send(protocol.Marshal(map[string]any{
		"type":         "join_confirmed",
		"streamId":     streamID,
		"userId":       userID,
		"role":         role,
		"sessionToken": sess.Token,
		"count":        len(room.participants),
		"ts":           protocol.NowMillis(),
	}), true)

	if room.game.Active() {
		st.conn.Send(r.gameSnapshotLocked(room), false)
	}

	if role != types.RoleTypeHost {
		if h := room.host(); h != nil {
			r.deliver(h, "joined_stream", protocol.Marshal(map[string]any{
				"type":     "joined_stream",
				"streamId": streamID,
				"userId":   userID,
				"ts":       protocol.NowMillis(),
			}))
		}
	}

	r.broadcastCountLocked(room)
	r.updateParticipantGaugeLocked()
	return nil
}

func (r *Registry) handleLeaveStream(ctx context.Context, st *connState, _ *protocol.Envelope, _ map[string]any) *protocol.WireError {
	r.leaveLocked(ctx, st)
	return nil
}

func (r *Registry) handleResume(ctx context.Context, st *connState, _ *protocol.Envelope, fields map[string]any) *protocol.WireError {
	token, ok := fields["sessionToken"].(string)
	if !ok {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "sessionToken must be a string")
	}

	sess := r.sessions.Get(token)
	if sess == nil {
		return protocol.NewWireError(protocol.CodeSessionExpired, "session expired or unknown")
	}

	if st.participant != nil {
		r.leaveLocked(ctx, st)
	}

	room, roomAlive := r.rooms[sess.StreamID]
	if !roomAlive {
		// The room was reaped while the client was away. The session is
		// honored but membership cannot be restored; the client rejoins as a
		// fresh viewer wherever it likes.
		st.conn.Send(protocol.Marshal(map[string]any{
			"type":   "resume_migrated",
			"reason": "room_closed",
			"role":   types.RoleTypeViewer,
			"ts":     protocol.NowMillis(),
		}), true)
		return nil
	}

	role := sess.Role
	switch role {
	case types.RoleTypeHost:
		if h := room.host(); h != nil && h.UserID != sess.UserID {
			role = types.RoleTypeViewer
		}
	case types.RoleTypeGuest:
		// The guest slot may have been handed to someone else meanwhile.
		if room.activeGuestID != "" && room.activeGuestID != sess.UserID {
			role = types.RoleTypeViewer
		}
	}

	if existing := room.participants[sess.UserID]; existing != nil && existing.Conn != st.conn {
		if old := r.stateFor(existing); old != nil && old.participant == existing {
			old.participant = nil
		}
		existing.Conn.Disconnect()
	}

	p := &Participant{Conn: st.conn, UserID: sess.UserID, StreamID: sess.StreamID, Role: role}
	room.participants[sess.UserID] = p
	st.participant = p
	st.sessionToken = token

	switch role {
	case types.RoleTypeHost:
		room.lastHostSeenAt = r.now()
	case types.RoleTypeGuest:
		room.activeGuestID = sess.UserID
	}
	r.sessions.Update(token, sessions.Patch{Role: &role})

	metrics.SessionsResumed.Inc()
	logging.Info(ctx, "session resumed",
		zap.String("streamId", string(sess.StreamID)),
		zap.String("userId", string(sess.UserID)),
		zap.String("role", string(role)),
	)

	st.conn.Send(protocol.Marshal(map[string]any{
		"type":             "resume_ok",
		"streamId":         sess.StreamID,
		"userId":           sess.UserID,
		"role":             role,
		"queuePosition":    room.queuePosition(sess.UserID),
		"gameStateVersion": room.game.Version,
		"ts":               protocol.NowMillis(),
	}), true)

	if room.game.Active() {
		st.conn.Send(r.gameSnapshotLocked(room), false)
	}

	r.broadcastCountLocked(room)
	r.updateParticipantGaugeLocked()
	return nil
}

// handleSignal relays webrtc_offer and webrtc_answer verbatim, stamping the
// sender's authenticated identity into fromUserId.
func (r *Registry) handleSignal(ctx context.Context, st *connState, env *protocol.Envelope, fields map[string]any) *protocol.WireError {
	sdp := fields["sdp"]
	if s, ok := sdp.(string); ok {
		logged := logging.RedactSDP(s)
		if r.debugSDP {
			logged = s
		}
		logging.Info(ctx, "relaying signal",
			zap.String("type", env.Type),
			zap.String("sdp", logged),
		)
	}
	return r.relayLocked(ctx, st, env.Type, map[string]any{"sdp": sdp}, fields)
}

func (r *Registry) handleICECandidate(ctx context.Context, st *connState, env *protocol.Envelope, fields map[string]any) *protocol.WireError {
	if !r.buckets.TryConsume("ice_candidate", r.userKey(st), 1) {
		metrics.RateLimited.WithLabelValues("ice_candidate").Inc()
		return protocol.NewWireError(protocol.CodeRateLimited, "ice_candidate rate exceeded")
	}
	return r.relayLocked(ctx, st, env.Type, map[string]any{"candidate": fields["candidate"]}, fields)
}

// handleRequestToHost serves request_offer and request_keyframe: viewer →
// host nudges that default their target to the sender's room host.
func (r *Registry) handleRequestToHost(ctx context.Context, st *connState, env *protocol.Envelope, fields map[string]any) *protocol.WireError {
	if _, ok := fields["toUserId"]; !ok {
		fields["toUserId"] = "host"
	}
	return r.relayLocked(ctx, st, env.Type, nil, fields)
}

// relayLocked resolves the toUserId target and delivers the relayed frame.
// "host" resolves within the sender's room; an absent target is logged and
// dropped without error, since peers disappear mid-handshake routinely.
func (r *Registry) relayLocked(ctx context.Context, st *connState, kind string, extra map[string]any, fields map[string]any) *protocol.WireError {
	toRaw, ok := fields["toUserId"].(string)
	if !ok || toRaw == "" {
		return protocol.NewWireError(protocol.CodeInvalidRequest, "toUserId must be a string")
	}

	var senderRoom *Room
	from := ""
	if st.participant != nil {
		senderRoom = r.rooms[st.participant.StreamID]
		from = string(st.participant.UserID)
	} else if v, ok := fields["fromUserId"].(string); ok {
		from = v
	}

	var target *Participant
	if toRaw == "host" {
		if senderRoom == nil {
			return protocol.NewWireError(protocol.CodeInvalidRequest, "host target requires room membership")
		}
		target = senderRoom.host()
	} else {
		target = r.findUserLocked(senderRoom, types.UserIDType(toRaw))
	}

	if target == nil {
		logging.Warn(ctx, "relay target not found",
			zap.String("type", kind),
			zap.String("toUserId", toRaw),
		)
		return nil
	}

	frame := map[string]any{
		"type":       kind,
		"fromUserId": from,
		"ts":         protocol.NowMillis(),
	}
	for k, v := range extra {
		frame[k] = v
	}
	r.deliver(target, kind, protocol.Marshal(frame))
	return nil
}
