package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/metrics"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/protocol"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

// handlerFunc processes one validated, sanitized message under the registry
// mutex. A non-nil WireError becomes a normalized error frame to the sender
// and suppresses the ack.
type handlerFunc func(ctx context.Context, st *connState, env *protocol.Envelope, fields map[string]any) *protocol.WireError

func (r *Registry) buildHandlerTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ping":         r.handlePing,
		"echo":         r.handleEcho,
		"join_stream":  r.handleJoinStream,
		"leave_stream": r.handleLeaveStream,
		"resume":       r.handleResume,

		"webrtc_offer":     r.handleSignal,
		"webrtc_answer":    r.handleSignal,
		"ice_candidate":    r.handleICECandidate,
		"request_offer":    r.handleRequestToHost,
		"request_keyframe": r.handleRequestToHost,

		"cohost_request": r.handleCohostRequest,
		"cohost_cancel":  r.handleCohostCancel,
		"cohost_accept":  r.handleCohostAccept,
		"cohost_decline": r.handleCohostDecline,
		"cohost_end":     r.handleCohostEnd,
		"cohost_mute":    r.handleCohostControl,
		"cohost_unmute":  r.handleCohostControl,
		"cohost_cam_off": r.handleCohostControl,
		"cohost_cam_on":  r.handleCohostControl,

		"game_init":  r.handleGameInit,
		"game_state": r.handleGameState,
		"game_event": r.handleGameEvent,
	}
}

// Route is the single entry point for inbound frames. The pipeline is:
// envelope parse → schema validation → sanitization → dedup → seq tracking
// → handler dispatch → ack. Each stage short-circuits with a normalized
// error addressed only to the sender; one client's malformed frame never
// reaches anyone else.
func (r *Registry) Route(ctx context.Context, conn types.Conn, data []byte) {
	env, fields, werr := protocol.ParseEnvelope(data)

	msgID := ""
	if env != nil {
		msgID = env.MsgID
	} else if fields != nil {
		if v, ok := fields["msgId"].(string); ok {
			msgID = v
		}
	}

	if werr != nil {
		r.sendError(ctx, conn, werr, msgID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shuttingDown {
		return
	}

	st, ok := r.conns[conn.SocketID()]
	if !ok {
		// Frame raced ahead of HandleConnect; register on the fly.
		st = &connState{conn: conn}
		r.conns[conn.SocketID()] = st
	}

	if !protocol.KnownType(env.Type) {
		r.sendError(ctx, conn, protocol.NewWireError(protocol.CodeUnknownType, "unknown message type"), msgID)
		return
	}

	if r.routerEnabled {
		if werr := protocol.Validate(env.Type, fields); werr != nil {
			r.sendError(ctx, conn, werr, msgID)
			// The send is still acknowledged so the client stops retrying a
			// message that can never succeed.
			if msgID != "" {
				conn.Send(protocol.Ack(msgID), true)
			}
			return
		}
		protocol.Sanitize(env.Type, fields)

		if msgID != "" && r.dedup.Seen(conn.SocketID(), msgID) {
			metrics.MessagesDuplicate.WithLabelValues(env.Type).Inc()
			return
		}

		if env.Seq > 0 {
			if env.Seq <= st.lastSeq {
				metrics.MessagesOutOfOrder.Inc()
				logging.Warn(ctx, "sequence regression",
					zap.Uint64("socketId", uint64(conn.SocketID())),
					zap.Uint32("seq", env.Seq),
					zap.Uint32("lastSeq", st.lastSeq),
					zap.String("type", env.Type),
				)
			} else {
				st.lastSeq = env.Seq
			}
		}
	}

	handler := r.handlers[env.Type]
	start := time.Now()
	werr = r.dispatch(ctx, handler, st, env, fields)
	metrics.MessageProcessingDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())

	if werr != nil {
		r.sendError(ctx, conn, werr, msgID)
		return
	}

	metrics.MessagesHandled.WithLabelValues(env.Type).Inc()
	if msgID != "" {
		conn.Send(protocol.Ack(msgID), true)
	}
}

// dispatch runs the handler with a panic firewall: a panicking handler
// costs its sender an internal_error, never the process.
func (r *Registry) dispatch(ctx context.Context, h handlerFunc, st *connState, env *protocol.Envelope, fields map[string]any) (werr *protocol.WireError) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(ctx, "handler panic",
				zap.String("type", env.Type),
				zap.Any("panic", rec),
			)
			werr = protocol.NewWireError(protocol.CodeInternalError, "internal error")
		}
	}()
	return h(ctx, st, env, fields)
}

// sendError emits the normalized error frame and records it. ref carries
// the triggering msgId when the client supplied one.
func (r *Registry) sendError(ctx context.Context, conn types.Conn, werr *protocol.WireError, ref string) {
	metrics.IncError(werr.Code)
	logging.Warn(ctx, "wire error",
		zap.Uint64("socketId", uint64(conn.SocketID())),
		zap.String("code", werr.Code),
		zap.String("message", werr.Message),
	)
	conn.Send(protocol.ErrorFrame(werr.Code, werr.Message, ref), true)
}
