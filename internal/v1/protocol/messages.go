package protocol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
	"go.uber.org/zap"
)

// Outbound frame builders. Every server→client frame goes through Marshal so
// encode failures surface in one place.

// criticalOutbound lists the kinds that must never be dropped under
// backpressure. If the target queue is saturated these are still enqueued;
// delivery then becomes the transport's problem, up to connection close.
var criticalOutbound = map[string]bool{
	"ack":                  true,
	"error":                true,
	"join_confirmed":       true,
	"resume_ok":            true,
	"resume_migrated":      true,
	"webrtc_offer":         true,
	"webrtc_answer":        true,
	"cohost_request":       true,
	"cohost_accepted":      true,
	"cohost_declined":      true,
	"cohost_ended":         true,
	"cohost_queue_updated": true,
	"cohost_mute":          true,
	"cohost_unmute":        true,
	"cohost_cam_off":       true,
	"cohost_cam_on":        true,
	"room_closed":          true,
	"server_shutdown":      true,
}

// IsCriticalOutbound reports whether a server→client kind bypasses the
// backpressure drop policy.
func IsCriticalOutbound(msgType string) bool {
	return criticalOutbound[msgType]
}

// Marshal encodes an outbound frame. A nil return means the encode failed
// and was logged; callers skip the send.
func Marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound frame", zap.Error(err))
		return nil
	}
	return data
}

// NowMillis is the wall-clock timestamp format used on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Ack acknowledges a client send identified by its msgId.
func Ack(msgID string) []byte {
	return Marshal(map[string]any{
		"type": "ack",
		"for":  msgID,
		"ts":   NowMillis(),
	})
}

// ErrorFrame builds the normalized error frame. ref correlates to the
// triggering client msgId when one was present.
func ErrorFrame(code, message, ref string) []byte {
	frame := map[string]any{
		"type":    "error",
		"code":    code,
		"message": message,
	}
	if ref != "" {
		frame["ref"] = ref
	}
	return Marshal(frame)
}

// Pong answers a client heartbeat, echoing its timestamp.
func Pong(ts any) []byte {
	return Marshal(map[string]any{
		"type": "pong",
		"ts":   ts,
	})
}

// EchoTest reflects an echo payload back to the sender.
func EchoTest(payload any) []byte {
	return Marshal(map[string]any{
		"type":    "connection_echo_test",
		"payload": payload,
		"ts":      NowMillis(),
	})
}

// ServerShutdown is broadcast to every open connection during drain.
func ServerShutdown() []byte {
	return Marshal(map[string]any{"type": "server_shutdown"})
}

// RoomClosed is the only multi-recipient failure signal.
func RoomClosed(reason string) []byte {
	return Marshal(map[string]any{
		"type":   "room_closed",
		"reason": reason,
	})
}
