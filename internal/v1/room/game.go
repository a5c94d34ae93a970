package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/metrics"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/protocol"
)

// Game state is host-writable, version-monotonic, and broadcast as a full
// materialized snapshot. Snapshots make the coalescer's keep-last policy
// safe: a viewer that misses intermediate flushes still converges, and a
// joiner bootstraps from the same frame shape everyone else receives.

// gameSnapshotLocked serializes the room's current game state.
func (r *Registry) gameSnapshotLocked(room *Room) []byte {
	return protocol.Marshal(map[string]any{
		"type":     "game_state",
		"streamId": room.StreamID,
		"gameId":   room.game.GameID,
		"version":  room.game.Version,
		"state":    room.game.Data,
		"ts":       protocol.NowMillis(),
	})
}

func (r *Registry) handleGameInit(ctx context.Context, st *connState, _ *protocol.Envelope, fields map[string]any) *protocol.WireError {
	room, _, werr := r.requireHost(st)
	if werr != nil {
		return werr
	}

	gameID, ok := fields["gameId"].(string)
	if !ok {
		return protocol.NewWireError(protocol.CodeInvalidInit, "gameId must be a string")
	}

	version := uint64(1)
	if v, ok := fields["version"].(float64); ok && v > 1 {
		version = uint64(v)
	}
	seed := uint64(protocol.NowMillis())
	if v, ok := fields["seed"].(float64); ok && v >= 0 {
		seed = uint64(v)
	}

	room.game = GameState{
		Version: version,
		Data:    map[string]any{},
		GameID:  gameID,
		Seed:    seed,
	}

	logging.Info(ctx, "game initialized",
		zap.String("streamId", string(room.StreamID)),
		zap.String("gameId", gameID),
		zap.Uint64("version", version),
	)

	r.broadcastLocked(room, "game_init", protocol.Marshal(map[string]any{
		"type":     "game_init",
		"streamId": room.StreamID,
		"gameId":   gameID,
		"version":  version,
		"seed":     seed,
		"ts":       protocol.NowMillis(),
	}), "")
	return nil
}

func (r *Registry) handleGameState(_ context.Context, st *connState, _ *protocol.Envelope, fields map[string]any) *protocol.WireError {
	room, _, werr := r.requireHost(st)
	if werr != nil {
		return werr
	}
	if !room.game.Active() {
		return protocol.NewWireError(protocol.CodeInvalidState, "no active game")
	}

	var patch map[string]any
	if raw, present := fields["patch"]; present && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return protocol.NewWireError(protocol.CodeInvalidState, "patch must be an object")
		}
		patch = m
	}

	// Version only moves forward. A stale client version is clamped to the
	// current one rather than rewinding every viewer; negative values are
	// treated as absent.
	next := room.game.Version + 1
	if v, ok := fields["version"].(float64); ok && v >= 0 {
		if given := uint64(v); given > room.game.Version {
			next = given
		} else {
			next = room.game.Version
		}
	}
	room.game.Version = next

	full, _ := fields["full"].(bool)
	if full {
		room.game.Data = map[string]any{}
	}
	if room.game.Data == nil {
		room.game.Data = map[string]any{}
	}
	for k, v := range patch {
		room.game.Data[k] = v
	}

	frame := r.gameSnapshotLocked(room)
	streamID := room.StreamID
	r.coalescer.Enqueue(streamID, "game_state", frame, func(batch []any) {
		metrics.CoalescerFlushes.WithLabelValues("game_state").Inc()
		if superseded := len(batch) - 1; superseded > 0 {
			metrics.CoalescerDiscarded.WithLabelValues("game_state").Add(float64(superseded))
		}
		last, ok := batch[len(batch)-1].([]byte)
		if !ok {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if live, ok := r.rooms[streamID]; ok {
			r.broadcastLocked(live, "game_state", last, "")
		}
	})
	return nil
}

func (r *Registry) handleGameEvent(ctx context.Context, st *connState, _ *protocol.Envelope, fields map[string]any) *protocol.WireError {
	room, p, werr := r.requireJoined(st)
	if werr != nil {
		return werr
	}
	if !r.buckets.TryConsume("game_event", r.userKey(st), 1) {
		metrics.RateLimited.WithLabelValues("game_event").Inc()
		return protocol.NewWireError(protocol.CodeRateLimited, "game_event rate exceeded")
	}

	eventType, ok := fields["eventType"].(string)
	if !ok {
		return protocol.NewWireError(protocol.CodeInvalidEvent, "eventType must be a string")
	}

	h := room.host()
	if h == nil {
		logging.Warn(ctx, "game event with no host",
			zap.String("streamId", string(room.StreamID)),
			zap.String("eventType", eventType),
		)
		return nil
	}

	// The sender identity on the forwarded event is authenticated, never
	// client-supplied: viewers cannot impersonate each other to the host.
	r.deliver(h, "game_event", protocol.Marshal(map[string]any{
		"type":      "game_event",
		"streamId":  room.StreamID,
		"eventType": eventType,
		"payload":   fields["payload"],
		"from":      p.UserID,
		"ts":        protocol.NowMillis(),
	}))
	return nil
}
