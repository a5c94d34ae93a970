package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/protocol"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/ratelimit"
)

func gameRoom(t *testing.T, h *harness) (*fakeConn, *fakeConn) {
	t.Helper()
	host := h.connect()
	viewer := h.connect()
	h.join(host, "s1", "host")
	h.join(viewer, "s1", "viewer")
	return host, viewer
}

// waitForGameState polls until the connection has received at least one
// game_state frame, riding out the coalescer window.
func waitForGameState(t *testing.T, c *fakeConn) map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.countOfType("game_state") > 0
	}, 2*time.Second, 5*time.Millisecond)
	return c.lastOfType("game_state")
}

func TestGameInitBroadcasts(t *testing.T) {
	h := newHarness(t)
	host, viewer := gameRoom(t, h)

	h.send(host, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia", "seed": float64(42)})

	for _, c := range []*fakeConn{host, viewer} {
		init := c.lastOfType("game_init")
		require.NotNil(t, init)
		assert.Equal(t, "trivia", init["gameId"])
		assert.Equal(t, float64(1), init["version"])
		assert.Equal(t, float64(42), init["seed"])
	}
}

func TestGameInitRequiresHost(t *testing.T) {
	h := newHarness(t)
	_, viewer := gameRoom(t, h)

	h.send(viewer, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})

	errFrame := viewer.lastOfType("error")
	require.NotNil(t, errFrame)
	assert.Equal(t, protocol.CodeNotHost, errFrame["code"])
}

func TestGameStateWithoutInit(t *testing.T) {
	h := newHarness(t)
	host, _ := gameRoom(t, h)

	h.send(host, map[string]any{"type": "game_state", "streamId": "s1", "patch": map[string]any{"score": float64(1)}})

	errFrame := host.lastOfType("error")
	require.NotNil(t, errFrame)
	assert.Equal(t, protocol.CodeInvalidState, errFrame["code"])
}

func TestGameStateRequiresHost(t *testing.T) {
	h := newHarness(t)
	host, viewer := gameRoom(t, h)
	h.send(host, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})

	h.send(viewer, map[string]any{"type": "game_state", "streamId": "s1", "patch": map[string]any{"hacked": true}})

	errFrame := viewer.lastOfType("error")
	require.NotNil(t, errFrame)
	assert.Equal(t, protocol.CodeNotHost, errFrame["code"])
}

func TestGameStateBroadcastIsCoalesced(t *testing.T) {
	h := newHarness(t)
	host, viewer := gameRoom(t, h)
	h.send(host, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})

	// A burst inside one flush window collapses to one snapshot carrying the
	// merged state and the final version.
	for i := 1; i <= 5; i++ {
		h.send(host, map[string]any{
			"type":     "game_state",
			"streamId": "s1",
			"patch":    map[string]any{"round": float64(i)},
		})
	}

	state := waitForGameState(t, viewer)
	assert.Equal(t, float64(6), state["version"], "init was v1, five patches follow")
	assert.Equal(t, float64(5), state["state"].(map[string]any)["round"])
	assert.Less(t, viewer.countOfType("game_state"), 5, "the burst did not fan out per message")
}

func TestGameStatePatchMergesShallowly(t *testing.T) {
	h := newHarness(t)
	host, viewer := gameRoom(t, h)
	h.send(host, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})

	h.send(host, map[string]any{"type": "game_state", "streamId": "s1", "patch": map[string]any{"a": float64(1), "b": float64(2)}})
	h.send(host, map[string]any{"type": "game_state", "streamId": "s1", "patch": map[string]any{"b": float64(3)}})

	state := waitForGameState(t, viewer)
	data := state["state"].(map[string]any)
	assert.Equal(t, float64(1), data["a"], "untouched keys survive")
	assert.Equal(t, float64(3), data["b"], "patched keys are replaced")
}

func TestGameStateFullReplacesData(t *testing.T) {
	h := newHarness(t)
	host, viewer := gameRoom(t, h)
	h.send(host, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})

	h.send(host, map[string]any{"type": "game_state", "streamId": "s1", "patch": map[string]any{"old": true}})
	h.send(host, map[string]any{"type": "game_state", "streamId": "s1", "full": true, "patch": map[string]any{"fresh": true}})

	state := waitForGameState(t, viewer)
	data := state["state"].(map[string]any)
	assert.NotContains(t, data, "old")
	assert.Equal(t, true, data["fresh"])
}

func TestGameStateVersionNeverRewinds(t *testing.T) {
	h := newHarness(t)
	host, viewer := gameRoom(t, h)
	h.send(host, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})

	h.send(host, map[string]any{"type": "game_state", "streamId": "s1", "version": float64(10), "patch": map[string]any{}})
	h.send(host, map[string]any{"type": "game_state", "streamId": "s1", "version": float64(4), "patch": map[string]any{}})

	state := waitForGameState(t, viewer)
	assert.Equal(t, float64(10), state["version"], "a stale client version is clamped, not applied")
}

func TestGameStateNegativeVersionIgnored(t *testing.T) {
	h := newHarness(t)
	host, viewer := gameRoom(t, h)
	h.send(host, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})

	h.send(host, map[string]any{"type": "game_state", "streamId": "s1", "version": float64(-3), "patch": map[string]any{"round": float64(1)}})

	state := waitForGameState(t, viewer)
	assert.Equal(t, float64(2), state["version"], "a negative version is treated as absent")
	assert.Zero(t, host.countOfType("error"))
}

func TestJoinerReceivesGameSnapshot(t *testing.T) {
	h := newHarness(t)
	host, _ := gameRoom(t, h)
	h.send(host, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})
	h.send(host, map[string]any{"type": "game_state", "streamId": "s1", "patch": map[string]any{"round": float64(7)}})

	late := h.connect()
	h.join(late, "s1", "latecomer")

	state := late.lastOfType("game_state")
	require.NotNil(t, state, "joiners bootstrap from the snapshot without waiting for a flush")
	assert.Equal(t, "trivia", state["gameId"])
	assert.Equal(t, float64(7), state["state"].(map[string]any)["round"])
}

func TestGameEventForwardedToHostWithAuthenticatedSender(t *testing.T) {
	h := newHarness(t)
	host, viewer := gameRoom(t, h)
	h.send(host, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})
	host.clear()

	h.send(viewer, map[string]any{
		"type":      "game_event",
		"streamId":  "s1",
		"eventType": "answer",
		"payload":   map[string]any{"choice": "b"},
		"from":      "someone-else", // stripped by sanitization
	})

	event := host.lastOfType("game_event")
	require.NotNil(t, event)
	assert.Equal(t, "answer", event["eventType"])
	assert.Equal(t, "viewer", event["from"], "sender identity comes from the registry")
	assert.Equal(t, "b", event["payload"].(map[string]any)["choice"])
}

func TestGameEventRateLimited(t *testing.T) {
	h := newHarness(t)
	h.r.buckets = ratelimit.NewBucketsWithKinds(map[string]ratelimit.KindConfig{
		"game_event": {RefillPerSecond: 1, Burst: 2},
	})
	host, viewer := gameRoom(t, h)
	h.send(host, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})
	host.clear()

	for i := 0; i < 4; i++ {
		h.send(viewer, map[string]any{"type": "game_event", "streamId": "s1", "eventType": "spam"})
	}

	assert.Equal(t, 2, host.countOfType("game_event"))
	errFrame := viewer.lastOfType("error")
	require.NotNil(t, errFrame)
	assert.Equal(t, protocol.CodeRateLimited, errFrame["code"])
}
