package room

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/protocol"
)

func TestPingPong(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	h.send(c, map[string]any{"type": "ping", "ts": float64(12345)})

	pong := c.lastOfType("pong")
	require.NotNil(t, pong)
	assert.Equal(t, float64(12345), pong["ts"])
}

func TestEcho(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	h.send(c, map[string]any{"type": "echo", "payload": "hello"})

	echo := c.lastOfType("connection_echo_test")
	require.NotNil(t, echo)
	assert.Equal(t, "hello", echo["payload"])
}

func TestAckFollowsMsgID(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	h.send(c, map[string]any{"type": "ping", "msgId": "m1"})

	acks := c.framesOfType("ack")
	require.Len(t, acks, 1)
	assert.Equal(t, "m1", acks[0]["for"])

	// No msgId, no ack.
	c.clear()
	h.send(c, map[string]any{"type": "ping"})
	assert.Zero(t, c.countOfType("ack"))
}

func TestDuplicateMsgIDHandledOnce(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	frame := map[string]any{"type": "join_stream", "streamId": "s1", "userId": "alice", "msgId": "m1"}
	h.send(c, frame)
	h.send(c, frame)
	h.send(c, frame)

	assert.Equal(t, 1, c.countOfType("join_confirmed"), "the join ran exactly once")
	assert.Equal(t, 1, c.countOfType("ack"), "retries are absorbed silently")
}

func TestDuplicateWindowIsPerSocket(t *testing.T) {
	h := newHarness(t)
	a := h.connect()
	b := h.connect()

	h.send(a, map[string]any{"type": "ping", "msgId": "shared"})
	h.send(b, map[string]any{"type": "ping", "msgId": "shared"})

	assert.Equal(t, 1, a.countOfType("pong"))
	assert.Equal(t, 1, b.countOfType("pong"), "another socket's msgId space is independent")
}

func TestMalformedJSON(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	h.r.Route(context.Background(), c, []byte("{not json"))

	errFrame := c.lastOfType("error")
	require.NotNil(t, errFrame)
	assert.Equal(t, protocol.CodeInvalidRequest, errFrame["code"])
}

func TestMissingType(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	h.send(c, map[string]any{"msgId": "m1"})

	errFrame := c.lastOfType("error")
	require.NotNil(t, errFrame)
	assert.Equal(t, protocol.CodeMissingType, errFrame["code"])
	assert.Equal(t, "m1", errFrame["ref"], "the error references the failed msgId")
}

func TestUnknownType(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	h.send(c, map[string]any{"type": "teleport", "msgId": "m1"})

	errFrame := c.lastOfType("error")
	require.NotNil(t, errFrame)
	assert.Equal(t, protocol.CodeUnknownType, errFrame["code"])
}

func TestOversizedPayload(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	frame := append([]byte(`{"type":"ping","pad":"`), bytes.Repeat([]byte("x"), protocol.MaxFrameBytes)...)
	frame = append(frame, []byte(`"}`)...)
	h.r.Route(context.Background(), c, frame)

	errFrame := c.lastOfType("error")
	require.NotNil(t, errFrame)
	assert.Equal(t, protocol.CodePayloadTooLarge, errFrame["code"])
}

func TestValidationFailureIsAckedButNotHandled(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	h.send(c, map[string]any{"type": "join_stream", "streamId": "s1", "msgId": "m1"})

	errFrame := c.lastOfType("error")
	require.NotNil(t, errFrame)
	assert.Equal(t, protocol.CodeInvalidRequest, errFrame["code"])
	assert.Equal(t, 1, c.countOfType("ack"), "client must stop retrying an unfixable message")
	assert.Nil(t, c.lastOfType("join_confirmed"))
}

func TestSequenceRegressionIsNonFatal(t *testing.T) {
	h := newHarness(t)
	c := h.connect()

	h.send(c, map[string]any{"type": "ping", "seq": float64(5)})
	h.send(c, map[string]any{"type": "ping", "seq": float64(3)})
	h.send(c, map[string]any{"type": "ping", "seq": float64(6)})

	assert.Equal(t, 3, c.countOfType("pong"), "out-of-order messages are warned about, not rejected")
	assert.Zero(t, c.countOfType("error"))
}

func TestErrorsGoOnlyToTheSender(t *testing.T) {
	h := newHarness(t)
	host := h.connect()
	viewer := h.connect()
	h.join(host, "s1", "alice")
	h.join(viewer, "s1", "bob")

	h.send(viewer, map[string]any{"type": "game_init", "streamId": "s1", "gameId": "trivia"})

	require.NotNil(t, viewer.lastOfType("error"))
	assert.Zero(t, host.countOfType("error"), "one client's failure never cascades")
}

func TestRouterDisabledSkipsPipeline(t *testing.T) {
	h := &harness{t: t, r: NewRegistry(Options{RouterEnabled: false})}
	t.Cleanup(h.r.coalescer.Stop)
	c := h.connect()

	// With the pipeline off, duplicate msgIds are not absorbed.
	h.send(c, map[string]any{"type": "ping", "msgId": "m1"})
	h.send(c, map[string]any{"type": "ping", "msgId": "m1"})

	assert.Equal(t, 2, c.countOfType("pong"))
	assert.Equal(t, 2, c.countOfType("ack"))
}
