package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/backpressure"
)

// The pumps never run here; Send only touches the queues, so a client with
// no underlying socket is enough.

func TestSendQueueSaturatesPastCriticalThreshold(t *testing.T) {
	c := newClient(1, nil, nil, nil)

	frame := make([]byte, 512)
	enqueued := 0
	for c.Send(frame, false) {
		enqueued++
	}

	// By the time a small non-critical frame is refused, the byte-based
	// classification already reads critical, so the room layer has been
	// shedding droppable kinds instead of relying on slot exhaustion.
	assert.GreaterOrEqual(t, c.BufferedBytes(), int64(backpressure.CriticalBytes))
	assert.Equal(t, backpressure.StatusCritical, backpressure.Classify(c.BufferedBytes()))
	assert.Equal(t, sendQueueSize, enqueued)
}

func TestCriticalSendEscalatesToDisconnect(t *testing.T) {
	c := newClient(1, nil, nil, nil)

	frame := make([]byte, 64)
	for i := 0; i < priorityQueueSize; i++ {
		assert.True(t, c.Send(frame, true))
	}

	assert.False(t, c.Send(frame, true), "a saturated priority queue refuses the frame")
	assert.True(t, c.IsClosed(), "and gives up on the connection")
}
