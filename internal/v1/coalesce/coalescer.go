// Package coalesce batches high-rate message kinds into a short flush
// window, reducing broadcast fan-out for churny updates like game state.
package coalesce

import (
	"sync"
	"time"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

// FlushWindow is the batching interval. 33ms tracks a 30Hz update cadence.
const FlushWindow = 33 * time.Millisecond

// FlushFunc receives the drained batch in enqueue order. For kinds where
// only the newest update matters the callback may discard all but the last.
type FlushFunc func(batch []any)

type key struct {
	room types.StreamIDType
	kind string
}

type pending struct {
	batch []any
	timer *time.Timer
	flush FlushFunc
}

// Coalescer owns one queue and single-shot timer per (room, kind). Ordering
// within a key is preserved; a flush is atomic with respect to further
// enqueues for that key.
type Coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	queues  map[key]*pending
	stopped bool
}

func New() *Coalescer {
	return NewWithWindow(FlushWindow)
}

// NewWithWindow builds a coalescer with a custom window, used by tests to
// keep timing tight.
func NewWithWindow(window time.Duration) *Coalescer {
	return &Coalescer{
		window: window,
		queues: make(map[key]*pending),
	}
}

// Enqueue appends msg to the (room, kind) queue and arms the flush timer if
// this is the first entry of the window. Later entries ride the same timer,
// so a steady stream flushes once per window rather than once per message.
func (c *Coalescer) Enqueue(room types.StreamIDType, kind string, msg any, flush FlushFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	k := key{room: room, kind: kind}
	p, ok := c.queues[k]
	if ok {
		p.batch = append(p.batch, msg)
		return
	}

	p = &pending{batch: []any{msg}, flush: flush}
	p.timer = time.AfterFunc(c.window, func() {
		c.fire(k)
	})
	c.queues[k] = p
}

func (c *Coalescer) fire(k key) {
	c.mu.Lock()
	p, ok := c.queues[k]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.queues, k)
	batch := p.batch
	flush := p.flush
	c.mu.Unlock()

	flush(batch)
}

// CancelRoom drops all queues and timers for a destroyed room. Pending
// batches are discarded, not flushed.
func (c *Coalescer) CancelRoom(room types.StreamIDType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, p := range c.queues {
		if k.room == room {
			p.timer.Stop()
			delete(c.queues, k)
		}
	}
}

// Stop cancels every pending queue; used at shutdown.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for k, p := range c.queues {
		p.timer.Stop()
		delete(c.queues, k)
	}
}

// PendingLen reports the queued batch size for a key. Test helper.
func (c *Coalescer) PendingLen(room types.StreamIDType, kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.queues[key{room: room, kind: kind}]; ok {
		return len(p.batch)
	}
	return 0
}
