// Package dedup tracks recently seen message ids per socket so client
// retries collapse to a single handler invocation.
package dedup

import (
	"container/list"
	"sync"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/types"
)

// windowSize is the number of msgIds remembered per socket. Retries arrive
// within a handful of messages of the original, so a small window suffices.
const windowSize = 100

type socketWindow struct {
	order *list.List // msgIds in arrival order, oldest at front
	seen  map[string]*list.Element
}

// Deduplicator keeps a bounded ordered set of msgIds per socket. Entries are
// dropped wholesale when the socket closes.
type Deduplicator struct {
	mu      sync.Mutex
	sockets map[types.SocketIDType]*socketWindow
}

func New() *Deduplicator {
	return &Deduplicator{
		sockets: make(map[types.SocketIDType]*socketWindow),
	}
}

// Seen reports whether msgID was already observed on this socket within the
// window, recording it if new. The oldest entry is evicted once the window
// is full.
func (d *Deduplicator) Seen(sock types.SocketIDType, msgID string) bool {
	if msgID == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.sockets[sock]
	if !ok {
		w = &socketWindow{
			order: list.New(),
			seen:  make(map[string]*list.Element, windowSize),
		}
		d.sockets[sock] = w
	}

	if _, dup := w.seen[msgID]; dup {
		return true
	}

	elem := w.order.PushBack(msgID)
	w.seen[msgID] = elem

	if w.order.Len() > windowSize {
		oldest := w.order.Front()
		w.order.Remove(oldest)
		delete(w.seen, oldest.Value.(string))
	}
	return false
}

// DropSocket discards all state for a closed socket.
func (d *Deduplicator) DropSocket(sock types.SocketIDType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sockets, sock)
}

// WindowLen reports the number of tracked msgIds for a socket.
func (d *Deduplicator) WindowLen(sock types.SocketIDType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.sockets[sock]; ok {
		return w.order.Len()
	}
	return 0
}
