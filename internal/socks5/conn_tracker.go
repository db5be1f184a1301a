package socks5

import (
	"io"
	"sync"
)

// connCloser combines io.Closer with comparable for map key usage.
type connCloser interface {
	comparable
	io.Closer
}

// connTracker manages active connections with thread-safe tracking and
// counting. Both the TCP listener and the WebSocket listener share this one
// implementation: the TCP listener for admission control and graceful
// shutdown, the WebSocket listener for its connection count and graceful
// shutdown. The count is
// derived from the map under the same lock rather than kept in a separate
// atomic counter, so there's exactly one piece of state to keep consistent.
type connTracker[T connCloser] struct {
	mu          sync.Mutex
	connections map[T]struct{}
}

func newConnTracker[T connCloser]() *connTracker[T] {
	return &connTracker[T]{
		connections: make(map[T]struct{}),
	}
}

// add registers a connection for tracking.
func (t *connTracker[T]) add(conn T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connections[conn] = struct{}{}
}

// remove unregisters a connection. Safe to call multiple times for the
// same connection.
func (t *connTracker[T]) remove(conn T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.connections, conn)
}

// count returns the number of active connections.
func (t *connTracker[T]) count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.connections))
}

// closeAll closes every tracked connection and resets the tracker state.
func (t *connTracker[T]) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for conn := range t.connections {
		conn.Close()
	}
	t.connections = make(map[T]struct{})
}
