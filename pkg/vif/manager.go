package vif

import (
	"context"
	"sync"

	"github.com/datawire/dlib/dlog"

	"github.com/vifnet/tcpstack/pkg/tcp"
)

// manager owns every live Connection for one Interface, plus the listening
// ports and not-yet-accepted connections waiting on them. A single mutex
// guards all of it; pendingVar and receiveVar are condition variables signaled
// whenever a waiter (Listener.Accept, Stream.ReadBlocking) might be able to make
// progress.
type manager struct {
	mu sync.Mutex

	pendingVar *sync.Cond
	receiveVar *sync.Cond

	listening   map[uint16]bool
	connections map[tcp.FourTuple]*tcp.Connection
	pending     map[uint16][]tcp.FourTuple

	closed bool
}

func newManager() *manager {
	m := &manager{
		listening:   make(map[uint16]bool),
		connections: make(map[tcp.FourTuple]*tcp.Connection),
		pending:     make(map[uint16][]tcp.FourTuple),
	}
	m.pendingVar = sync.NewCond(&m.mu)
	m.receiveVar = sync.NewCond(&m.mu)
	return m
}

// listen registers port as accepting new connections. Returns ErrAddrInUse if
// already bound.
func (m *manager) listen(port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listening[port] {
		return ErrAddrInUse
	}
	m.listening[port] = true
	return nil
}

// unlisten stops accepting new connections on port. Connections already
// accepted are unaffected; connections still queued in pending are dropped.
// Broadcasting pendingVar wakes any Listener.Accept blocked on this port so it
// can observe the port is gone and fail with ErrBrokenPipe, rather than wait
// forever for a backlog entry that will never arrive.
func (m *manager) unlisten(port uint16) {
	m.mu.Lock()
	delete(m.listening, port)
	delete(m.pending, port)
	m.mu.Unlock()
	m.pendingVar.Broadcast()
}

// onSyn is called by the packet loop for an inbound SYN on a listening port.
// It accepts the connection and queues it for Listener.Accept.
func (m *manager) onSyn(ctx context.Context, tuple tcp.FourTuple, conn *tcp.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.listening[tuple.DstPort] {
		return
	}
	if _, exists := m.connections[tuple]; exists {
		return
	}
	m.connections[tuple] = conn
	m.pending[tuple.DstPort] = append(m.pending[tuple.DstPort], tuple)
	dlog.Debugf(ctx, "   MGR %s, queued for accept on port %d", tuple, tuple.DstPort)
	m.pendingVar.Signal()
}

// acceptOn blocks until a connection is pending on port, the port is
// deregistered, the manager is closed, or ctx is done. It is the blocking
// half of Listener.Accept.
func (m *manager) acceptOn(ctx context.Context, port uint16) (tcp.FourTuple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.pendingVar.Broadcast()
		case <-done:
		}
	}()

	for len(m.pending[port]) == 0 {
		if m.closed {
			return tcp.FourTuple{}, ErrBrokenPipe
		}
		if !m.listening[port] {
			return tcp.FourTuple{}, ErrBrokenPipe
		}
		if err := ctx.Err(); err != nil {
			return tcp.FourTuple{}, err
		}
		m.pendingVar.Wait()
	}

	queue := m.pending[port]
	tuple := queue[0]
	m.pending[port] = queue[1:]
	return tuple, nil
}

// remove drops a connection from the table, e.g. once it reaches TIME-WAIT
// and its reaper interval elapses.
func (m *manager) remove(tuple tcp.FourTuple) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, tuple)
}

// each calls fn for every live connection. fn runs with the manager lock
// held, matching how the protocol engine itself is always mutated under that
// same lock.
func (m *manager) each(fn func(tuple tcp.FourTuple, conn *tcp.Connection)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tuple, conn := range m.connections {
		fn(tuple, conn)
	}
}

// signalReceive wakes every Stream.ReadBlocking waiting for new ingress data or a
// state change.
func (m *manager) signalReceive() {
	m.receiveVar.Broadcast()
}

// shutdown marks the manager closed and wakes every blocked waiter so they
// can unwind with ErrBrokenPipe.
func (m *manager) shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.pendingVar.Broadcast()
	m.receiveVar.Broadcast()
}
