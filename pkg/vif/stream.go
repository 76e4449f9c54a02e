package vif

import (
	"context"

	"github.com/vifnet/tcpstack/pkg/tcp"
)

// Stream is one accepted TCP connection, in any state from SYN-RECEIVED on. It holds
// only the four-tuple and a handle to the owning manager, not the Connection
// itself: the manager may remove a Connection from its table (e.g. once a
// TIME-WAIT entry is reaped) at any point, so every operation re-looks it up
// under the lock and fails with ErrBrokenPipe when it is gone. Read and
// Write never block the caller: Read returns 0 bytes when nothing is
// available yet, and Write returns ErrWouldBlock when the send queue is full,
// rather than waiting for room.
type Stream struct {
	tuple tcp.FourTuple
	mgr   *manager
}

// Tuple identifies the peer and local endpoint of this stream.
func (s *Stream) Tuple() tcp.FourTuple {
	return s.tuple
}

// Read copies any bytes already delivered by the peer into buf, returning 0
// if none are available yet. It never blocks; callers that want to block
// until data arrives should use ReadBlocking.
func (s *Stream) Read(buf []byte) (int, error) {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	conn, ok := s.mgr.connections[s.tuple]
	if !ok {
		return 0, ErrBrokenPipe
	}
	n := conn.Read(buf)
	if n == 0 && conn.State() == tcp.StateTimeWait {
		return 0, nil
	}
	return n, nil
}

// ReadBlocking behaves like Read but waits for data (or connection close, or
// ctx cancellation) instead of returning 0 immediately.
func (s *Stream) ReadBlocking(ctx context.Context, buf []byte) (int, error) {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.mgr.receiveVar.Broadcast()
		case <-done:
		}
	}()

	for {
		conn, ok := s.mgr.connections[s.tuple]
		if !ok {
			return 0, ErrBrokenPipe
		}
		if !conn.IngressEmpty() || conn.State() == tcp.StateTimeWait {
			return conn.Read(buf), nil
		}
		if s.mgr.closed {
			return 0, ErrBrokenPipe
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		s.mgr.receiveVar.Wait()
	}
}

// Write appends buf to the connection's send queue. It returns ErrWouldBlock,
// rather than blocking, once the queue is full.
func (s *Stream) Write(buf []byte) (int, error) {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	conn, ok := s.mgr.connections[s.tuple]
	if !ok {
		return 0, ErrBrokenPipe
	}
	if conn.UnackedLen() >= conn.SendQueueSize() {
		return 0, ErrWouldBlock
	}
	n := conn.Write(buf)
	if n == 0 {
		return 0, ErrWouldBlock
	}
	return n, nil
}

// Flush reports whether every byte handed to Write has been acknowledged by
// the peer. It never blocks.
func (s *Stream) Flush() error {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	conn, ok := s.mgr.connections[s.tuple]
	if !ok {
		return ErrBrokenPipe
	}
	if !conn.UnackedEmpty() {
		return ErrWouldBlock
	}
	return nil
}

// Close begins an active close (FIN) on this stream. Already-queued writes
// are still flushed out before the FIN.
func (s *Stream) Close() error {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	conn, ok := s.mgr.connections[s.tuple]
	if !ok {
		return ErrBrokenPipe
	}
	return conn.Close(context.Background())
}
