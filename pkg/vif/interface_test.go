package vif

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vifnet/tcpstack/pkg/wire"
)

const (
	testClientIP   = 0x0a000002
	testClientPort = 5000
	testServerIP   = 0x0a000001
	testServerPort = 80
)

// buildSegment serializes a client->server IPv4+TCP frame with the given
// fields, as if it had arrived on the TUN device from the peer.
func buildSegment(seq, ack uint32, flags wire.TCPFlags, window uint16, payload []byte) []byte {
	ipHdr := wire.IPv4Header{TTL: 64, Protocol: wire.ProtoTCP, Src: testClientIP, Dst: testServerIP}
	tcpHdr := wire.TCPHeader{SrcPort: testClientPort, DstPort: testServerPort, Seq: seq, Ack: ack, Flags: flags, Window: window}

	buf := make([]byte, wire.IPv4HeaderLen+wire.TCPHeaderLen+len(payload))
	tcpHdr.Put(buf[wire.IPv4HeaderLen:], ipHdr.Src, ipHdr.Dst, payload)
	ipHdr.Put(buf, wire.TCPHeaderLen+len(payload))
	return buf
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition did not become true in time")
}

func TestInterfaceHandshakeAndEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newFakeTun()
	cfg := DefaultConfig()
	cfg.TimerInterval = 10 * time.Millisecond

	iface, err := New(ctx, cfg, dev)
	require.NoError(t, err)
	defer iface.Close()

	listener, err := iface.Bind(testServerPort)
	require.NoError(t, err)

	dev.inject(buildSegment(1000, 0, wire.TCPFlags{SYN: true}, 4096, nil))

	waitFor(t, func() bool { return len(dev.writtenFrames()) >= 1 })
	synAck := dev.writtenFrames()[0]
	ipHdr, off, err := wire.ParseIPv4Header(synAck)
	require.NoError(t, err)
	tcpHdr, _, err := wire.ParseTCPHeader(synAck[off:])
	require.NoError(t, err)
	require.True(t, tcpHdr.Flags.SYN)
	require.True(t, tcpHdr.Flags.ACK)
	require.EqualValues(t, testServerIP, ipHdr.Src)
	require.EqualValues(t, 1001, tcpHdr.Ack)

	dev.inject(buildSegment(1001, tcpHdr.Seq+1, wire.TCPFlags{ACK: true}, 4096, nil))

	acceptCtx, acceptCancel := context.WithTimeout(context.Background(), time.Second)
	defer acceptCancel()
	stream, err := listener.Accept(acceptCtx)
	require.NoError(t, err)

	dev.inject(buildSegment(1001, tcpHdr.Seq+1, wire.TCPFlags{ACK: true}, 4096, []byte("hello")))

	readCtx, readCancel := context.WithTimeout(context.Background(), time.Second)
	defer readCancel()
	buf := make([]byte, 16)
	n, err := stream.ReadBlocking(readCtx, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	n, err = stream.Write([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	waitFor(t, func() bool {
		frames := dev.writtenFrames()
		for _, f := range frames {
			_, off, err := wire.ParseIPv4Header(f)
			if err != nil {
				continue
			}
			_, payload, err := wire.ParseTCPHeader(f[off:])
			if err == nil && string(payload) == "world" {
				return true
			}
		}
		return false
	})

	require.NoError(t, stream.Close())
}

func TestListenerBindAddrInUse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newFakeTun()
	iface, err := New(ctx, DefaultConfig(), dev)
	require.NoError(t, err)
	defer iface.Close()

	_, err = iface.Bind(testServerPort)
	require.NoError(t, err)

	_, err = iface.Bind(testServerPort)
	require.ErrorIs(t, err, ErrAddrInUse)
}

func TestStreamWriteWouldBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newFakeTun()
	cfg := DefaultConfig()
	cfg.SendQueueSize = 4
	cfg.TimerInterval = 10 * time.Millisecond

	iface, err := New(ctx, cfg, dev)
	require.NoError(t, err)
	defer iface.Close()

	listener, err := iface.Bind(testServerPort)
	require.NoError(t, err)

	dev.inject(buildSegment(1000, 0, wire.TCPFlags{SYN: true}, 4096, nil))
	waitFor(t, func() bool { return len(dev.writtenFrames()) >= 1 })
	synAck := dev.writtenFrames()[0]
	_, off, _ := wire.ParseIPv4Header(synAck)
	tcpHdr, _, _ := wire.ParseTCPHeader(synAck[off:])

	dev.inject(buildSegment(1001, tcpHdr.Seq+1, wire.TCPFlags{ACK: true}, 4096, nil))
	acceptCtx, acceptCancel := context.WithTimeout(context.Background(), time.Second)
	defer acceptCancel()
	stream, err := listener.Accept(acceptCtx)
	require.NoError(t, err)

	n, err := stream.Write([]byte("abcd"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	_, err = stream.Write([]byte("e"))
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestListenerAcceptUnblocksOnListenerClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newFakeTun()
	iface, err := New(ctx, DefaultConfig(), dev)
	require.NoError(t, err)
	defer iface.Close()

	listener, err := iface.Bind(testServerPort)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := listener.Accept(context.Background())
		done <- err
	}()

	// Give Accept a chance to actually park on pendingVar before the port is
	// deregistered out from under it.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, listener.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrBrokenPipe)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not unblock after Listener.Close")
	}
}

func TestStreamOperationsAfterConnectionRemovedReturnBrokenPipe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newFakeTun()
	cfg := DefaultConfig()
	cfg.TimerInterval = 10 * time.Millisecond

	iface, err := New(ctx, cfg, dev)
	require.NoError(t, err)
	defer iface.Close()

	listener, err := iface.Bind(testServerPort)
	require.NoError(t, err)

	dev.inject(buildSegment(1000, 0, wire.TCPFlags{SYN: true}, 4096, nil))
	waitFor(t, func() bool { return len(dev.writtenFrames()) >= 1 })
	synAck := dev.writtenFrames()[0]
	_, off, _ := wire.ParseIPv4Header(synAck)
	tcpHdr, _, _ := wire.ParseTCPHeader(synAck[off:])

	dev.inject(buildSegment(1001, tcpHdr.Seq+1, wire.TCPFlags{ACK: true}, 4096, nil))
	acceptCtx, acceptCancel := context.WithTimeout(context.Background(), time.Second)
	defer acceptCancel()
	stream, err := listener.Accept(acceptCtx)
	require.NoError(t, err)

	// Simulate what timerdriver.tick does to a TIME-WAIT connection: remove it
	// from the manager's table out from under a Stream that still holds the
	// four-tuple.
	iface.mgr.remove(stream.Tuple())

	_, err = stream.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrBrokenPipe)

	_, err = stream.Write([]byte("x"))
	require.ErrorIs(t, err, ErrBrokenPipe)

	require.ErrorIs(t, stream.Flush(), ErrBrokenPipe)
	require.ErrorIs(t, stream.Close(), ErrBrokenPipe)

	readCtx, readCancel := context.WithTimeout(context.Background(), time.Second)
	defer readCancel()
	_, err = stream.ReadBlocking(readCtx, make([]byte, 8))
	require.ErrorIs(t, err, ErrBrokenPipe)
}
