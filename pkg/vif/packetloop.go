package vif

import (
	"context"
	"io"
	"time"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"github.com/vifnet/tcpstack/pkg/tcp"
	"github.com/vifnet/tcpstack/pkg/tun"
	"github.com/vifnet/tcpstack/pkg/wire"
)

// tunWriter adapts a tun.Device to tcp.Writer. It does not serialize concurrent
// writes beyond what the underlying device already guarantees. Connections in
// the manager's table are only ever mutated (and thus only ever write) under
// the manager lock, so their frames are ordered one at a time; the one write
// made outside that lock is the SYN-ACK tcp.Accept emits for a connection not
// yet in the table.
type tunWriter struct {
	dev tun.Device
}

func (w tunWriter) WriteFrame(_ context.Context, frame []byte) error {
	_, err := w.dev.Write(frame)
	return err
}

// packetLoop reads IPv4 frames from dev until it returns an error or ctx is
// done, dispatching each TCP segment it carries to the owning Connection (or
// to Accept, for a SYN on a listening port).
func packetLoop(ctx context.Context, dev tun.Device, mgr *manager, params tcp.Params, mtu int) {
	defer func() {
		if r := recover(); r != nil {
			dlog.Errorf(ctx, "%+v", derror.PanicToError(r))
		}
	}()

	w := tunWriter{dev: dev}
	buf := make([]byte, mtu)
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		n, err := dev.Read(buf)
		if err != nil {
			if err == io.EOF {
				return
			}
			dlog.Errorf(ctx, "read tun: %+v", err)
			return
		}
		frame := buf[:n]

		ipHdr, off, err := wire.ParseIPv4Header(frame)
		if err != nil {
			dlog.Tracef(ctx, "   PKT dropping unparseable ipv4 frame: %v", err)
			continue
		}
		if ipHdr.Protocol != wire.ProtoTCP {
			continue
		}
		tcpHdr, payload, err := wire.ParseTCPHeader(frame[off:])
		if err != nil {
			dlog.Tracef(ctx, "   PKT dropping unparseable tcp segment: %v", err)
			continue
		}

		tuple := tcp.FourTuple{
			SrcIP:   ipHdr.Src,
			SrcPort: tcpHdr.SrcPort,
			DstIP:   ipHdr.Dst,
			DstPort: tcpHdr.DstPort,
		}

		now := time.Now()
		handleSegment(ctx, mgr, w, params, tuple, tcpHdr, payload, now)
	}
}

// handleSegment dispatches one parsed segment under the manager lock,
// signaling waiters once the lock is released. The lock is held across the
// lookup and the on_packet call so a Connection's mutations stay serialized
// against concurrent Stream.Read/Write/Close and timer ticks, matching the
// single-mutex monitor the concurrency model specifies. A SYN for a new
// four-tuple on a listening port is turned into a Connection by tcp.Accept
// with the lock released, then registered through manager.onSyn.
func handleSegment(ctx context.Context, mgr *manager, w tunWriter, params tcp.Params, tuple tcp.FourTuple, tcpHdr wire.TCPHeader, payload []byte, now time.Time) {
	mgr.mu.Lock()
	conn, ok := mgr.connections[tuple]
	if ok {
		avail, err := conn.OnPacket(ctx, w, tcpHdr, payload, now)
		mgr.mu.Unlock()
		if err != nil {
			dlog.Errorf(ctx, "   CON %s, on_packet: %+v", tuple, err)
			return
		}
		if avail&tcp.AvailRead != 0 {
			mgr.signalReceive()
		}
		return
	}
	listening := mgr.listening[tuple.DstPort]
	mgr.mu.Unlock()

	if !tcpHdr.Flags.SYN {
		dlog.Tracef(ctx, "   PKT %s, no connection and not SYN, dropping", tuple)
		return
	}
	if !listening {
		dlog.Tracef(ctx, "   PKT %s, SYN on a port that is not listening, dropping", tuple)
		return
	}

	conn, err := tcp.Accept(ctx, tuple, tcpHdr, payload, w, params)
	if err != nil {
		dlog.Tracef(ctx, "   PKT %s, accept: %v", tuple, err)
		return
	}
	mgr.onSyn(ctx, tuple, conn)
}
