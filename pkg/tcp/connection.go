// Package tcp implements the per-connection TCP protocol engine: sequence
// arithmetic, send/receive sequence spaces, the RFC 793 state subset, and the
// accept/on_packet/on_timer/write/close operations that drive it.
package tcp

import (
	"context"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/pkg/errors"

	"github.com/vifnet/tcpstack/pkg/wire"
)

// Default configuration values. DefaultISS is advisory — production
// deployments should randomize it; DefaultWindowSize is a toy value suitable
// for local testing only.
const (
	MTU               = 1500
	TTL               = 64
	DefaultISS        = 0
	DefaultWindowSize = 10
	DefaultSendQueue  = 1024
	ipHdrLen          = wire.IPv4HeaderLen
	tcpHdrLen         = wire.TCPHeaderLen

	maxSegmentBudget = MTU - ipHdrLen - tcpHdrLen

	retransmitFloor  = 1 * time.Second
	retransmitFactor = 1.5
)

// Params carries the per-interface tuning knobs a caller may vary: initial
// send sequence number, advertised window, and send-queue capacity. There is
// no surface for these beyond plain Go values — no flags, files, or env vars.
type Params struct {
	ISS           uint32
	WindowSize    uint16
	SendQueueSize int
}

// DefaultParams returns the toy values named as configuration constants.
func DefaultParams() Params {
	return Params{ISS: DefaultISS, WindowSize: DefaultWindowSize, SendQueueSize: DefaultSendQueue}
}

// Available reports what wakeups a Connection's caller may need to issue
// after on_packet returns.
type Available uint8

const (
	AvailRead Available = 1 << iota
	AvailWrite
)

// Connection is the per-four-tuple TCP protocol engine: one instance per
// accepted connection, mutated only by whoever holds the owning manager's
// lock.
type Connection struct {
	Tuple FourTuple

	state   State
	send    SendSequenceSpace
	receive ReceiveSequenceSpace
	timers  *Timers

	ipTemplate  wire.IPv4Header
	tcpTemplate wire.TCPHeader

	ingress []byte
	unacked []byte

	sendQueueSize int

	closed   bool
	closedAt *uint32
}

// Writer hands a fully serialized IPv4+TCP+payload frame to the TUN
// interface. Implementations must tolerate concurrent calls from multiple
// connections, or serialize internally.
type Writer interface {
	WriteFrame(ctx context.Context, frame []byte) error
}

// Accept builds a new Connection from the first segment seen on a listening
// port. The segment must carry SYN; any other segment fails with
// ErrUnexpectedSegment and must not be turned into a Connection by the
// caller.
func Accept(ctx context.Context, tuple FourTuple, seg wire.TCPHeader, payload []byte, w Writer, params Params) (*Connection, error) {
	if !seg.Flags.SYN {
		return nil, ErrUnexpectedSegment
	}

	c := &Connection{
		Tuple:         tuple,
		timers:        NewTimers(),
		sendQueueSize: params.SendQueueSize,
	}
	c.receive = ReceiveSequenceSpace{
		IRS:    seg.Seq,
		NXT:    seg.Seq + 1,
		WND:    uint32(seg.Window),
		Urgent: seg.Flags.URG,
	}
	c.send = SendSequenceSpace{
		ISS: params.ISS,
		UNA: params.ISS,
		NXT: params.ISS,
		WND: uint32(params.WindowSize),
		WL1: seg.Seq,
		WL2: params.ISS + uint32(params.WindowSize),
	}

	c.ipTemplate = wire.IPv4Header{
		TTL:      TTL,
		Protocol: wire.ProtoTCP,
		Src:      tuple.DstIP,
		Dst:      tuple.SrcIP,
	}
	c.tcpTemplate = wire.TCPHeader{
		SrcPort: tuple.DstPort,
		DstPort: tuple.SrcPort,
		Window:  params.WindowSize,
	}

	c.state = StateSynReceived
	dlog.Debugf(ctx, "   CON %s, accepted, seq %d wnd %d", tuple, seg.Seq, seg.Window)

	c.tcpTemplate.Flags.SYN = true
	c.tcpTemplate.Flags.ACK = true
	if _, err := c.writeSegment(ctx, w, c.send.ISS, 0, time.Now()); err != nil {
		return nil, err
	}
	return c, nil
}

// writeSegment emits at most one segment whose payload is the contiguous
// prefix of unacked beginning at logical offset startSeq-send.UNA.
func (c *Connection) writeSegment(ctx context.Context, w Writer, startSeq uint32, limitBytes int, now time.Time) (int, error) {
	offset := int(int32(startSeq - c.send.UNA))
	if c.closedAt != nil && startSeq == *c.closedAt+1 {
		offset = 0
		limitBytes = 0
	}
	if offset < 0 {
		offset = 0
	}

	var data []byte
	if offset < len(c.unacked) {
		end := offset + limitBytes
		if end > len(c.unacked) {
			end = len(c.unacked)
		}
		if end-offset > maxSegmentBudget {
			end = offset + maxSegmentBudget
		}
		data = c.unacked[offset:end]
	}

	c.tcpTemplate.Seq = startSeq
	c.tcpTemplate.Ack = c.receive.NXT

	buf := make([]byte, ipHdrLen+tcpHdrLen+len(data))
	c.tcpTemplate.Put(buf[ipHdrLen:], c.ipTemplate.Src, c.ipTemplate.Dst, data)
	c.ipTemplate.Put(buf, tcpHdrLen+len(data))

	if err := w.WriteFrame(ctx, buf); err != nil {
		return 0, errors.Wrap(err, "write tun")
	}

	nextSeq := startSeq + uint32(len(data))
	if c.tcpTemplate.Flags.SYN {
		nextSeq++
		c.tcpTemplate.Flags.SYN = false
	}
	if c.tcpTemplate.Flags.FIN {
		nextSeq++
		c.tcpTemplate.Flags.FIN = false
	}
	if WrappingLT(c.send.NXT, nextSeq) {
		c.send.NXT = nextSeq
	}
	c.timers.Record(startSeq, now)

	return len(data), nil
}

// OnPacket drives the state machine for one incoming segment already parsed
// off the wire. It returns the set of wakeups the caller (under the manager
// lock) should signal once it releases that lock.
func (c *Connection) OnPacket(ctx context.Context, w Writer, seg wire.TCPHeader, data []byte, now time.Time) (Available, error) {
	slen := uint32(len(data))
	if seg.Flags.SYN {
		slen++
	}
	if seg.Flags.FIN {
		slen++
	}
	wend := c.receive.NXT + uint32(c.receive.WND)

	acceptable := false
	switch {
	case slen == 0 && c.receive.WND == 0:
		acceptable = seg.Seq == c.receive.NXT
	case slen == 0 && c.receive.WND > 0:
		acceptable = BetweenWrapped(c.receive.NXT-1, seg.Seq, wend)
	case slen > 0 && c.receive.WND == 0:
		acceptable = false
	default:
		acceptable = BetweenWrapped(c.receive.NXT-1, seg.Seq, wend) ||
			BetweenWrapped(c.receive.NXT-1, seg.Seq+slen-1, wend)
	}

	if !acceptable {
		dlog.Tracef(ctx, "   CON %s, unacceptable segment sq %d, dropping", c.Tuple, seg.Seq)
		if err := c.emitBareAck(ctx, w, now); err != nil {
			return 0, err
		}
		return 0, nil
	}

	if !seg.Flags.ACK {
		if seg.Flags.SYN {
			c.receive.NXT = seg.Seq + 1
		}
		return 0, nil
	}

	// These two checks are sequential, not mutually exclusive: a SYN-RECEIVED
	// segment that completes the handshake falls straight through into the
	// UNA-advance check below, evaluated against the just-updated state.
	if c.state == StateSynReceived && BetweenWrapped(c.send.UNA-1, seg.Ack, c.send.NXT+1) {
		c.setState(ctx, StateEstablished)
	}
	if c.state == StateEstablished || c.state == StateFinWait1 || c.state == StateFinWait2 {
		if BetweenWrapped(c.send.UNA, seg.Ack, c.send.NXT+1) {
			oldUNA := c.send.UNA
			c.advanceUNA(oldUNA, seg.Ack)
			c.timers.PurgeAcked(oldUNA, seg.Ack, now)
		}
	}
	if c.state == StateFinWait1 && c.closedAt != nil && c.send.UNA == *c.closedAt+1 {
		c.setState(ctx, StateFinWait2)
	}

	avail := Available(0)
	if len(data) > 0 && (c.state == StateEstablished || c.state == StateFinWait1 || c.state == StateFinWait2) {
		dataOff := int(int32(c.receive.NXT - seg.Seq))
		if dataOff > len(data) || dataOff < 0 {
			dataOff = 0
		}
		c.ingress = append(c.ingress, data[dataOff:]...)
		c.receive.NXT = seg.Seq + uint32(len(data))
		if err := c.emitBareAck(ctx, w, now); err != nil {
			return 0, err
		}
	}

	if seg.Flags.FIN {
		if c.state == StateFinWait2 {
			c.receive.NXT++
			if err := c.emitBareAck(ctx, w, now); err != nil {
				return 0, err
			}
			c.setState(ctx, StateTimeWait)
		}
		// Other states would transition through CLOSE-WAIT/LAST-ACK/CLOSING
		// for a passive close; that path is not implemented here.
	}

	if c.isRecvClosed() || len(c.ingress) > 0 {
		avail |= AvailRead
	}
	return avail, nil
}

// advanceUNA moves send.UNA to ack, draining the newly-ACKed prefix of
// unacked. The first advance off ISS accounts for the SYN's sequence slot.
func (c *Connection) advanceUNA(oldUNA, ack uint32) {
	dataStart := oldUNA
	if oldUNA == c.send.ISS {
		dataStart = oldUNA + 1
	}
	drained := int(int32(ack - dataStart))
	if drained < 0 {
		drained = 0
	}
	if drained > len(c.unacked) {
		drained = len(c.unacked)
	}
	c.unacked = c.unacked[drained:]
	c.send.UNA = ack
}

func (c *Connection) emitBareAck(ctx context.Context, w Writer, now time.Time) error {
	c.tcpTemplate.Seq = c.send.NXT
	c.tcpTemplate.Ack = c.receive.NXT

	buf := make([]byte, ipHdrLen+tcpHdrLen)
	c.tcpTemplate.Put(buf[ipHdrLen:], c.ipTemplate.Src, c.ipTemplate.Dst, nil)
	c.ipTemplate.Put(buf, tcpHdrLen)

	if err := w.WriteFrame(ctx, buf); err != nil {
		return errors.Wrap(err, "write tun")
	}
	return nil
}

// OnTimer is invoked periodically (cadence >= 1 Hz) to decide between
// retransmit, transmit-new, or idle.
func (c *Connection) OnTimer(ctx context.Context, w Writer, now time.Time) error {
	if c.state == StateFinWait2 || c.state == StateTimeWait {
		return nil
	}

	unackedBound := c.send.NXT
	if c.closedAt != nil {
		unackedBound = *c.closedAt
	}
	unackedBytes := int(int32(unackedBound - c.send.UNA))
	if unackedBytes < 0 {
		unackedBytes = 0
	}
	unsentBytes := len(c.unacked) - unackedBytes
	if unsentBytes < 0 {
		unsentBytes = 0
	}

	waitedFor, haveWait := c.timers.OldestWait(c.send.UNA, now)
	srtt := c.timers.SRTT()

	if haveWait && waitedFor > retransmitFloor && float64(waitedFor) > retransmitFactor*float64(srtt) {
		resend := len(c.unacked)
		if resend > int(c.send.WND) {
			resend = int(c.send.WND)
		}
		if resend < int(c.send.WND) && c.closedAt != nil {
			c.tcpTemplate.Flags.FIN = true
			closedAt := c.send.NXT + uint32(len(c.unacked))
			c.closedAt = &closedAt
		}
		dlog.Tracef(ctx, "   CON %s, retransmit from %d, %d bytes", c.Tuple, c.send.UNA, resend)
		_, err := c.writeSegment(ctx, w, c.send.UNA, resend, now)
		return err
	}

	if unsentBytes == 0 && !c.closed {
		return nil
	}
	allowed := int(c.send.WND) - unackedBytes
	if allowed <= 0 {
		return nil
	}
	sendLen := unsentBytes
	if sendLen > allowed {
		sendLen = allowed
	}
	if sendLen < allowed && c.closed && c.closedAt == nil {
		c.tcpTemplate.Flags.FIN = true
		closedAt := c.send.NXT + uint32(len(c.unacked))
		c.closedAt = &closedAt
	}
	_, err := c.writeSegment(ctx, w, c.send.NXT, sendLen, now)
	return err
}

// Close begins an active close: the FIN is emitted by a later writeSegment
// (via OnTimer), not synchronously here.
func (c *Connection) Close(ctx context.Context) error {
	switch c.state {
	case StateSynReceived, StateEstablished:
		c.closed = true
		c.setState(ctx, StateFinWait1)
		return nil
	case StateFinWait1, StateFinWait2:
		c.closed = true
		return nil
	default:
		return ErrNotConnected
	}
}

// Write appends up to sendQueueSize-len(unacked) bytes from buf into the
// connection's unacked queue and returns the number copied.
func (c *Connection) Write(buf []byte) int {
	room := c.sendQueueSize - len(c.unacked)
	if room <= 0 {
		return 0
	}
	if len(buf) > room {
		buf = buf[:room]
	}
	c.unacked = append(c.unacked, buf...)
	return len(buf)
}

// UnackedLen and SendQueueSize let a caller implement the WouldBlock check
// ahead of Write, matching "fail WouldBlock instead of blocking" semantics.
func (c *Connection) UnackedLen() int    { return len(c.unacked) }
func (c *Connection) SendQueueSize() int { return c.sendQueueSize }

// Read drains up to len(buf) bytes from the front of ingress, FIFO.
func (c *Connection) Read(buf []byte) int {
	n := copy(buf, c.ingress)
	c.ingress = c.ingress[n:]
	return n
}

// isRecvClosed reports whether the peer's FIN has been fully absorbed, i.e.
// no more bytes will ever arrive on this connection's ingress.
func (c *Connection) isRecvClosed() bool {
	return c.state == StateTimeWait
}

// IngressEmpty reports whether Read would currently return 0 bytes.
func (c *Connection) IngressEmpty() bool {
	return len(c.ingress) == 0
}

// UnackedEmpty reports whether Flush should succeed.
func (c *Connection) UnackedEmpty() bool {
	return len(c.unacked) == 0
}

// State returns the connection's current state.
func (c *Connection) State() State {
	return c.state
}

func (c *Connection) setState(ctx context.Context, s State) {
	dlog.Debugf(ctx, "   CON %s, state %s -> %s", c.Tuple, c.state, s)
	c.state = s
}
