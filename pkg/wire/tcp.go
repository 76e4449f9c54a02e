package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// TCPHeaderLen is the length, in bytes, of a TCP header with no options. The
// endpoint never emits TCP options (MSS/window-size defaults only, no options
// on the wire) and only reads the peer's window/urgent fields from an
// incoming header, so option bytes on inbound segments are skipped rather
// than parsed.
const TCPHeaderLen = 20

// TCPFlags holds the control bits of a TCP header. Urgent data and the urgent
// pointer are read but never acted on (out of scope).
type TCPFlags struct {
	FIN bool
	SYN bool
	RST bool
	PSH bool
	ACK bool
	URG bool
}

// TCPHeader is the subset of RFC 793 fields the endpoint reads or writes.
type TCPHeader struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   TCPFlags
	Window  uint16
	Urgent  uint16
}

// ParseTCPHeader parses the TCP header at the front of b (which must start
// exactly at the TCP header, as IPv4 has already been stripped) and returns
// the header and the payload that follows it.
func ParseTCPHeader(b []byte) (TCPHeader, []byte, error) {
	if len(b) < TCPHeaderLen {
		return TCPHeader{}, nil, errors.New("tcp segment shorter than a header")
	}
	dataOffset := int(b[12]>>4) * 4
	if dataOffset < TCPHeaderLen {
		return TCPHeader{}, nil, errors.New("tcp data offset field too small")
	}
	if len(b) < dataOffset {
		return TCPHeader{}, nil, errors.New("tcp segment shorter than declared data offset")
	}
	flags := b[13]
	h := TCPHeader{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Seq:     binary.BigEndian.Uint32(b[4:8]),
		Ack:     binary.BigEndian.Uint32(b[8:12]),
		Flags: TCPFlags{
			FIN: flags&0x01 != 0,
			SYN: flags&0x02 != 0,
			RST: flags&0x04 != 0,
			PSH: flags&0x08 != 0,
			ACK: flags&0x10 != 0,
			URG: flags&0x20 != 0,
		},
		Window: binary.BigEndian.Uint16(b[14:16]),
		Urgent: binary.BigEndian.Uint16(b[18:20]),
	}
	return h, b[dataOffset:], nil
}

func (f TCPFlags) byte() byte {
	var v byte
	if f.FIN {
		v |= 0x01
	}
	if f.SYN {
		v |= 0x02
	}
	if f.RST {
		v |= 0x04
	}
	if f.PSH {
		v |= 0x08
	}
	if f.ACK {
		v |= 0x10
	}
	if f.URG {
		v |= 0x20
	}
	return v
}

// Put serializes h and payload into buf (which must be at least
// TCPHeaderLen+len(payload) bytes), computes the checksum over the TCP
// pseudo-header + header + payload, and returns the total number of bytes
// written.
func (h TCPHeader) Put(buf []byte, srcIP, dstIP uint32, payload []byte) int {
	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], h.Ack)
	buf[12] = byte(TCPHeaderLen/4) << 4
	buf[13] = h.Flags.byte()
	binary.BigEndian.PutUint16(buf[14:16], h.Window)
	binary.BigEndian.PutUint16(buf[16:18], 0) // checksum, filled below
	binary.BigEndian.PutUint16(buf[18:20], h.Urgent)
	n := TCPHeaderLen + copy(buf[TCPHeaderLen:], payload)

	sum := pseudoHeaderSum(srcIP, dstIP, ProtoTCP, uint16(n))
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buf[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(buf[n-1]) << 8
	}
	binary.BigEndian.PutUint16(buf[16:18], foldChecksum(sum))
	return n
}
