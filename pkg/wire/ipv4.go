// Package wire parses and serializes the IPv4 and TCP wire formats used to
// carry segments across the TUN boundary. It is the external codec named in
// the endpoint design: header parsing/serialization and checksums, nothing
// about connection state.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// IPv4HeaderLen is the length, in bytes, of an IPv4 header with no options.
// The endpoint never emits IP options. ParseIPv4Header accepts a peer header
// that carries options and skips past them (the returned offset is the
// declared header length); the options themselves are not parsed.
const IPv4HeaderLen = 20

// ProtoTCP is the IPv4 protocol number for TCP.
const ProtoTCP = 6

// IPv4Header is the subset of RFC 791 fields the endpoint needs to read or
// write. Version is always 4, IHL is always 5 (no options).
type IPv4Header struct {
	TOS      byte
	ID       uint16
	TTL      byte
	Protocol byte
	Src      uint32
	Dst      uint32
}

// ParseIPv4Header parses the IPv4 header at the front of b. It returns the
// parsed header and the offset at which the payload (e.g. a TCP segment)
// begins.
func ParseIPv4Header(b []byte) (IPv4Header, int, error) {
	if len(b) < IPv4HeaderLen {
		return IPv4Header{}, 0, errors.New("ipv4 frame shorter than a header")
	}
	verIHL := b[0]
	if verIHL>>4 != 4 {
		return IPv4Header{}, 0, errors.Errorf("not an IPv4 frame (version %d)", verIHL>>4)
	}
	ihl := int(verIHL&0x0f) * 4
	if ihl < IPv4HeaderLen {
		return IPv4Header{}, 0, errors.New("ipv4 header length field too small")
	}
	if len(b) < ihl {
		return IPv4Header{}, 0, errors.New("ipv4 frame shorter than declared header length")
	}
	h := IPv4Header{
		TOS:      b[1],
		TTL:      b[8],
		Protocol: b[9],
		Src:      binary.BigEndian.Uint32(b[12:16]),
		Dst:      binary.BigEndian.Uint32(b[16:20]),
	}
	h.ID = binary.BigEndian.Uint16(b[4:6])
	return h, ihl, nil
}

// Put serializes h into buf (which must be at least IPv4HeaderLen bytes) with
// the given total payload length (the length of whatever follows the IP
// header, e.g. TCP header + TCP payload), and returns IPv4HeaderLen.
func (h IPv4Header) Put(buf []byte, payloadLen int) int {
	buf[0] = 0x45 // version 4, IHL 5
	buf[1] = h.TOS
	binary.BigEndian.PutUint16(buf[2:4], uint16(IPv4HeaderLen+payloadLen))
	binary.BigEndian.PutUint16(buf[4:6], h.ID)
	binary.BigEndian.PutUint16(buf[6:8], 0) // flags/fragment offset: never fragmented
	buf[8] = h.TTL
	buf[9] = h.Protocol
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum, filled below
	binary.BigEndian.PutUint32(buf[12:16], h.Src)
	binary.BigEndian.PutUint32(buf[16:20], h.Dst)
	binary.BigEndian.PutUint16(buf[10:12], checksum(buf[:IPv4HeaderLen]))
	return IPv4HeaderLen
}
