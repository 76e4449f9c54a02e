package tcp

import "fmt"

// FourTuple identifies a connection. Per the endpoint's point of view, Src is
// always the peer's address and Dst is always the local address — the
// orientation observed on the arriving SYN, held fixed for the connection's
// lifetime.
type FourTuple struct {
	SrcIP   uint32
	SrcPort uint16
	DstIP   uint32
	DstPort uint16
}

func (t FourTuple) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", ipString(t.SrcIP), t.SrcPort, ipString(t.DstIP), t.DstPort)
}

func ipString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}
