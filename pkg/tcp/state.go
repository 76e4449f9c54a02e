package tcp

// State is a connection's position in the subset of the RFC 793 state
// diagram this engine implements. Passive close (CLOSE-WAIT, LAST-ACK,
// CLOSING) is not one of them: a FIN arriving outside FIN-WAIT-2 is accepted
// onto the wire but produces no transition, since only the active-close path
// is supported here.
type State int32

const (
	StateSynReceived State = iota
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateSynReceived:
		return "SYN-RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateTimeWait:
		return "TIME-WAIT"
	default:
		return "UNKNOWN"
	}
}
