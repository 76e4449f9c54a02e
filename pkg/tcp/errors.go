package tcp

import "github.com/pkg/errors"

// Sentinel errors returned from the connection engine. Callers compare with
// errors.Is.
var (
	// ErrUnexpectedSegment is returned by Accept when the first segment seen
	// for a new four-tuple is not a SYN; the caller must not insert the
	// connection into its table.
	ErrUnexpectedSegment = errors.New("tcp: unexpected segment, SYN not set")

	// ErrNotConnected is returned by Close when the connection is not in a
	// state from which an active close can begin.
	ErrNotConnected = errors.New("tcp: connection is not in a closable state")
)
