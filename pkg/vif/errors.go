package vif

import "github.com/pkg/errors"

// Sentinel errors returned across the public API surface. Callers compare
// with errors.Is.
var (
	// ErrAddrInUse is returned by Bind when the port is already registered.
	ErrAddrInUse = errors.New("vif: address already in use")

	// ErrBrokenPipe is returned by Stream/Listener operations once their
	// connection, or the port's backlog, has been removed from the manager.
	ErrBrokenPipe = errors.New("vif: broken pipe")

	// ErrWouldBlock is returned by Stream.Write when the send queue is full,
	// and by Stream.Flush while unacked data remains. Neither blocks the
	// caller in this version.
	ErrWouldBlock = errors.New("vif: would block")
)
