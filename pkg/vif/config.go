package vif

import (
	"time"

	"github.com/vifnet/tcpstack/pkg/tcp"
)

// Config tunes a single Interface. There is no CLI flag, configuration file,
// or environment variable parsing anywhere in this package: callers build a
// Config in code and pass it to New.
type Config struct {
	// MTU sizes the buffer frames are read into from the TUN device. Outgoing
	// segments are capped by the tcp package's fixed MTU constant, not by
	// this field.
	MTU int

	// ISS seeds every accepted connection's initial send sequence number.
	// Advisory: production deployments should randomize it per connection.
	ISS uint32

	// WindowSize is the receive window a new Connection advertises to its
	// peer. Production deployments should use a much larger value; the
	// default here favors predictable tests over throughput.
	WindowSize uint16

	// SendQueueSize bounds how many unacknowledged-or-unsent bytes a Stream
	// will buffer before Write reports WouldBlock.
	SendQueueSize int

	// TimerInterval is the cadence at which the timer driver invokes
	// Connection.OnTimer for every live connection. Must be <= 1s to meet
	// the >=1Hz requirement on the retransmit/new-data decision loop.
	TimerInterval time.Duration
}

// DefaultConfig mirrors the configuration constants: MTU 1500, window size
// 10, a 1024-byte send queue, and a 200ms timer cadence.
func DefaultConfig() Config {
	return Config{
		MTU:           1500,
		ISS:           0,
		WindowSize:    10,
		SendQueueSize: 1024,
		TimerInterval: 200 * time.Millisecond,
	}
}

func (c Config) tcpParams() tcp.Params {
	return tcp.Params{ISS: c.ISS, WindowSize: c.WindowSize, SendQueueSize: c.SendQueueSize}
}
