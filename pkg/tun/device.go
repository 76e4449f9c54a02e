// Package tun opens the layer-3 virtual network interface the endpoint reads
// IPv4 frames from and writes reply segments to.
package tun

import (
	"io"

	"github.com/pkg/errors"
	"github.com/songgao/water"
)

// Device is a no-packet-info, layer-3 TUN interface: reads and writes yield
// and accept complete IPv4 frames. It is implemented by *water.Interface and,
// in tests, by an in-memory fake.
type Device interface {
	io.ReadWriteCloser
}

// Open creates a new TUN interface in layer-3 mode. The kernel picks a
// default name (e.g. "tun0"); callers that need the OS to route traffic to it
// must configure the interface's address out of band (ip addr/ip link), which
// is outside this package's job.
func Open() (Device, error) {
	cfg := water.Config{DeviceType: water.TUN}
	iface, err := water.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open tun device")
	}
	return iface, nil
}
