// Package vif assembles the TUN device, the TCP protocol engine in pkg/tcp,
// and the wire codec in pkg/wire into a small userspace networking endpoint:
// bind a port, Accept connections on it, Read/Write their bytes.
package vif

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/vifnet/tcpstack/pkg/tcp"
	"github.com/vifnet/tcpstack/pkg/tun"
)

// Interface is one TUN device driven by the TCP engine. Callers Bind the
// ports they want to listen on, then Accept connections from the returned
// Listener.
type Interface struct {
	cfg Config
	dev tun.Device
	mgr *manager

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the protocol engine against an already-open TUN device. The
// caller owns device lifetime up to the point New is called; Close takes over
// from there.
func New(ctx context.Context, cfg Config, device tun.Device) (*Interface, error) {
	if cfg.MTU <= 0 {
		cfg.MTU = DefaultConfig().MTU
	}
	if cfg.TimerInterval <= 0 {
		cfg.TimerInterval = DefaultConfig().TimerInterval
	}

	loopCtx, cancel := context.WithCancel(ctx)
	iface := &Interface{
		cfg:    cfg,
		dev:    device,
		mgr:    newManager(),
		cancel: cancel,
	}

	params := cfg.tcpParams()
	iface.wg.Add(2)
	go func() {
		defer iface.wg.Done()
		packetLoop(loopCtx, device, iface.mgr, params, cfg.MTU)
	}()
	go func() {
		defer iface.wg.Done()
		timerDriver(loopCtx, device, iface.mgr, cfg.TimerInterval)
	}()

	return iface, nil
}

// Open is a convenience wrapper that opens a new TUN device via tun.Open and
// passes it to New.
func Open(ctx context.Context, cfg Config) (*Interface, error) {
	dev, err := tun.Open()
	if err != nil {
		return nil, err
	}
	iface, err := New(ctx, cfg, dev)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return iface, nil
}

// Bind starts listening for inbound connections on port.
func (iface *Interface) Bind(port uint16) (*Listener, error) {
	if err := iface.mgr.listen(port); err != nil {
		return nil, err
	}
	return &Listener{port: port, mgr: iface.mgr}, nil
}

// Close stops the packet and timer loops and closes the underlying TUN
// device, aggregating any errors encountered along the way.
func (iface *Interface) Close() error {
	iface.cancel()
	iface.mgr.shutdown()

	var result *multierror.Error
	// dev.Close unblocks a packetLoop parked in a blocking Read; cancel alone
	// cannot, since neither water.Interface nor the fake used in tests
	// interrupts an in-flight Read on context cancellation.
	if err := iface.dev.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	iface.wg.Wait()
	return result.ErrorOrNil()
}

// connectionCount reports the number of live connections, for tests and
// diagnostics.
func (iface *Interface) connectionCount() int {
	n := 0
	iface.mgr.each(func(tcp.FourTuple, *tcp.Connection) { n++ })
	return n
}
