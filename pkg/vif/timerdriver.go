package vif

import (
	"context"
	"time"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"github.com/vifnet/tcpstack/pkg/tcp"
	"github.com/vifnet/tcpstack/pkg/tun"
)

// timerDriver ticks every interval, calling Connection.OnTimer for each live
// connection so retransmits and newly-written data get sent even with no
// incoming traffic to piggyback on.
func timerDriver(ctx context.Context, dev tun.Device, mgr *manager, interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			dlog.Errorf(ctx, "%+v", derror.PanicToError(r))
		}
	}()

	w := tunWriter{dev: dev}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tick(ctx, mgr, w, now)
		}
	}
}

func tick(ctx context.Context, mgr *manager, w tunWriter, now time.Time) {
	var reap []tcp.FourTuple
	mgr.each(func(tuple tcp.FourTuple, conn *tcp.Connection) {
		if conn.State() == tcp.StateTimeWait {
			reap = append(reap, tuple)
			return
		}
		if err := conn.OnTimer(ctx, w, now); err != nil {
			dlog.Errorf(ctx, "   CON %s, on_timer: %+v", tuple, err)
		}
	})
	// TIME-WAIT connections are reaped on the very next tick after entering
	// the state rather than after the RFC's full 2*MSL: this endpoint has no
	// way to observe duplicate late segments surviving that long on a TUN
	// device it fully controls, and holding the four-tuple open longer only
	// costs memory.
	for _, tuple := range reap {
		mgr.remove(tuple)
	}
}
