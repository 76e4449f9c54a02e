package vif_test

import (
	"context"
	"fmt"

	"github.com/vifnet/tcpstack/pkg/vif"
)

// This example has no "Output:" comment, so go test compiles it but does not
// run it: opening a real TUN device requires a privileged process and a
// routed address, neither of which a unit test can assume.
func Example() {
	ctx := context.Background()
	iface, err := vif.Open(ctx, vif.DefaultConfig())
	if err != nil {
		panic(err)
	}
	defer iface.Close()

	listener, err := iface.Bind(6000)
	if err != nil {
		panic(err)
	}
	defer listener.Close()

	for {
		stream, err := listener.Accept(ctx)
		if err != nil {
			break
		}
		fmt.Println("connected", stream.Tuple())
	}
}
