// Package tunnel reaches services that are only routable from behind an
// SSH gateway.  The relay's forward mode uses it to expose a remote TCP
// service to a WebSocket client as if it were a local program.
package tunnel

import (
	"context"
	"net"
)

// Tunnel is an encrypted path through which TCP connections can be
// opened.
type Tunnel interface {
	Connect(ctx context.Context) error
	Dial(ctx context.Context, network, address string) (net.Conn, error)
	Close() error
	IsAlive() bool
}
