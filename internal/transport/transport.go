// Package transport opens the outbound connections used by forward mode,
// where the interactive program is a TCP service rather than a child
// process.  A Dialer either connects directly or through an SSH gateway.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections.
type Dialer interface {
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases long-lived resources such as a gateway connection.
	// Stateless dialers return nil.
	Close() error
}
