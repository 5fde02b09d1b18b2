package capability

import (
	"context"
	"fmt"
	"net"

	"termrelay/internal/retry"
	"termrelay/internal/session"
	"termrelay/internal/transport"
	"termrelay/util"
)

// Forward makes a TCP service the interactive application: client input
// is written to the service and its replies come back as stdout frames.
// With an SSH dialer the service may sit behind a gateway.
type Forward struct {
	Dialer  transport.Dialer
	Network string // default "tcp"
	Address string
	Logger  *util.Logger

	// Breaker, when set, fails sessions fast while the target keeps
	// refusing connections.
	Breaker *retry.Breaker
}

// Start dials the service.  A dial failure is a session initialisation
// failure.
func (f *Forward) Start(ctx context.Context, streams session.Streams) (Process, error) {
	log := f.Logger
	if log == nil {
		log = util.NewLogger(0)
	}
	network := f.Network
	if network == "" {
		network = "tcp"
	}

	var conn net.Conn
	dial := func() (err error) {
		conn, err = f.Dialer.Dial(ctx, network, f.Address)
		return err
	}
	var err error
	if f.Breaker != nil {
		err = f.Breaker.Do(dial)
	} else {
		err = dial()
	}
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", f.Address, err)
	}
	log.Verbose("forwarding to %s (%s)", f.Address, conn.RemoteAddr())

	ctx, cancel := context.WithCancel(ctx)
	go ignoreResize(ctx, streams.Resize, log)

	p := &funcProcess{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer cancel()
		p.err = util.BidirectionalCopy(ctx, conn, streams.In, streams.Out)
		log.Debug("forward to %s finished", f.Address)
	}()
	return p, nil
}
