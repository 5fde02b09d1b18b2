package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"termrelay/tunnel"
	"termrelay/util"
)

// SSHDialer routes connections through an SSH gateway.  The gateway
// connection is opened by [SSHDialer.Prepare] or lazily on the first
// Dial, then shared by every later session.
type SSHDialer struct {
	tunnel tunnel.Tunnel
	config *tunnel.SSHConfig
	logger *util.Logger

	mu       sync.Mutex
	prepared bool
}

// NewSSHDialer returns a dialer for the gateway described by cfg.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	return &SSHDialer{
		tunnel: tunnel.NewSSHTunnel(cfg, logger),
		config: cfg,
		logger: logger,
	}
}

// Prepare connects to the gateway now.  Serve mode calls it at startup so
// that credential prompts and gateway errors surface before any client
// connects.
func (d *SSHDialer) Prepare(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.prepared {
		return nil
	}
	d.logger.Verbose("connecting to SSH gateway %s@%s", d.config.User, d.config.Addr())
	if err := d.tunnel.Connect(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	d.prepared = true
	d.logger.Verbose("SSH gateway connected")
	return nil
}

// Dial opens address through the gateway.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.Prepare(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears the gateway connection down.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.prepared {
		return nil
	}
	d.prepared = false
	return d.tunnel.Close()
}
