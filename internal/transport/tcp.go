package transport

import (
	"context"
	"net"
	"time"

	apperrors "termrelay/internal/errors"
)

// TCPDialer connects directly.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration // zero uses the net package default
}

// Dial connects to address.  Failures are returned as
// *errors.NetworkError so callers can tell refused (retryable) apart from
// fatal errors.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, apperrors.Wrap("dial", address, err)
	}
	return conn, nil
}

// Close is a no-op.
func (d *TCPDialer) Close() error { return nil }
