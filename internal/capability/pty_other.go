//go:build !unix

package capability

import (
	"context"
	"errors"

	"termrelay/internal/session"
)

// PTY is unavailable on this platform; Start always fails, which the
// relay reports to the client as a session initialisation failure.
type PTY struct {
	Exec
	Term string
}

// Start reports that pseudo-terminals are unsupported.
func (p *PTY) Start(context.Context, session.Streams) (Process, error) {
	return nil, errors.New("pty: not supported on this platform")
}
