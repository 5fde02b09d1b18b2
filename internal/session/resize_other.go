//go:build !unix

package session

import (
	"context"
	"time"

	"golang.org/x/term"

	"termrelay/internal/protocol"
)

const resizePollInterval = 250 * time.Millisecond

// WatchLocalResize polls the size of the terminal on fd and reports each
// change until ctx is done.  It returns nil when fd is not a terminal.
func WatchLocalResize(ctx context.Context, fd int) <-chan protocol.Size {
	if !term.IsTerminal(fd) {
		return nil
	}

	out := make(chan protocol.Size, 1)
	go func() {
		ticker := time.NewTicker(resizePollInterval)
		defer ticker.Stop()
		last := emitSize(fd, out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w, h, err := term.GetSize(fd); err == nil && (w != last.Columns || h != last.Rows) {
					last = emitSize(fd, out)
				}
			}
		}
	}()
	return out
}
