//go:build unix

package session

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"termrelay/internal/protocol"
)

// WatchLocalResize reports the size of the terminal on fd, once at start
// and again after every SIGWINCH, until ctx is done.  It returns nil when
// fd is not a terminal.
func WatchLocalResize(ctx context.Context, fd int) <-chan protocol.Size {
	if !term.IsTerminal(fd) {
		return nil
	}

	out := make(chan protocol.Size, 1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGWINCH)

	go func() {
		defer signal.Stop(sigs)
		emitSize(fd, out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				emitSize(fd, out)
			}
		}
	}()
	return out
}
