package util

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
)

// DefaultBufSize is the standard buffer size for stream I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// BidirectionalCopy shuffles data between a network connection and a
// session's reader/writer pair until the remote side reaches EOF, a copy
// fails, or the context is cancelled.
//
// The reader side is not waited for: a session reader only unblocks when
// its relay channel delivers input or closes, so the input copy is left
// to finish on its own once conn is closed.
func BidirectionalCopy(ctx context.Context, conn net.Conn, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	// network → writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := io.Copy(w, conn)
		errCh <- err
		cancel()
	}()

	// reader → network
	go func() {
		_, err := io.Copy(conn, r)
		// Half-close so the remote sees EOF but can still send.
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.CloseWrite() //nolint:errcheck
		}
		errCh <- err
		if err != nil {
			cancel()
		}
	}()

	<-ctx.Done()
	conn.Close() // unblock any pending reads/writes
	wg.Wait()

	for {
		select {
		case err := <-errCh:
			if !IsHarmless(err) {
				return err
			}
		default:
			return nil
		}
	}
}

// IsHarmless returns true for errors that are expected during shutdown:
// EOF and the various "already closed" conditions.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
