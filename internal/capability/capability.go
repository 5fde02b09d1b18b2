// Package capability starts the interactive application a relay session
// drives.  Each Capability receives the session's streams in place of the
// real standard streams and returns a handle to wait on.
package capability

import (
	"context"
	"fmt"
	"io"

	"termrelay/internal/protocol"
	"termrelay/internal/session"
	"termrelay/util"
)

// Capability starts one interactive application against streams.  A
// Start error is a session initialisation failure.  Cancelling ctx asks
// the application to stop.
type Capability interface {
	Start(ctx context.Context, streams session.Streams) (Process, error)
}

// Process is a running application.
type Process interface {
	// Wait blocks until the application has exited and its output has
	// been delivered to the session's streams.
	Wait() error
}

// Func adapts an in-process function into a Capability.  The function
// runs on its own goroutine; its return value, or a recovered panic, is
// the Process's Wait result.
type Func func(ctx context.Context, streams session.Streams) error

// Start runs f in the background.
func (f Func) Start(ctx context.Context, streams session.Streams) (Process, error) {
	p := &funcProcess{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer func() {
			if r := recover(); r != nil {
				p.err = fmt.Errorf("application panic: %v", r)
			}
		}()
		p.err = f(ctx, streams)
	}()
	return p, nil
}

type funcProcess struct {
	done chan struct{}
	err  error
}

func (p *funcProcess) Wait() error {
	<-p.done
	return p.err
}

// pump copies src to dst through a pooled buffer until either side
// stops.
func pump(dst io.Writer, src io.Reader) error {
	buf := util.GetBuf()
	defer util.PutBuf(buf)
	_, err := io.CopyBuffer(dst, onlyReader{src}, *buf)
	return err
}

// onlyReader hides WriterTo so CopyBuffer uses the pooled buffer.
type onlyReader struct{ io.Reader }

// ignoreResize drains resize events for applications that have no
// terminal to resize.
func ignoreResize(ctx context.Context, resize <-chan protocol.Size, logger *util.Logger) {
	if resize == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-resize:
			logger.Debug("resize to %s ignored: no terminal attached", s)
		}
	}
}
