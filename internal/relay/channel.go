// Package relay adapts one message-oriented WebSocket connection into the
// byte streams an interactive program expects: a readable stdin, writable
// stdout and stderr, and a typed stream of terminal resize events.
//
// The channel knows nothing about sessions.  It only frames and unframes.
package relay

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "termrelay/internal/errors"
	"termrelay/internal/metrics"
	"termrelay/internal/protocol"
	"termrelay/util"
)

// Conn is the subset of *websocket.Conn the channel uses.
//
// ReadMessage is only ever called from [Channel.Serve], and WriteMessage
// only from the channel's sender goroutine.  WriteControl and Close may be
// called concurrently with both, as gorilla permits.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

const (
	// DefaultBacklog is the number of outbound frames queued before
	// further writes are dropped.
	DefaultBacklog = 256
	// DefaultWriteTimeout bounds a single transport write.
	DefaultWriteTimeout = 10 * time.Second

	resizeBuffer = 4
)

// Options tunes a Channel.  The zero value is usable.
type Options struct {
	Backlog      int
	WriteTimeout time.Duration
	Logger       *util.Logger
	Metrics      *metrics.Collector
}

type outbound struct {
	msg     []byte
	payload int
}

// Channel multiplexes one Conn into stream endpoints.  Create it with
// [New]; it owns the Conn from then on.
type Channel struct {
	conn    Conn
	remote  string
	timeout time.Duration
	logger  *util.Logger
	metrics *metrics.Collector

	input  *inputBuffer
	stdout *outputStream
	stderr *outputStream
	resize chan protocol.Size

	queue      chan outbound
	closing    chan struct{} // closed first: stop accepting output
	senderDone chan struct{}
	done       chan struct{} // closed last: everything released
	closed     atomic.Bool
	flush      atomic.Bool

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// New wraps conn and starts the sender goroutine.
func New(conn Conn, opts Options) *Channel {
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}

	c := &Channel{
		conn:       conn,
		remote:     remoteString(conn),
		timeout:    opts.WriteTimeout,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		input:      newInputBuffer(),
		resize:     make(chan protocol.Size, resizeBuffer),
		queue:      make(chan outbound, opts.Backlog),
		closing:    make(chan struct{}),
		senderDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.stdout = &outputStream{ch: c, typ: protocol.TypeStdout}
	c.stderr = &outputStream{ch: c, typ: protocol.TypeStderr}

	go c.sendLoop()
	return c
}

// Stdin returns the pull-based input endpoint.  Read blocks until stdin
// frames arrive and returns io.EOF only once the channel has closed and
// every buffered byte was consumed.
func (c *Channel) Stdin() io.Reader { return c.input }

// Stdout returns the endpoint that frames writes as "stdout" messages.
func (c *Channel) Stdout() io.Writer { return c.stdout }

// Stderr returns the endpoint that frames writes as "stderr" messages.
func (c *Channel) Stderr() io.Writer { return c.stderr }

// RemoteAddr returns the client's address as reported by the transport.
func (c *Channel) RemoteAddr() string { return c.remote }

func remoteString(conn Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}

// Resize delivers terminal size changes received from the client.  When
// the consumer falls behind, the oldest pending event is replaced so the
// latest size is never lost.  The channel is never closed; watch [Done].
func (c *Channel) Resize() <-chan protocol.Size { return c.resize }

// Done is closed once the channel has fully shut down, whatever the cause.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err reports why the channel closed.  It is nil while the channel is open
// and after a clean close by either side.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Closed reports whether the channel has begun shutting down.
func (c *Channel) Closed() bool { return c.closed.Load() }

// WriteInput handles one raw transport message from the client.  stdin
// frames feed the input endpoint and resize frames raise a resize event.
// Anything else is dropped without effect.
func (c *Channel) WriteInput(raw []byte) {
	f, ok := protocol.Decode(raw)
	if !ok {
		c.metrics.FrameMalformed()
		c.logger.Debug("ignoring malformed frame (%d bytes)", len(raw))
		return
	}

	switch f.Type {
	case protocol.TypeStdin:
		c.metrics.FrameReceived(len(f.Data))
		c.input.push(f.Data)
	case protocol.TypeResize:
		c.metrics.FrameReceived(0)
		c.metrics.Resize()
		c.publishResize(*f.Size)
	default:
		// stdout/stderr only flow server → client.
		c.metrics.FrameMalformed()
		c.logger.Debug("ignoring %s frame from client", f.Type)
	}
}

func (c *Channel) publishResize(s protocol.Size) {
	for {
		select {
		case c.resize <- s:
			return
		default:
		}
		select {
		case <-c.resize:
		default:
		}
	}
}

// Serve reads transport messages until the client disconnects, the
// transport fails, or ctx is cancelled, and then closes the channel.  It
// returns the transport error, or nil for a clean close.
func (c *Channel) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.CloseWithReason(protocol.CloseNormal, protocol.ReasonServerShutdown) //nolint:errcheck
	})
	defer stop()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if isCleanClose(err) || c.Closed() {
				err = nil
			} else {
				err = apperrors.Wrap("read", c.remote, err)
			}
			c.shutdown(err, 0, "", false)
			return err
		}
		c.WriteInput(raw)
	}
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) || util.IsHarmless(err)
}

// Close closes the channel with a normal close code, flushing output
// already queued.  It is idempotent.
func (c *Channel) Close() error {
	return c.CloseWithReason(protocol.CloseNormal, "")
}

// CloseWithReason flushes queued output, sends a close frame carrying
// code and reason, and closes the connection.  Only the first close of
// any kind has an effect.
func (c *Channel) CloseWithReason(code int, reason string) error {
	c.shutdown(nil, code, reason, true)
	return nil
}

// shutdown tears the channel down exactly once.  A zero code sends no
// close frame, which is what a failed or remotely closed transport needs.
func (c *Channel) shutdown(cause error, code int, reason string, flush bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()

		c.flush.Store(flush)
		c.closed.Store(true)
		close(c.closing)
		c.input.close()

		select {
		case <-c.senderDone:
		case <-time.After(c.timeout):
			c.logger.Debug("sender did not drain within %s", c.timeout)
		}

		if code != 0 {
			msg := websocket.FormatCloseMessage(code, reason)
			if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil && !util.IsHarmless(err) {
				c.logger.Debug("close frame: %v", err)
			}
		}
		c.conn.Close() //nolint:errcheck
		close(c.done)
	})
}

// enqueue hands one encoded frame to the sender without blocking.  Frames
// are dropped when the channel is closing or the backlog is full.
func (c *Channel) enqueue(typ protocol.Type, data string) {
	if c.Closed() {
		c.metrics.FrameDropped()
		return
	}
	msg, err := protocol.Encode(protocol.Data(typ, data))
	if err != nil {
		c.logger.Error("dropping %s frame: %v", typ, err)
		c.metrics.RecordError(err.Error())
		return
	}
	select {
	case c.queue <- outbound{msg: msg, payload: len(data)}:
	default:
		c.metrics.FrameDropped()
		c.logger.Debug("backlog full, dropped %s frame (%d bytes)", typ, len(data))
	}
}

func (c *Channel) sendLoop() {
	defer close(c.senderDone)
	for {
		select {
		case o := <-c.queue:
			if err := c.send(o); err != nil {
				c.failSend(err)
				return
			}
		case <-c.closing:
			if c.flush.Load() {
				c.drain()
			}
			return
		}
	}
}

func (c *Channel) drain() {
	for {
		select {
		case o := <-c.queue:
			if err := c.send(o); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Channel) send(o outbound) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout)) //nolint:errcheck
	if err := c.conn.WriteMessage(websocket.TextMessage, o.msg); err != nil {
		return err
	}
	c.metrics.FrameSent(o.payload)
	return nil
}

// failSend closes the channel after a transport write error.  It runs the
// shutdown on a new goroutine because shutdown waits for the sender.
func (c *Channel) failSend(err error) {
	if c.Closed() || util.IsHarmless(err) {
		go c.shutdown(nil, 0, "", false)
		return
	}
	c.logger.Verbose("transport write failed: %v", err)
	go c.shutdown(apperrors.Wrap("write", c.remote, err), 0, "", false)
}
