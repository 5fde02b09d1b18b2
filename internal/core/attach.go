package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	apperrors "termrelay/internal/errors"
	"termrelay/internal/metrics"
	"termrelay/internal/protocol"
	"termrelay/internal/retry"
	"termrelay/internal/session"
	"termrelay/util"
)

// AttachMode is the terminal client: it puts the local terminal in raw
// mode, sends keystrokes and window sizes to the relay and writes the
// remote output back.
type AttachMode struct {
	URL          string
	Reconnect    bool
	Backoff      *retry.Backoff // reconnect pacing; DefaultBackoff when nil
	WriteTimeout time.Duration
	Logger       *util.Logger
	Metrics      *metrics.Collector

	// Stdin, Stdout and Stderr default to the process streams.  Raw mode
	// and local resize tracking apply only when Stdin is a terminal.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Resize overrides local window-size tracking.
	Resize <-chan protocol.Size

	Dialer *websocket.Dialer
}

// errEnded is a session the server ended normally.  It stops the
// reconnect loop without being reported.
var errEnded = errors.New("session ended")

// attachState survives reconnects.
type attachState struct {
	input  <-chan []byte
	resize <-chan protocol.Size
	size   *protocol.Size
}

// Run attaches until the server ends the session, ctx is cancelled or
// reconnecting gives up.
func (m *AttachMode) Run(ctx context.Context) error {
	stdin := m.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	st := &attachState{resize: m.Resize}

	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		old, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(int(f.Fd()), old) //nolint:errcheck
		if st.resize == nil {
			st.resize = session.WatchLocalResize(ctx, int(f.Fd()))
		}
	}
	st.input = readInput(stdin)

	if !m.Reconnect {
		err := m.session(ctx, st)
		if retry.IsPermanent(err) {
			err = errors.Unwrap(err)
		}
		return m.result(ctx, err)
	}

	bo := m.Backoff
	if bo == nil {
		bo = retry.DefaultBackoff()
	}
	policy := *bo
	policy.OnRetry = func(_ int, err error, wait time.Duration) {
		m.status("reconnecting in %s", wait.Round(100*time.Millisecond))
	}
	err := policy.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			m.Metrics.Reconnect()
		}
		err := m.session(ctx, st)
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return err
	})
	return m.result(ctx, err)
}

func (m *AttachMode) result(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, errEnded) || ctx.Err() != nil {
		return nil
	}
	m.status("error: %v", err)
	return err
}

// session runs one connection.  It returns errEnded (wrapped as
// permanent) when the server closed normally, a permanent error when the
// server refused to start the session, and a plain error otherwise.
func (m *AttachMode) session(ctx context.Context, st *attachState) error {
	dialer := m.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	m.status("connecting to %s", m.URL)
	conn, resp, err := dialer.DialContext(ctx, m.URL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return apperrors.Wrap("dial", m.URL, err)
	}
	m.status("connected")
	m.Metrics.ConnectionOpened()
	defer m.Metrics.ConnectionClosed()

	readErr := make(chan error, 1)
	go func() { readErr <- m.readLoop(conn) }()
	defer func() {
		conn.Close()
		<-readErr
	}()

	if st.size != nil {
		if err := m.send(conn, protocol.Resize(st.size.Columns, st.size.Rows)); err != nil {
			return apperrors.Wrap("write", m.URL, err)
		}
	}

	input := st.input
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return ctx.Err()

		case err := <-readErr:
			readErr <- err // for the deferred wait
			return m.closed(err)

		case b, ok := <-input:
			if !ok {
				m.Logger.Debug("local input closed")
				input = nil
				continue
			}
			if err := m.send(conn, protocol.Data(protocol.TypeStdin, string(b))); err != nil {
				return apperrors.Wrap("write", m.URL, err)
			}

		case s, ok := <-st.resize:
			if !ok {
				st.resize = nil
				continue
			}
			st.size = &s
			m.Metrics.Resize()
			if err := m.send(conn, protocol.Resize(s.Columns, s.Rows)); err != nil {
				return apperrors.Wrap("write", m.URL, err)
			}
		}
	}
}

func (m *AttachMode) send(conn *websocket.Conn, f protocol.Frame) error {
	raw, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	timeout := m.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn.SetWriteDeadline(time.Now().Add(timeout)) //nolint:errcheck
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return err
	}
	m.Metrics.FrameSent(len(raw))
	return nil
}

// readLoop writes stdout and stderr frames to the local streams until the
// connection fails.
func (m *AttachMode) readLoop(conn *websocket.Conn) error {
	stdout, stderr := m.Stdout, m.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.Metrics.FrameReceived(len(raw))

		f, ok := protocol.Decode(raw)
		if !ok {
			m.Metrics.FrameMalformed()
			continue
		}
		switch f.Type {
		case protocol.TypeStdout:
			io.WriteString(stdout, f.Data) //nolint:errcheck
		case protocol.TypeStderr:
			io.WriteString(stderr, f.Data) //nolint:errcheck
		default:
			m.Metrics.FrameMalformed()
		}
	}
}

// closed turns the read error that ended a session into the Run policy.
func (m *AttachMode) closed(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		m.status("disconnected: %v", err)
		return apperrors.Wrap("read", m.URL, err)
	}

	reason := ce.Text
	if reason == "" {
		reason = fmt.Sprintf("close code %d", ce.Code)
	}
	switch ce.Code {
	case protocol.CloseNormal:
		m.status("disconnected: %s", reason)
		return retry.Permanent(errEnded)
	case protocol.CloseSessionInitFailed:
		return retry.Permanent(fmt.Errorf("server: %s", reason))
	case protocol.CloseSessionBusy:
		m.status("rejected: %s", reason)
		return fmt.Errorf("server: %s", reason)
	}
	m.status("disconnected: %s", reason)
	return apperrors.Wrap("read", m.URL, err)
}

// status prints one client status line.  "\r\n" keeps it readable while
// the terminal is in raw mode.
func (m *AttachMode) status(format string, args ...interface{}) {
	w := m.Stderr
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "[termrelay] "+format+"\r\n", args...)
}

// readInput forwards reads from r until it fails.  The goroutine outlives
// individual connections: a blocked terminal read cannot be interrupted.
// A rune split across reads is held back until it is complete.
func readInput(r io.Reader) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		bufp := util.GetBuf()
		defer util.PutBuf(bufp)
		buf := *bufp
		var carry []byte
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := append(carry, buf[:n]...)
				cut := protocol.CompletePrefix(data)
				carry = append([]byte(nil), data[cut:]...)
				if cut > 0 {
					out <- data[:cut]
				}
			}
			if err != nil {
				if len(carry) > 0 {
					out <- carry
				}
				return
			}
		}
	}()
	return out
}
