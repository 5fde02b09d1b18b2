package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"termrelay/internal/capability"
	"termrelay/internal/manager"
	"termrelay/internal/metrics"
	"termrelay/internal/session"
	"termrelay/internal/transport"
	"termrelay/util"
)

// ServeMode runs the WebSocket relay: it listens, hands each upgrade to a
// manager.Manager and shuts down on ctx cancellation or when the last
// client has been gone for IdleGrace.
type ServeMode struct {
	Address string // host:port; ignored when Listener is set
	Path    string
	App     capability.Capability

	// Dialer is the forward-mode dialer, if any.  A gateway dialer is
	// connected before the server starts listening and closed on exit.
	Dialer transport.Dialer

	IdleGrace       time.Duration
	Backlog         int
	WriteTimeout    time.Duration
	DetachTimeout   time.Duration
	ShutdownTimeout time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector

	// Table defaults to session.Stdio, in which case the local terminal's
	// size changes are watched too.
	Table *session.Table

	// Listener, when set, is served instead of listening on Address.
	Listener net.Listener
}

type preparer interface {
	Prepare(ctx context.Context) error
}

// Run serves until ctx is cancelled or the idle timer fires.  Both are a
// clean exit.
func (m *ServeMode) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if m.Dialer != nil {
		defer m.Dialer.Close()
		if p, ok := m.Dialer.(preparer); ok {
			if err := p.Prepare(ctx); err != nil {
				return err
			}
		}
	}

	table := m.Table
	if table == nil {
		table = session.Stdio
		if r := session.WatchLocalResize(ctx, int(os.Stdin.Fd())); r != nil {
			table.SetResize(r) //nolint:errcheck // unbound at startup
		}
	}

	ln := m.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", m.Address)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", m.Address, err)
		}
	}

	var idle atomic.Bool
	mgr := manager.New(manager.Options{
		App:           m.App,
		Table:         table,
		IdleGrace:     m.IdleGrace,
		OnIdle:        func() { idle.Store(true); cancel() },
		DetachTimeout: m.DetachTimeout,
		Backlog:       m.Backlog,
		WriteTimeout:  m.WriteTimeout,
		Logger:        m.Logger,
		Metrics:       m.Metrics,
	})
	srv := &http.Server{
		Handler:           mgr.Handler(m.Path),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(serverLog{m.Logger}, "", 0),
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	m.Logger.Info("server ready and listening at %s", wsURL(ln.Addr(), m.Path))
	m.Logger.Info("waiting for a client to connect")

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	}
	if idle.Load() {
		m.Logger.Verbose("idle grace elapsed, exiting")
	}

	m.shutdown(srv, mgr)

	if m.Logger.Level() >= util.LogVerbose && m.Metrics != nil {
		m.Logger.Verbose("metrics: %s", m.Metrics.JSON())
	}
	return serveErr
}

// shutdown stops accepting, then closes live sessions with a "server
// shutting down" frame and waits for them.
func (m *ServeMode) shutdown(srv *http.Server, mgr *manager.Manager) {
	timeout := m.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		m.Logger.Warn("http shutdown: %v", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		m.Logger.Warn("session shutdown: %v", err)
	}
}

func wsURL(addr net.Addr, path string) string {
	if ta, ok := addr.(*net.TCPAddr); ok {
		return util.WebSocketURL(ta.IP.String(), ta.Port, path)
	}
	return "ws://" + addr.String() + path
}

// serverLog routes net/http's internal errors (TLS handshakes, accept
// failures, hijack problems) into the operator log.
type serverLog struct{ logger *util.Logger }

func (s serverLog) Write(p []byte) (int, error) {
	s.logger.Warn("server: %s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
