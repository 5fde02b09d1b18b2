// Package manager accepts WebSocket clients and runs the relay session
// lifecycle for each one:
//
//	ACCEPTED → BINDING → RUNNING → UNBINDING → CLOSED
//
// At most one connection holds the process's standard streams at a time.
// A client that connects while another session is live is turned away
// with close code 1013 rather than queued.  When the last client leaves,
// an idle timer shuts the process down after a grace period.
package manager

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"termrelay/internal/capability"
	apperrors "termrelay/internal/errors"
	"termrelay/internal/metrics"
	"termrelay/internal/protocol"
	"termrelay/internal/relay"
	"termrelay/internal/session"
	"termrelay/util"
)

// DefaultDetachTimeout is how long an application gets to stop after its
// client disconnects before the streams are released anyway.
const DefaultDetachTimeout = 2 * time.Second

// Options configures a Manager.
type Options struct {
	// App is started once per bound connection.  Required.
	App capability.Capability

	// Table is the stream identity table sessions bind to.  Defaults to
	// session.Stdio.
	Table *session.Table

	// IdleGrace is the delay between the last client leaving and OnIdle.
	// Idle shutdown is disabled when IdleGrace <= 0 or OnIdle is nil.
	IdleGrace time.Duration
	OnIdle    func()

	DetachTimeout time.Duration
	Backlog       int
	WriteTimeout  time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector

	// OnState, when set, observes every lifecycle transition.
	OnState func(connID string, s State)
}

// Manager is an http.Handler that upgrades requests to WebSocket relay
// sessions.
type Manager struct {
	opts     Options
	logger   *util.Logger
	metrics  *metrics.Collector
	upgrader websocket.Upgrader
	idle     *idleTracker

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New builds a Manager.  It panics if opts.App is nil.
func New(opts Options) *Manager {
	if opts.App == nil {
		panic("manager: nil App")
	}
	if opts.Table == nil {
		opts.Table = session.Stdio
	}
	if opts.DetachTimeout <= 0 {
		opts.DetachTimeout = DefaultDetachTimeout
	}
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		idle: &idleTracker{
			grace:  opts.IdleGrace,
			onIdle: opts.OnIdle,
			logger: opts.Logger,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	m.upgrader = websocket.Upgrader{
		// No origin policy: access control belongs to whatever fronts
		// the relay.
		CheckOrigin: func(*http.Request) bool { return true },
		Error:       m.upgradeError,
	}
	return m
}

// Active returns the number of open client connections.
func (m *Manager) Active() int { return m.idle.active() }

// Handler returns a mux serving relay sessions on path and the metrics
// snapshot on /healthz.
func (m *Manager) Handler(path string) http.Handler {
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.serveHealth)
	mux.Handle(path, m)
	return mux
}

func (m *Manager) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, m.metrics.JSON())
}

func (m *Manager) upgradeError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	m.logger.Warn("rejected request from %s: %v", r.RemoteAddr, reason)
	m.metrics.RecordError(reason.Error())
	http.Error(w, http.StatusText(status), status)
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // upgradeError already replied
	}
	m.serve(conn)
}

// Shutdown closes every live connection with a "server shutting down"
// close frame, stops the idle timer and waits for the sessions to wind
// down or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	m.idle.stop()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}

// conn carries the per-connection state through the lifecycle.
type conn struct {
	id     string
	state  State
	logger *util.Logger
	notify func(string, State)
}

func (c *conn) to(s State) {
	c.logger.Debug("%s -> %s", c.state, s)
	c.state = s
	if c.notify != nil {
		c.notify(c.id, s)
	}
}

func (m *Manager) serve(ws *websocket.Conn) {
	id := uuid.NewString()
	c := &conn{id: id, state: Accepted, logger: m.logger.With("conn " + id[:8]), notify: m.opts.OnState}
	if c.notify != nil {
		c.notify(id, Accepted)
	}

	m.idle.open()
	defer m.idle.close()
	m.metrics.ConnectionOpened()
	defer m.metrics.ConnectionClosed()

	c.logger.Info("client connected from %s", ws.RemoteAddr())
	defer c.logger.Info("client disconnected")

	ch := relay.New(ws, relay.Options{
		Backlog:      m.opts.Backlog,
		WriteTimeout: m.opts.WriteTimeout,
		Logger:       c.logger,
		Metrics:      m.metrics,
	})
	c.to(Binding)

	go func() {
		if err := ch.Serve(m.ctx); err != nil {
			c.logger.Warn("transport error: %v", err)
			m.metrics.RecordError(err.Error())
		}
	}()
	defer func() {
		<-ch.Done()
		c.to(Closed)
	}()

	b, err := session.Bind(m.opts.Table, ch)
	if err != nil {
		c.to(Unbinding)
		if apperrors.Is(err, apperrors.ErrChannelClosed) {
			c.logger.Verbose("client left before the session started")
			return
		}
		if apperrors.Is(err, session.ErrBusy) {
			c.logger.Warn("rejecting client: %v", err)
			m.metrics.SessionRejected()
			ch.CloseWithReason(protocol.CloseSessionBusy, protocol.ReasonSessionBusy) //nolint:errcheck
			return
		}
		m.initFailed(c, ch, apperrors.WrapSession("bind", id, err))
		return
	}
	defer b.Release()

	appCtx, stopApp := context.WithCancel(m.ctx)
	defer stopApp()

	proc, err := m.start(appCtx, b.Streams())
	if err != nil {
		c.to(Unbinding)
		stopApp()
		b.Release()
		m.initFailed(c, ch, apperrors.WrapSession("start", id, err))
		return
	}
	m.metrics.SessionStarted()
	c.to(Running)

	exited := make(chan error, 1)
	go func() { exited <- wait(proc) }()

	select {
	case err := <-exited:
		c.to(Unbinding)
		if err != nil {
			c.logger.Info("application exited: %v", err)
		} else {
			c.logger.Verbose("application exited")
		}
		b.Release()
		ch.CloseWithReason(protocol.CloseNormal, protocol.ReasonSessionEnded) //nolint:errcheck

	case <-ch.Done():
		c.to(Unbinding)
		stopApp()
		select {
		case err := <-exited:
			if err != nil {
				c.logger.Verbose("application stopped: %v", err)
			}
		case <-time.After(m.opts.DetachTimeout):
			c.logger.Warn("application still running after %s, detaching it", m.opts.DetachTimeout)
		}
		b.Release()
	}
}

// start calls App.Start, turning a panic into an error.
func (m *Manager) start(ctx context.Context, s session.Streams) (proc capability.Process, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application panic during start: %v", r)
		}
	}()
	return m.opts.App.Start(ctx, s)
}

// wait calls proc.Wait, turning a panic into an error.
func wait(proc capability.Process) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application panic: %v", r)
		}
	}()
	return proc.Wait()
}

// initFailed reports a session that never reached RUNNING, once to the
// log and once to the client through the close handshake.
func (m *Manager) initFailed(c *conn, ch *relay.Channel, err error) {
	if c.state != Unbinding {
		c.to(Unbinding)
	}
	c.logger.Error("session initialization failed: %v", err)
	m.metrics.SessionFailed()
	m.metrics.RecordError(err.Error())
	ch.CloseWithReason(protocol.CloseSessionInitFailed, protocol.ReasonSessionInitFailed) //nolint:errcheck
}
