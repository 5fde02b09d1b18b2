package core

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"termrelay/internal/capability"
	"termrelay/internal/metrics"
	"termrelay/internal/session"
	"termrelay/util"
)

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reading
// test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type served struct {
	url     string
	metrics *metrics.Collector
	cancel  context.CancelFunc
	done    chan error
}

// serve runs a ServeMode for app on a loopback port with its own stream
// table.
func serve(t *testing.T, app capability.Capability, idle time.Duration) *served {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &served{metrics: metrics.New(), done: make(chan error, 1)}
	s.url = "ws://" + ln.Addr().String() + "/"

	mode := &ServeMode{
		Path:            "/",
		App:             app,
		IdleGrace:       idle,
		Backlog:         64,
		WriteTimeout:    time.Second,
		DetachTimeout:   200 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
		Logger:          util.NewLogger(0),
		Metrics:         s.metrics,
		Table: session.NewTable(session.Streams{
			In: strings.NewReader(""), Out: &bytes.Buffer{}, Err: &bytes.Buffer{},
		}),
		Listener: ln,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { s.done <- mode.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			t.Error("serve mode did not stop")
		}
	})
	return s
}

// wait returns Run's result, failing the test if it takes longer than d.
func (s *served) wait(t *testing.T, d time.Duration) error {
	t.Helper()
	select {
	case err := <-s.done:
		s.done <- err // keep it for Cleanup
		return err
	case <-time.After(d):
		t.Fatalf("serve mode still running after %s", d)
		return nil
	}
}
