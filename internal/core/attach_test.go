package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termrelay/internal/capability"
	"termrelay/internal/metrics"
	"termrelay/internal/protocol"
	"termrelay/internal/retry"
	"termrelay/internal/session"
	"termrelay/util"
)

type refusingApp struct{}

func (refusingApp) Start(context.Context, session.Streams) (capability.Process, error) {
	return nil, errors.New("no such program")
}

func attach(url string, stdin string) (*AttachMode, *syncBuffer, *syncBuffer) {
	out, errOut := &syncBuffer{}, &syncBuffer{}
	return &AttachMode{
		URL:          url,
		WriteTimeout: time.Second,
		Logger:       util.NewLogger(0),
		Metrics:      metrics.New(),
		Stdin:        strings.NewReader(stdin),
		Stdout:       out,
		Stderr:       errOut,
		Resize:       make(chan protocol.Size),
	}, out, errOut
}

func runWithin(t *testing.T, m *AttachMode, d time.Duration) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background()) }()
	select {
	case err := <-errc:
		return err
	case <-time.After(d):
		t.Fatalf("attach did not return within %s", d)
		return nil
	}
}

func TestAttach_FullSession(t *testing.T) {
	app := capability.Func(func(_ context.Context, s session.Streams) error {
		io.WriteString(s.Out, "hello\n")
		io.WriteString(s.Err, "warn\n")
		select {
		case sz := <-s.Resize:
			fmt.Fprintf(s.Out, "size %s\n", sz)
		case <-time.After(2 * time.Second):
			return errors.New("no resize")
		}
		buf := make([]byte, 4)
		if _, err := io.ReadFull(s.In, buf); err != nil {
			return err
		}
		s.Out.Write(buf)
		return nil
	})
	s := serve(t, app, 0)

	m, out, errOut := attach(s.url, "ping")
	resize := make(chan protocol.Size, 1)
	resize <- protocol.Size{Columns: 100, Rows: 30}
	m.Resize = resize

	require.NoError(t, runWithin(t, m, 5*time.Second))

	assert.Equal(t, "hello\nsize 100x30\nping", out.String())
	status := errOut.String()
	assert.Contains(t, status, "warn\n")
	assert.Contains(t, status, "[termrelay] connecting to "+s.url+"\r\n")
	assert.Contains(t, status, "[termrelay] connected\r\n")
	assert.Contains(t, status, "[termrelay] disconnected: "+protocol.ReasonSessionEnded)
	assert.NotContains(t, status, "error:")
}

func TestAttach_InitFailureIsNotRetried(t *testing.T) {
	s := serve(t, refusingApp{}, 0)

	m, _, errOut := attach(s.url, "")
	m.Reconnect = true
	m.Backoff = &retry.Backoff{InitialDelay: 10 * time.Millisecond, MaxAttempts: 5}

	err := runWithin(t, m, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), protocol.ReasonSessionInitFailed)
	assert.Contains(t, errOut.String(), "[termrelay] error: ")
	assert.EqualValues(t, 0, m.Metrics.Reconnects())
}

func TestAttach_GivesUpAfterMaxRetries(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)

	m, _, errOut := attach(fmt.Sprintf("ws://127.0.0.1:%d/", port), "")
	m.Reconnect = true
	m.Backoff = &retry.Backoff{InitialDelay: 5 * time.Millisecond, MaxAttempts: 3}

	err = runWithin(t, m, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (3)")
	assert.EqualValues(t, 2, m.Metrics.Reconnects())
	assert.Equal(t, 2, strings.Count(errOut.String(), "reconnecting in"))
}

func TestAttach_DialErrorWithoutReconnect(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)

	m, _, errOut := attach(fmt.Sprintf("ws://127.0.0.1:%d/", port), "")
	err = runWithin(t, m, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial ws://127.0.0.1:")
	assert.Contains(t, errOut.String(), "[termrelay] error: ")
}

func TestAttach_CancelIsClean(t *testing.T) {
	s := serve(t, echoApp, 0)
	m, _, _ := attach(s.url, "")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("attach did not stop on cancel")
	}
}

func TestAttach_ClosePolicy(t *testing.T) {
	m, _, _ := attach("ws://relay/", "")

	tests := []struct {
		name      string
		err       error
		ended     bool
		permanent bool
	}{
		{"session ended", &websocket.CloseError{Code: 1000, Text: protocol.ReasonSessionEnded}, true, true},
		{"server shutdown", &websocket.CloseError{Code: 1000, Text: protocol.ReasonServerShutdown}, true, true},
		{"init failed", &websocket.CloseError{Code: 1011, Text: protocol.ReasonSessionInitFailed}, false, true},
		{"busy", &websocket.CloseError{Code: 1013, Text: protocol.ReasonSessionBusy}, false, false},
		{"going away", &websocket.CloseError{Code: 1001}, false, false},
		{"transport", io.ErrUnexpectedEOF, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.closed(tt.err)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))
			assert.Equal(t, tt.ended, errors.Is(err, errEnded))
		})
	}
}

func collectInput(r io.Reader) [][]byte {
	var chunks [][]byte
	for b := range readInput(r) {
		chunks = append(chunks, b)
	}
	return chunks
}

func TestReadInput_KeepsRunesWhole(t *testing.T) {
	const text = "é☃😀x"
	chunks := collectInput(iotest.OneByteReader(strings.NewReader(text)))

	var got []byte
	for _, c := range chunks {
		assert.True(t, utf8.Valid(c), "chunk %q splits a rune", c)
		got = append(got, c...)
	}
	assert.Equal(t, text, string(got))
	assert.Len(t, chunks, 4)
}

func TestReadInput_FlushesTruncatedTail(t *testing.T) {
	chunks := collectInput(iotest.OneByteReader(strings.NewReader("a\xe2\x98")))
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte("a"), chunks[0])
	assert.Equal(t, []byte("\xe2\x98"), chunks[1])
}
