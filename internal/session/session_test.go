package session

import (
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "termrelay/internal/errors"
	"termrelay/internal/protocol"
	"termrelay/internal/relay"
)

// nopConn is a relay.Conn that never delivers messages and discards
// writes.
type nopConn struct {
	once   sync.Once
	closed chan struct{}
}

func newNopConn() *nopConn { return &nopConn{closed: make(chan struct{})} }

func (c *nopConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, net.ErrClosed
}
func (c *nopConn) WriteMessage(int, []byte) error { return nil }
func (c *nopConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *nopConn) SetWriteDeadline(time.Time) error { return nil }
func (c *nopConn) RemoteAddr() net.Addr { return nil }
func (c *nopConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func testStreams() Streams {
	return Streams{
		In:  strings.NewReader("local"),
		Out: &bytes.Buffer{},
		Err: &bytes.Buffer{},
	}
}

func TestTable_AcquireRelease(t *testing.T) {
	orig := testStreams()
	tbl := NewTable(orig)

	repl := testStreams()
	b, err := tbl.Acquire(repl)
	require.NoError(t, err)
	assert.True(t, tbl.Bound())
	assert.Same(t, repl.Out, tbl.Current().Out)

	b.Release()
	assert.False(t, tbl.Bound())
	cur := tbl.Current()
	assert.Same(t, orig.In, cur.In)
	assert.Same(t, orig.Out, cur.Out)
	assert.Same(t, orig.Err, cur.Err)
}

func TestTable_SecondAcquireIsBusy(t *testing.T) {
	tbl := NewTable(testStreams())

	b, err := tbl.Acquire(testStreams())
	require.NoError(t, err)
	defer b.Release()

	before := tbl.Current()
	_, err = tbl.Acquire(testStreams())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)
	assert.Same(t, before.Out, tbl.Current().Out, "failed acquire must not redirect")
}

func TestTable_InvalidStreamsLeaveTableUntouched(t *testing.T) {
	orig := testStreams()
	tbl := NewTable(orig)

	_, err := tbl.Acquire(Streams{In: strings.NewReader("")})
	require.Error(t, err)
	assert.False(t, tbl.Bound())
	assert.Same(t, orig.Out, tbl.Current().Out)
}

func TestBinding_ReleaseIsIdempotent(t *testing.T) {
	orig := testStreams()
	tbl := NewTable(orig)

	b, err := tbl.Acquire(testStreams())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Release()
		}()
	}
	wg.Wait()

	// A stale release must not clobber a newer binding.
	next, err := tbl.Acquire(testStreams())
	require.NoError(t, err)
	b.Release()
	assert.True(t, tbl.Bound())
	next.Release()
	assert.Same(t, orig.Out, tbl.Current().Out)
}

func TestTable_SetResize(t *testing.T) {
	tbl := NewTable(testStreams())
	src := make(chan protocol.Size)

	require.NoError(t, tbl.SetResize(src))
	assert.Equal(t, (<-chan protocol.Size)(src), tbl.Current().Resize)

	b, err := tbl.Acquire(testStreams())
	require.NoError(t, err)
	assert.ErrorIs(t, tbl.SetResize(nil), ErrBusy)
	b.Release()
	assert.Equal(t, (<-chan protocol.Size)(src), tbl.Current().Resize)
}

func TestBind_RedirectsToChannel(t *testing.T) {
	orig := testStreams()
	tbl := NewTable(orig)
	ch := relay.New(newNopConn(), relay.Options{})
	defer ch.Close()

	b, err := Bind(tbl, ch)
	require.NoError(t, err)

	cur := tbl.Current()
	assert.Same(t, ch.Stdout(), cur.Out)
	assert.Same(t, ch.Stderr(), cur.Err)

	ch.WriteInput([]byte(`{"type":"stdin","data":"hi"}`))
	buf := make([]byte, 2)
	_, err = io.ReadFull(cur.In, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))

	b.Release()
	assert.Same(t, orig.Out, tbl.Current().Out)
}

func TestBind_ForwardsResize(t *testing.T) {
	tbl := NewTable(testStreams())
	ch := relay.New(newNopConn(), relay.Options{})
	defer ch.Close()

	b, err := Bind(tbl, ch)
	require.NoError(t, err)
	defer b.Release()

	ch.WriteInput([]byte(`{"type":"resize","data":{"columns":120,"rows":40}}`))

	select {
	case s := <-b.Resized():
		assert.Equal(t, protocol.Size{Columns: 120, Rows: 40}, s)
	case <-time.After(2 * time.Second):
		t.Fatal("resize not forwarded")
	}
	select {
	case s := <-b.Streams().Resize:
		t.Fatalf("duplicate resize %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBind_ClosedChannel(t *testing.T) {
	tbl := NewTable(testStreams())
	ch := relay.New(newNopConn(), relay.Options{})
	ch.Close()

	_, err := Bind(tbl, ch)
	assert.ErrorIs(t, err, apperrors.ErrChannelClosed)
	assert.False(t, tbl.Bound())
}

func TestBind_ReleaseAfterChannelClose(t *testing.T) {
	orig := testStreams()
	tbl := NewTable(orig)
	ch := relay.New(newNopConn(), relay.Options{})

	b, err := Bind(tbl, ch)
	require.NoError(t, err)

	ch.Close()
	<-ch.Done()
	b.Release()

	assert.False(t, tbl.Bound())
	assert.Same(t, orig.Out, tbl.Current().Out)
}
