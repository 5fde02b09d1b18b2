// Package session owns the process-wide standard stream identities and
// hands them to at most one remote client at a time.
//
// Standard input, output and error are singletons while connections are
// many.  A [Table] records which streams the process currently uses; a
// [Binding] is the scoped lease that redirects them to one relay channel
// and puts the originals back when released.
package session

import (
	"io"
	"os"
	"sync"

	apperrors "termrelay/internal/errors"
	"termrelay/internal/protocol"
)

// ErrBusy is returned by Acquire while another binding is live.
var ErrBusy = apperrors.ErrSessionBusy

// Streams is the set of handles an interactive program is started with.
// Resize may be nil when nothing reports terminal size changes.
type Streams struct {
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	Resize <-chan protocol.Size
}

func (s Streams) validate() error {
	switch {
	case s.In == nil:
		return apperrors.New("session: nil input stream")
	case s.Out == nil:
		return apperrors.New("session: nil output stream")
	case s.Err == nil:
		return apperrors.New("session: nil error stream")
	}
	return nil
}

// Table is a set of process-wide stream identities guarded by a single
// ownership flag.
type Table struct {
	mu      sync.Mutex
	current Streams
	owner   *Binding
}

// Stdio is the process's real standard streams.  Serve mode may attach a
// local resize source to it with [Table.SetResize] before any client
// connects.
var Stdio = NewTable(Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})

// NewTable returns a table whose unbound identities are s.
func NewTable(s Streams) *Table {
	return &Table{current: s}
}

// Current returns the streams in effect right now.
func (t *Table) Current() Streams {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Bound reports whether a binding currently owns the table.
func (t *Table) Bound() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owner != nil
}

// SetResize replaces the resize source of the unbound streams.  It fails
// with ErrBusy while a binding is live.
func (t *Table) SetResize(ch <-chan protocol.Size) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owner != nil {
		return ErrBusy
	}
	t.current.Resize = ch
	return nil
}

// Acquire redirects the table to s and returns the lease that restores
// it.  It returns ErrBusy while another binding is live and leaves the
// table untouched on any error.
func (t *Table) Acquire(s Streams) (*Binding, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owner != nil {
		return nil, ErrBusy
	}
	b := &Binding{table: t, saved: t.current, streams: s}
	t.owner = b
	t.current = s
	return b, nil
}

func (t *Table) release(b *Binding) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owner != b {
		return false
	}
	t.current = b.saved
	t.owner = nil
	return true
}
