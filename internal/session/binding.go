package session

import (
	"sync"

	apperrors "termrelay/internal/errors"
	"termrelay/internal/protocol"
	"termrelay/internal/relay"
)

// Binding is a live lease on a Table.  Release must be called on every
// exit path; deferring it right after a successful Acquire or Bind is the
// expected pattern.
type Binding struct {
	table   *Table
	saved   Streams
	streams Streams

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// Streams returns the redirected handles the application should use.
func (b *Binding) Streams() Streams { return b.streams }

// Resized delivers resize events while the binding is live.  It is the
// same channel found in Streams().Resize.
func (b *Binding) Resized() <-chan protocol.Size { return b.streams.Resize }

// Release restores the streams captured at acquire time.  It is
// idempotent and safe to call from any goroutine.
func (b *Binding) Release() {
	b.once.Do(func() {
		if b.stop != nil {
			close(b.stop)
			<-b.done
		}
		b.table.release(b)
	})
}

// Bind redirects t to the endpoints of ch and forwards the channel's
// resize events to the bound application until the binding is released
// or the channel closes.
func Bind(t *Table, ch *relay.Channel) (*Binding, error) {
	if ch.Closed() {
		return nil, apperrors.ErrChannelClosed
	}

	resized := make(chan protocol.Size, 1)
	b, err := t.Acquire(Streams{
		In:     ch.Stdin(),
		Out:    ch.Stdout(),
		Err:    ch.Stderr(),
		Resize: resized,
	})
	if err != nil {
		return nil, err
	}

	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go forwardResize(ch, resized, b.stop, b.done)
	return b, nil
}

// forwardResize relays size events from ch to out, replacing a pending
// event the application has not consumed yet so the newest size wins.
func forwardResize(ch *relay.Channel, out chan protocol.Size, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case s := <-ch.Resize():
			select {
			case <-out:
			default:
			}
			out <- s
		case <-ch.Done():
			return
		case <-stop:
			return
		}
	}
}
