package relay

import (
	"sync"

	"termrelay/internal/protocol"
)

// outputStream frames each Write as one stdout or stderr message.
//
// Frame data is a JSON string, so a multibyte rune split across two
// writes is held back until its remaining bytes arrive.
type outputStream struct {
	ch  *Channel
	typ protocol.Type

	mu    sync.Mutex
	carry []byte
}

// Write never blocks on the network and never fails: when the channel is
// closed or backed up the bytes are dropped and reported as written.
func (w *outputStream) Write(p []byte) (int, error) {
	n := len(p)
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ch.Closed() {
		w.carry = nil
		w.ch.metrics.FrameDropped()
		return n, nil
	}

	data := p
	if len(w.carry) > 0 {
		data = append(w.carry, p...)
		w.carry = nil
	}
	cut := protocol.CompletePrefix(data)
	if cut < len(data) {
		w.carry = append([]byte(nil), data[cut:]...)
	}
	if cut > 0 {
		w.ch.enqueue(w.typ, string(data[:cut]))
	}
	return n, nil
}
