package session

import (
	"golang.org/x/term"

	"termrelay/internal/protocol"
)

// emitSize publishes the current size of fd on out, replacing any event
// not yet consumed.  It returns what it published.
func emitSize(fd int, out chan protocol.Size) protocol.Size {
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return protocol.Size{}
	}
	s := protocol.Size{Columns: w, Rows: h}
	select {
	case <-out:
	default:
	}
	select {
	case out <- s:
	default:
	}
	return s
}
