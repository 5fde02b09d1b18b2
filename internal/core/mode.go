// Package core composes the relay pieces into the two things termrelay
// can do: serve an interactive application over WebSocket, or attach the
// local terminal to a relay as its client.
//
// Layers (bottom → top):
//
//	protocol  →  relay  →  session  →  manager  →  core  →  cmd (CLI)
//	transport →  capability ↗
package core

import "context"

// Mode is one complete way of running the process.  Run owns the whole
// lifecycle and returns when the work is done or ctx is cancelled.
type Mode interface {
	Run(ctx context.Context) error
}
