//go:build unix

package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"

	"termrelay/internal/protocol"
	"termrelay/internal/session"
	"termrelay/util"
)

// ptyDrain bounds how long Wait keeps reading the terminal after the
// child exits.
const ptyDrain = time.Second

var defaultSize = protocol.Size{Columns: 80, Rows: 24}

// PTY runs the child under a pseudo-terminal so that line editing, job
// control and full-screen programs behave as they would locally.  The
// terminal merges the child's stdout and stderr, so all output reaches
// the client as stdout frames.  Resize events resize the terminal, which
// delivers SIGWINCH to the child exactly as a local resize would.
type PTY struct {
	Exec
	Term string // TERM for the child; defaults to xterm-256color
}

// Start launches the child on a new terminal sized from the most recent
// pending resize event, or 80x24 when the client has sent none.
func (p *PTY) Start(ctx context.Context, streams session.Streams) (Process, error) {
	log := p.logger()
	cmd := p.command(ctx)
	term := p.Term
	if term == "" {
		term = "xterm-256color"
	}
	cmd.Env = append(cmd.Env, "TERM="+term)

	size := latestSize(streams.Resize, defaultSize)
	log.Debug("pty: %s (%s)", cmd.String(), size)

	ptmx, err := pty.StartWithSize(cmd, winsize(size))
	if err != nil {
		return nil, fmt.Errorf("pty %q: %w", cmd.Path, err)
	}

	proc := &ptyProcess{
		cmd:     cmd,
		ptmx:    ptmx,
		outDone: make(chan struct{}),
		stop:    make(chan struct{}),
	}

	go func() {
		defer close(proc.outDone)
		if err := pump(streams.Out, ptmx); err != nil && !isPTYClosed(err) {
			log.Debug("pty: output: %v", err)
		}
	}()

	go func() {
		if err := pump(ptmx, streams.In); err != nil && !isPTYClosed(err) {
			log.Debug("pty: input: %v", err)
		}
	}()

	go func() {
		for {
			select {
			case <-proc.stop:
				return
			case s := <-streams.Resize:
				if err := pty.Setsize(ptmx, winsize(s)); err != nil {
					log.Debug("pty: resize to %s: %v", s, err)
					continue
				}
				log.Debug("pty: resized to %s", s)
			}
		}
	}()

	return proc, nil
}

type ptyProcess struct {
	cmd     *exec.Cmd
	ptmx    *os.File
	outDone chan struct{}
	stop    chan struct{}
}

func (p *ptyProcess) Wait() error {
	err := p.cmd.Wait()

	select {
	case <-p.outDone:
	case <-time.After(ptyDrain):
	}
	close(p.stop)
	p.ptmx.Close()
	return err
}

func winsize(s protocol.Size) *pty.Winsize {
	return &pty.Winsize{Cols: dim(s.Columns), Rows: dim(s.Rows)}
}

// dim fits n into a winsize field without wrapping.
func dim(n int) uint16 {
	switch {
	case n < 1:
		return 1
	case n > protocol.MaxDimension:
		return protocol.MaxDimension
	}
	return uint16(n)
}

// latestSize drains pending events without blocking and returns the last
// one, or def if there were none.
func latestSize(resize <-chan protocol.Size, def protocol.Size) protocol.Size {
	if resize == nil {
		return def
	}
	for {
		select {
		case s := <-resize:
			def = s
		default:
			return def
		}
	}
}

// isPTYClosed matches the errors a terminal master returns once the child
// side is gone: EIO on Linux, plain EOF or closed-file elsewhere.
func isPTYClosed(err error) bool {
	return util.IsHarmless(err) || errors.Is(err, syscall.EIO)
}
