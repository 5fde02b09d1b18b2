package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"termrelay/internal/session"
	"termrelay/util"
)

// waitDelay bounds how long Wait lingers for output pipes held open by
// grandchildren, and how long a cancelled child gets between SIGHUP and
// SIGKILL.
const waitDelay = 2 * time.Second

// DefaultShell returns the user's login shell, falling back to /bin/sh
// (cmd.exe on Windows).
func DefaultShell() string {
	if runtime.GOOS == "windows" {
		if c := os.Getenv("COMSPEC"); c != "" {
			return c
		}
		return "cmd.exe"
	}
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "/bin/sh"
}

// Exec runs a child process with its stdio on pipes to the session.
// Command (-c) runs through the system shell; otherwise Program (-e) runs
// directly with Args.  With neither set the user's shell is started.
type Exec struct {
	Program string
	Args    []string
	Command string
	Env     []string // appended to the inherited environment
	Dir     string
	Logger  *util.Logger
}

func (e *Exec) logger() *util.Logger {
	if e.Logger == nil {
		return util.NewLogger(0)
	}
	return e.Logger
}

func (e *Exec) command(ctx context.Context) *exec.Cmd {
	var cmd *exec.Cmd
	switch {
	case e.Command != "":
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "cmd.exe", "/C", e.Command)
		} else {
			cmd = exec.CommandContext(ctx, "/bin/sh", "-c", e.Command)
		}
	case e.Program != "":
		cmd = exec.CommandContext(ctx, e.Program, e.Args...)
	default:
		cmd = exec.CommandContext(ctx, DefaultShell(), e.Args...)
	}

	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Dir = e.Dir
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGHUP) }
	cmd.WaitDelay = waitDelay
	return cmd
}

// Start launches the child.  stdout and stderr stay separate so the
// client receives them as distinct frame types.
func (e *Exec) Start(ctx context.Context, streams session.Streams) (Process, error) {
	log := e.logger()
	cmd := e.command(ctx)
	cmd.Stdout = streams.Out
	cmd.Stderr = streams.Err

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("exec %q: stdin pipe: %w", cmd.Path, err)
	}

	log.Debug("exec: %s", cmd.String())
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("exec %q: %w", cmd.Path, err)
	}

	go func() {
		if err := pump(stdin, streams.In); err != nil && !util.IsHarmless(err) && !errors.Is(err, syscall.EPIPE) {
			log.Debug("exec: stdin: %v", err)
		}
		stdin.Close()
	}()

	ctx, stop := context.WithCancel(ctx)
	go ignoreResize(ctx, streams.Resize, log)

	return &execProcess{cmd: cmd, stop: stop}, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	stop context.CancelFunc
}

func (p *execProcess) Wait() error {
	defer p.stop()
	err := p.cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}
