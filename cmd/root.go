// Package cmd wires up the CLI flags and dispatches to the relay core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"termrelay/config"
	"termrelay/internal/core"
	"termrelay/internal/metrics"
	"termrelay/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X termrelay/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs serve or attach mode.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout)
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	mode := config.ModeServe
	if len(args) > 0 {
		switch args[0] {
		case string(config.ModeServe), string(config.ModeAttach):
			mode = config.Mode(args[0])
			args = args[1:]
		}
	}

	// ── layered config: defaults < file < env < flags ────────────
	cfg := config.Default()
	cfg.Mode = mode
	cfg.ConfigFile = configFileFlag(args)
	if cfg.ConfigFile != "" {
		if err := config.LoadFile(cfg.ConfigFile, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("termrelay "+string(mode), flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// ── listener ─────────────────────────────────────────────────
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Listen address")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Listen port")
	fs.StringVar(&cfg.Path, "path", cfg.Path, "WebSocket endpoint path")

	// ── session ──────────────────────────────────────────────────
	fs.DurationVar(&cfg.IdleGrace, "idle-grace", cfg.IdleGrace, "Exit this long after the last client leaves (0 disables)")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "Outbound frames queued per client before output is dropped")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Deadline for one WebSocket write")
	fs.DurationVar(&cfg.DetachTimeout, "detach-timeout", cfg.DetachTimeout, "Time an application gets to stop after its client leaves")

	// ── application ──────────────────────────────────────────────
	fs.StringVarP(&cfg.Execute, "exec", "e", cfg.Execute, "Program to run (arguments after --)")
	fs.StringVarP(&cfg.Command, "command", "c", cfg.Command, "Shell command to run")
	fs.BoolVar(&cfg.PTY, "pty", cfg.PTY, "Run the program under a pseudo-terminal")
	fs.StringVar(&cfg.Term, "term", cfg.Term, "TERM for --pty programs")
	fs.StringArrayVar(&cfg.Env, "env", cfg.Env, "Extra KEY=VALUE for the program (repeatable)")
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "Working directory for the program")
	fs.StringVar(&cfg.Forward, "forward", cfg.Forward, "Relay a TCP service at host:port instead of a program")

	// ── SSH gateway ──────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach --forward through SSH gateway [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.DurationVar(&cfg.KeepAlive, "keep-alive", cfg.KeepAlive, "SSH keepalive interval (0 disables)")

	// ── attach ───────────────────────────────────────────────────
	fs.StringVar(&cfg.URL, "url", cfg.URL, "Relay URL (attach)")
	fs.BoolVar(&cfg.Reconnect, "reconnect", cfg.Reconnect, "Reconnect after transport failures (attach)")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Connection attempts before giving up, 0 = unlimited (attach)")

	// ── output ───────────────────────────────────────────────────
	// CountVar zeroes its target, so -v is counted apart and added to the
	// layered value after parsing.
	var verbose int
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	var quiet bool
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate configuration and exit")
	fs.StringVarP(&cfg.ConfigFile, "config", "f", cfg.ConfigFile, "YAML or TOML config file")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w (use --help for usage)", err)
	}
	if showHelp {
		printUsage(out, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(out, "termrelay %s\n", version)
		return nil
	}
	cfg.Verbose += verbose
	if quiet {
		cfg.Verbose = 0
	}

	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DryRun {
		printPlan(out, cfg)
		return nil
	}

	// ── run ──────────────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	m, err := core.Build(cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	return m.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// configFileFlag finds --config/-f before the full flag set exists, so
// the file can sit beneath the environment and the other flags.
func configFileFlag(args []string) string {
	pre := flag.NewFlagSet("config", flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	path := pre.StringP("config", "f", config.ConfigFileFromEnv(), "")
	pre.Parse(args) //nolint:errcheck // the full parse reports errors
	return *path
}

func parsePositional(cfg *config.Config, rest []string) error {
	if cfg.Mode == config.ModeAttach {
		switch len(rest) {
		case 0:
		case 1:
			cfg.URL = rest[0]
		default:
			return fmt.Errorf("attach takes a single relay URL, got %d arguments", len(rest))
		}
		return nil
	}

	if len(rest) == 0 {
		return nil
	}
	if cfg.Execute == "" {
		return fmt.Errorf("unexpected arguments %q (program arguments need -e)", strings.Join(rest, " "))
	}
	cfg.Args = append(cfg.Args, rest...)
	return nil
}

// printPlan is the --dry-run report.
func printPlan(w io.Writer, cfg *config.Config) {
	defer fmt.Fprintf(w, "log: verbosity=%d\n", cfg.Verbose)
	if cfg.Mode == config.ModeAttach {
		fmt.Fprintf(w, "attach %s (reconnect=%v, max-retries=%d)\n", cfg.URL, cfg.Reconnect, cfg.MaxRetries)
		return
	}

	fmt.Fprintf(w, "serve %s (idle-grace=%s, backlog=%d)\n", cfg.URLString(), cfg.IdleGrace, cfg.Backlog)
	switch {
	case cfg.Forward != "" && cfg.TunnelEnabled:
		fmt.Fprintf(w, "app: forward %s via %s@%s:%d\n", cfg.Forward, cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	case cfg.Forward != "":
		fmt.Fprintf(w, "app: forward %s\n", cfg.Forward)
	case cfg.Command != "":
		fmt.Fprintf(w, "app: sh -c %q (pty=%v)\n", cfg.Command, cfg.PTY)
	case cfg.Execute != "":
		fmt.Fprintf(w, "app: %s (pty=%v)\n", strings.Join(append([]string{cfg.Execute}, cfg.Args...), " "), cfg.PTY)
	default:
		fmt.Fprintf(w, "app: login shell (pty=%v)\n", cfg.PTY)
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `termrelay – interactive terminal relay over WebSocket v%s

Serves one interactive program to one remote client at a time.

Usage:
  termrelay [serve] [options] [-e prog [-- args...]]   Serve a program
  termrelay attach [options] ws://host:port/           Attach this terminal

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  termrelay                                   Serve $SHELL on ws://127.0.0.1:8080/
  termrelay --pty -c htop --host 0.0.0.0      Full-screen program for remote clients
  termrelay -e python3 -- -i                  Python REPL
  termrelay --forward db:5432 -T ops@bastion  Relay a service behind an SSH gateway
  termrelay attach --reconnect ws://host:8080/
`)
}
