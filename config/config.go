// Package config defines the runtime configuration for termrelay and the
// validation that turns bad combinations into actionable errors.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "termrelay/internal/errors"
	"termrelay/util"
)

// Mode selects what the process does.
type Mode string

const (
	ModeServe  Mode = "serve"
	ModeAttach Mode = "attach"
)

// Config holds every tuneable for one termrelay process.
type Config struct {
	Mode Mode

	// ── Listener ─────────────────────────────────────────────────────
	Host string
	Port int
	Path string // WebSocket endpoint path

	// ── Session ──────────────────────────────────────────────────────
	IdleGrace     time.Duration // 0 disables idle shutdown
	Backlog       int           // outbound frames queued per connection
	WriteTimeout  time.Duration
	DetachTimeout time.Duration

	// ── Application ──────────────────────────────────────────────────
	Execute string   // -e: program path
	Args    []string // arguments for -e
	Command string   // -c: shell command
	PTY     bool
	Term    string // TERM for --pty children
	Env     []string
	Dir     string
	Forward string // host:port of a TCP service to relay instead of a program

	// ── SSH gateway (forward mode) ───────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string
	KeepAlive      time.Duration

	// ── Attach ───────────────────────────────────────────────────────
	URL        string
	Reconnect  bool
	MaxRetries int

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	DryRun     bool
	ConfigFile string
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Mode:          ModeServe,
		Host:          DefaultHost,
		Port:          DefaultPort,
		Path:          DefaultPath,
		IdleGrace:     DefaultIdleGrace,
		Backlog:       DefaultBacklog,
		WriteTimeout:  DefaultWriteTimeout,
		DetachTimeout: DefaultDetachTimeout,
		Term:          DefaultTerm,
		TunnelPort:    DefaultSSHPort,
		KeepAlive:     DefaultKeepAlive,
		MaxRetries:    DefaultMaxReconnectAttempts,
		Verbose:       1,
	}
}

// Address returns host:port for the listener.
func (c *Config) Address() string { return util.FormatAddr(c.Host, c.Port) }

// URLString returns the ws:// URL clients use to reach a serve-mode relay.
func (c *Config) URLString() string { return util.WebSocketURL(c.Host, c.Port, c.Path) }

// ── Tunnel-spec parser ───────────────────────────────────────────────

var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec splits "[user@]host[:port]".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q, expected [user@]host[:port]", spec)
	}
	user, host, port = m[1], m[2], DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the Tunnel* fields.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &apperrors.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
	}
	c.TunnelEnabled = true
	c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.  All
// failures are *errors.ConfigError.
func (c *Config) Validate() error {
	if c.Mode == ModeAttach {
		return c.validateAttach()
	}
	return c.validateServe()
}

func (c *Config) validateServe() error {
	if c.Host == "" {
		return &apperrors.ConfigError{Field: "host", Message: "listen host is required",
			Hint: "use 127.0.0.1 for local-only access or 0.0.0.0 to listen on all interfaces"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &apperrors.ConfigError{Field: "port", Value: c.Port, Message: "out of range 1-65535"}
	}
	if !strings.HasPrefix(c.Path, "/") {
		return &apperrors.ConfigError{Field: "path", Value: c.Path, Message: "must start with /"}
	}
	if c.Path == "/healthz" {
		return &apperrors.ConfigError{Field: "path", Value: c.Path, Message: "reserved for the health endpoint"}
	}
	if c.Backlog < 1 {
		return &apperrors.ConfigError{Field: "backlog", Value: c.Backlog, Message: "must be at least 1"}
	}
	if c.IdleGrace < 0 {
		return &apperrors.ConfigError{Field: "idle-grace", Value: c.IdleGrace, Message: "must not be negative",
			Hint: "use 0 to keep serving after the last client leaves"}
	}
	if c.WriteTimeout <= 0 {
		return &apperrors.ConfigError{Field: "write-timeout", Value: c.WriteTimeout, Message: "must be positive"}
	}
	if c.DetachTimeout <= 0 {
		return &apperrors.ConfigError{Field: "detach-timeout", Value: c.DetachTimeout, Message: "must be positive"}
	}

	if c.Execute != "" && c.Command != "" {
		return &apperrors.ConfigError{Field: "exec", Message: "-e and -c are mutually exclusive"}
	}
	if len(c.Args) > 0 && c.Execute == "" {
		return &apperrors.ConfigError{Field: "exec", Message: "program arguments given without -e",
			Hint: "use -c to pass a full shell command line"}
	}

	if c.Forward != "" {
		if c.Execute != "" || c.Command != "" || c.PTY {
			return &apperrors.ConfigError{Field: "forward", Value: c.Forward,
				Message: "cannot be combined with -e, -c or --pty"}
		}
		if _, _, err := util.SplitHostPort(c.Forward); err != nil {
			return &apperrors.ConfigError{Field: "forward", Value: c.Forward, Message: err.Error(),
				Hint: "expected host:port, e.g. --forward db.internal:5432"}
		}
	}

	if c.TunnelEnabled {
		if c.Forward == "" {
			return &apperrors.ConfigError{Field: "tunnel", Value: c.TunnelSpec,
				Message: "an SSH gateway is only used to reach a --forward target",
				Hint:    "add --forward host:port, as seen from the gateway"}
		}
		if c.TunnelHost == "" {
			return &apperrors.ConfigError{Field: "tunnel", Message: "gateway host is required"}
		}
	}
	return nil
}

func (c *Config) validateAttach() error {
	if c.URL == "" {
		return &apperrors.ConfigError{Field: "url", Message: "attach needs the relay URL",
			Hint: "termrelay attach ws://127.0.0.1:8080/"}
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return &apperrors.ConfigError{Field: "url", Value: c.URL, Message: err.Error()}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return &apperrors.ConfigError{Field: "url", Value: c.URL, Message: "scheme must be ws or wss"}
	}
	if u.Host == "" {
		return &apperrors.ConfigError{Field: "url", Value: c.URL, Message: "host is required"}
	}
	if c.MaxRetries < 0 {
		return &apperrors.ConfigError{Field: "max-retries", Value: c.MaxRetries, Message: "must not be negative"}
	}
	return nil
}
