package tunnel

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	apperrors "termrelay/internal/errors"
	"termrelay/util"
)

// SSHConfig describes the gateway and how to authenticate to it.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAlive is the interval between keepalive requests.  Zero
	// disables them.
	KeepAlive time.Duration
}

// Addr returns host:port of the gateway.
func (c *SSHConfig) Addr() string { return util.FormatAddr(c.Host, c.Port) }

// SSHTunnel is a [Tunnel] over one SSH client connection.  A connection
// that dies between sessions is re-established on the next Dial.
type SSHTunnel struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.RWMutex
	client *ssh.Client
	auth   []ssh.AuthMethod
	alive  bool
	stop   chan struct{}
}

// NewSSHTunnel returns an unconnected tunnel.
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHTunnel{config: cfg, logger: logger}
}

// Connect dials the gateway and completes the SSH handshake.  Auth
// methods are resolved once and reused on reconnect, so interactive
// prompts happen at most once per process.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.alive {
		return nil
	}
	return t.connectLocked(ctx)
}

func (t *SSHTunnel) connectLocked(ctx context.Context) error {
	cfg := t.config
	if t.auth == nil {
		methods, err := BuildAuthMethods(cfg)
		if err != nil {
			return apperrors.WrapSSH("auth", cfg.Host, cfg.Port, err)
		}
		t.auth = methods
	}

	hk, err := hostKeyCallback(cfg)
	if err != nil {
		return apperrors.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	addr := cfg.Addr()
	t.logger.Debug("ssh: dialing %s as %s", addr, cfg.User)

	d := net.Dialer{Timeout: cfg.ConnTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return apperrors.Wrap("dial", addr, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            t.auth,
		HostKeyCallback: hk,
		Timeout:         cfg.ConnTimeout,
	})
	if err != nil {
		raw.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			err = fmt.Errorf("%w: %v", apperrors.ErrAuthFailed, err)
		}
		return apperrors.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}

	client := ssh.NewClient(conn, chans, reqs)
	t.client = client
	t.alive = true
	t.stop = make(chan struct{})

	go t.monitor(client)
	if cfg.KeepAlive > 0 {
		go t.keepAlive(client, cfg.KeepAlive, t.stop)
	}
	return nil
}

// Dial opens address through the gateway, reconnecting first if the
// previous connection was lost.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.Lock()
	if !t.alive {
		if t.auth == nil {
			t.mu.Unlock()
			return nil, apperrors.ErrNotConnected
		}
		t.logger.Verbose("ssh: gateway connection lost, reconnecting to %s", t.config.Addr())
		if err := t.connectLocked(ctx); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	client := t.client
	t.mu.Unlock()

	t.logger.Debug("ssh: dialing %s %s through %s", network, address, t.config.Addr())
	conn, err := client.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial %s: %w", address, err)
	}
	return conn, nil
}

// Close shuts the gateway connection down.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}

// IsAlive reports whether the gateway connection is up.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

func (t *SSHTunnel) monitor(client *ssh.Client) {
	err := client.Wait()

	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Debug("ssh: gateway connection closed: %v", err)
	} else {
		t.logger.Debug("ssh: gateway connection closed")
	}
}

func (t *SSHTunnel) keepAlive(client *ssh.Client, every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Debug("ssh: keepalive failed: %v", err)
				client.Close()
				return
			}
		}
	}
}
