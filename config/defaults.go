package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultHost keeps the relay local unless told otherwise.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the WebSocket listen port.
	DefaultPort = 8080

	// DefaultPath is the WebSocket endpoint.
	DefaultPath = "/"

	// DefaultIdleGrace is how long the server lingers after the last
	// client disconnects.
	DefaultIdleGrace = 5 * time.Second

	// DefaultBacklog is the number of outbound frames queued per
	// connection before output is dropped.
	DefaultBacklog = 256

	// DefaultWriteTimeout bounds one WebSocket write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultDetachTimeout is how long an application gets to stop
	// after its client disconnects.
	DefaultDetachTimeout = 2 * time.Second

	// DefaultTerm is TERM for children started under --pty.
	DefaultTerm = "xterm-256color"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAlive is the SSH gateway keepalive interval.
	DefaultKeepAlive = 30 * time.Second

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultMaxReconnectAttempts bounds attach-mode reconnects.
	DefaultMaxReconnectAttempts = 10

	// DefaultMaxReconnectBackoff caps the delay between reconnects.
	DefaultMaxReconnectBackoff = 30 * time.Second

	// DefaultBreakerThreshold is how many consecutive failed dials to a
	// --forward target open its breaker.
	DefaultBreakerThreshold = 5

	// DefaultBreakerCooldown is how long an open breaker refuses dials.
	DefaultBreakerCooldown = 30 * time.Second

	// DefaultShutdownTimeout is how long serve mode waits for sessions
	// to wind down on exit.
	DefaultShutdownTimeout = 5 * time.Second
)
