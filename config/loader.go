package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every supported environment variable.
const EnvPrefix = "TERMRELAY_"

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// variables override.  Boolean values accept "1", "true", "yes"
// (case-insensitive); durations accept Go syntax ("5s") or plain seconds.
func LoadFromEnv(cfg *Config) {
	if v := env("HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("PORT"); v > 0 {
		cfg.Port = v
	}
	if v := env("PATH"); v != "" {
		cfg.Path = v
	}

	// Session
	if d, ok := envDuration("IDLE_GRACE"); ok {
		cfg.IdleGrace = d
	}
	if v := envInt("BACKLOG"); v > 0 {
		cfg.Backlog = v
	}
	if d, ok := envDuration("WRITE_TIMEOUT"); ok {
		cfg.WriteTimeout = d
	}
	if d, ok := envDuration("DETACH_TIMEOUT"); ok {
		cfg.DetachTimeout = d
	}

	// Application
	if v := env("EXEC"); v != "" {
		cfg.Execute = v
	}
	if v := env("COMMAND"); v != "" {
		cfg.Command = v
	}
	if envBool("PTY") {
		cfg.PTY = true
	}
	if v := env("TERM"); v != "" {
		cfg.Term = v
	}
	if v := env("FORWARD"); v != "" {
		cfg.Forward = v
	}

	// SSH gateway
	if v := env("TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := env("SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := env("KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if d, ok := envDuration("KEEP_ALIVE"); ok {
		cfg.KeepAlive = d
	}

	// Attach
	if v := env("URL"); v != "" {
		cfg.URL = v
	}
	if envBool("RECONNECT") {
		cfg.Reconnect = true
	}

	// Output
	if v := envInt("VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ConfigFileFromEnv returns TERMRELAY_CONFIG, consulted before flags are
// parsed so the file layer can sit beneath the environment.
func ConfigFileFromEnv() string { return env("CONFIG") }

// ── helpers ──────────────────────────────────────────────────────────

func env(key string) string { return os.Getenv(EnvPrefix + key) }

func envInt(key string) int {
	n, err := strconv.Atoi(env(key))
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(env(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) (time.Duration, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	return parseDuration(v)
}

// parseDuration accepts "1m30s" or a bare number of seconds.
func parseDuration(v string) (time.Duration, bool) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}
