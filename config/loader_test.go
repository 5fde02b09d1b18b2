package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Listener(t *testing.T) {
	t.Setenv("TERMRELAY_HOST", "0.0.0.0")
	t.Setenv("TERMRELAY_PORT", "9001")
	t.Setenv("TERMRELAY_PATH", "/term")

	cfg := Default()
	LoadFromEnv(cfg)
	if cfg.Host != "0.0.0.0" || cfg.Port != 9001 || cfg.Path != "/term" {
		t.Errorf("listener = %s:%d%s", cfg.Host, cfg.Port, cfg.Path)
	}
}

func TestLoadFromEnv_InvalidPortIgnored(t *testing.T) {
	t.Setenv("TERMRELAY_PORT", "eighty")
	cfg := Default()
	LoadFromEnv(cfg)
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want default", cfg.Port)
	}
}

func TestLoadFromEnv_Durations(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"30", 30 * time.Second},
		{"1m30s", 90 * time.Second},
		{"0", 0},
		{"250ms", 250 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TERMRELAY_IDLE_GRACE", tt.value)
			cfg := Default()
			LoadFromEnv(cfg)
			if cfg.IdleGrace != tt.want {
				t.Errorf("IdleGrace = %s, want %s", cfg.IdleGrace, tt.want)
			}
		})
	}

	for _, bad := range []string{"soon", "-5", "-1s"} {
		t.Run("bad "+bad, func(t *testing.T) {
			t.Setenv("TERMRELAY_IDLE_GRACE", bad)
			cfg := Default()
			LoadFromEnv(cfg)
			if cfg.IdleGrace != DefaultIdleGrace {
				t.Errorf("IdleGrace = %s, want default", cfg.IdleGrace)
			}
		})
	}
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	tests := []struct {
		key    string
		values []string
		get    func(*Config) bool
	}{
		{"TERMRELAY_PTY", []string{"1", "true", "yes", "TRUE", "Yes"}, func(c *Config) bool { return c.PTY }},
		{"TERMRELAY_SSH_AGENT", []string{"1", "true"}, func(c *Config) bool { return c.UseSSHAgent }},
		{"TERMRELAY_STRICT_HOSTKEY", []string{"true"}, func(c *Config) bool { return c.StrictHostKey }},
		{"TERMRELAY_RECONNECT", []string{"yes"}, func(c *Config) bool { return c.Reconnect }},
	}

	for _, tt := range tests {
		for _, v := range tt.values {
			t.Run(tt.key+"="+v, func(t *testing.T) {
				t.Setenv(tt.key, v)
				cfg := Default()
				LoadFromEnv(cfg)
				if !tt.get(cfg) {
					t.Errorf("%s=%s should enable the option", tt.key, v)
				}
			})
		}
	}

	t.Run("false values", func(t *testing.T) {
		t.Setenv("TERMRELAY_PTY", "no")
		cfg := Default()
		LoadFromEnv(cfg)
		if cfg.PTY {
			t.Error("PTY should stay false")
		}
	})
}

func TestLoadFromEnv_Application(t *testing.T) {
	t.Setenv("TERMRELAY_COMMAND", "top -b")
	t.Setenv("TERMRELAY_TERM", "vt220")
	t.Setenv("TERMRELAY_FORWARD", "db:5432")
	t.Setenv("TERMRELAY_TUNNEL", "ops@gw")
	t.Setenv("TERMRELAY_SSH_KEY", "/keys/id")
	t.Setenv("TERMRELAY_URL", "ws://relay:8080/")
	t.Setenv("TERMRELAY_VERBOSE", "3")

	cfg := Default()
	LoadFromEnv(cfg)
	if cfg.Command != "top -b" || cfg.Term != "vt220" || cfg.Forward != "db:5432" {
		t.Errorf("application = %q %q %q", cfg.Command, cfg.Term, cfg.Forward)
	}
	if cfg.TunnelSpec != "ops@gw" || cfg.SSHKeyPath != "/keys/id" {
		t.Errorf("ssh = %q %q", cfg.TunnelSpec, cfg.SSHKeyPath)
	}
	if cfg.URL != "ws://relay:8080/" || cfg.Verbose != 3 {
		t.Errorf("url=%q verbose=%d", cfg.URL, cfg.Verbose)
	}
}

func TestLoadFromEnv_EmptyLeavesDefaults(t *testing.T) {
	cfg := Default()
	LoadFromEnv(cfg)
	want := Default()
	if cfg.Host != want.Host || cfg.Port != want.Port || cfg.IdleGrace != want.IdleGrace || cfg.Backlog != want.Backlog {
		t.Errorf("empty env changed config: %+v", cfg)
	}
}

func TestConfigFileFromEnv(t *testing.T) {
	t.Setenv("TERMRELAY_CONFIG", "/etc/termrelay.yaml")
	if got := ConfigFileFromEnv(); got != "/etc/termrelay.yaml" {
		t.Errorf("ConfigFileFromEnv = %q", got)
	}
}
