package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	apperrors "termrelay/internal/errors"
)

// fileConfig is the on-disk shape.  Pointers and empty strings mean "not
// set", so a file only overrides what it names.
//
//	host: 0.0.0.0
//	port: 9000
//	idle_grace: 30s
//	pty: true
//	ssh:
//	  tunnel: admin@bastion:2222
type fileConfig struct {
	Host          *string `yaml:"host" toml:"host"`
	Port          *int    `yaml:"port" toml:"port"`
	Path          *string `yaml:"path" toml:"path"`
	IdleGrace     string  `yaml:"idle_grace" toml:"idle_grace"`
	Backlog       *int    `yaml:"backlog" toml:"backlog"`
	WriteTimeout  string  `yaml:"write_timeout" toml:"write_timeout"`
	DetachTimeout string  `yaml:"detach_timeout" toml:"detach_timeout"`

	Exec    string   `yaml:"exec" toml:"exec"`
	Args    []string `yaml:"args" toml:"args"`
	Command string   `yaml:"command" toml:"command"`
	PTY     *bool    `yaml:"pty" toml:"pty"`
	Term    string   `yaml:"term" toml:"term"`
	Env     []string `yaml:"env" toml:"env"`
	Dir     string   `yaml:"dir" toml:"dir"`
	Forward string   `yaml:"forward" toml:"forward"`

	SSH struct {
		Tunnel        string `yaml:"tunnel" toml:"tunnel"`
		Key           string `yaml:"key" toml:"key"`
		Password      *bool  `yaml:"password" toml:"password"`
		Agent         *bool  `yaml:"agent" toml:"agent"`
		StrictHostKey *bool  `yaml:"strict_hostkey" toml:"strict_hostkey"`
		KnownHosts    string `yaml:"known_hosts" toml:"known_hosts"`
		KeepAlive     string `yaml:"keep_alive" toml:"keep_alive"`
	} `yaml:"ssh" toml:"ssh"`

	Attach struct {
		URL        string `yaml:"url" toml:"url"`
		Reconnect  *bool  `yaml:"reconnect" toml:"reconnect"`
		MaxRetries *int   `yaml:"max_retries" toml:"max_retries"`
	} `yaml:"attach" toml:"attach"`

	Verbose *int `yaml:"verbose" toml:"verbose"`
}

// LoadFile overlays the YAML (.yaml, .yml) or TOML (.toml) file at path
// onto cfg.  Unknown keys are rejected so typos do not pass silently.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &apperrors.ConfigError{Field: "config", Value: path, Message: err.Error()}
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(data, &fc)
	case ".toml":
		err = decodeTOML(data, &fc)
	default:
		return &apperrors.ConfigError{Field: "config", Value: path,
			Message: fmt.Sprintf("unsupported file type %q", ext),
			Hint:    "use a .yaml, .yml or .toml file"}
	}
	if err != nil {
		return &apperrors.ConfigError{Field: "config", Value: path, Message: err.Error()}
	}
	return fc.apply(cfg)
}

func decodeYAML(data []byte, fc *fileConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(fc); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeTOML(data []byte, fc *fileConfig) error {
	md, err := toml.Decode(string(data), fc)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	if fc.Host != nil {
		cfg.Host = *fc.Host
	}
	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.Path != nil {
		cfg.Path = *fc.Path
	}
	if fc.Backlog != nil {
		cfg.Backlog = *fc.Backlog
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"idle_grace", fc.IdleGrace, &cfg.IdleGrace},
		{"write_timeout", fc.WriteTimeout, &cfg.WriteTimeout},
		{"detach_timeout", fc.DetachTimeout, &cfg.DetachTimeout},
		{"ssh.keep_alive", fc.SSH.KeepAlive, &cfg.KeepAlive},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, ok := parseDuration(d.raw)
		if !ok {
			return &apperrors.ConfigError{Field: d.field, Value: d.raw, Message: "invalid duration",
				Hint: `use Go duration syntax such as "5s" or "1m30s"`}
		}
		*d.dst = v
	}

	if fc.Exec != "" {
		cfg.Execute = fc.Exec
	}
	if len(fc.Args) > 0 {
		cfg.Args = fc.Args
	}
	if fc.Command != "" {
		cfg.Command = fc.Command
	}
	if fc.PTY != nil {
		cfg.PTY = *fc.PTY
	}
	if fc.Term != "" {
		cfg.Term = fc.Term
	}
	if len(fc.Env) > 0 {
		cfg.Env = fc.Env
	}
	if fc.Dir != "" {
		cfg.Dir = fc.Dir
	}
	if fc.Forward != "" {
		cfg.Forward = fc.Forward
	}

	if fc.SSH.Tunnel != "" {
		cfg.TunnelSpec = fc.SSH.Tunnel
	}
	if fc.SSH.Key != "" {
		cfg.SSHKeyPath = fc.SSH.Key
	}
	if fc.SSH.Password != nil {
		cfg.SSHPassword = *fc.SSH.Password
	}
	if fc.SSH.Agent != nil {
		cfg.UseSSHAgent = *fc.SSH.Agent
	}
	if fc.SSH.StrictHostKey != nil {
		cfg.StrictHostKey = *fc.SSH.StrictHostKey
	}
	if fc.SSH.KnownHosts != "" {
		cfg.KnownHostsPath = fc.SSH.KnownHosts
	}

	if fc.Attach.URL != "" {
		cfg.URL = fc.Attach.URL
	}
	if fc.Attach.Reconnect != nil {
		cfg.Reconnect = *fc.Attach.Reconnect
	}
	if fc.Attach.MaxRetries != nil {
		cfg.MaxRetries = *fc.Attach.MaxRetries
	}

	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
	return nil
}
