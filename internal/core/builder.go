package core

import (
	"termrelay/config"
	"termrelay/internal/capability"
	"termrelay/internal/metrics"
	"termrelay/internal/retry"
	"termrelay/internal/transport"
	"termrelay/tunnel"
	"termrelay/util"
)

// Build turns a validated Config into the Mode it describes.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	if cfg.Mode == config.ModeAttach {
		return buildAttach(cfg, logger, m), nil
	}
	return buildServe(cfg, logger, m), nil
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *ServeMode {
	app, dialer := buildCapability(cfg, logger)
	return &ServeMode{
		Address:         cfg.Address(),
		Path:            cfg.Path,
		App:             app,
		Dialer:          dialer,
		IdleGrace:       cfg.IdleGrace,
		Backlog:         cfg.Backlog,
		WriteTimeout:    cfg.WriteTimeout,
		DetachTimeout:   cfg.DetachTimeout,
		ShutdownTimeout: config.DefaultShutdownTimeout,
		Logger:          logger,
		Metrics:         m,
	}
}

func buildAttach(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *AttachMode {
	bo := retry.DefaultBackoff()
	bo.MaxAttempts = cfg.MaxRetries
	bo.MaxDelay = config.DefaultMaxReconnectBackoff
	return &AttachMode{
		URL:          cfg.URL,
		Reconnect:    cfg.Reconnect,
		Backoff:      bo,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger,
		Metrics:      m,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildCapability selects the interactive application.  The returned
// dialer is non-nil only in forward mode; the serve mode owns its
// lifetime.
func buildCapability(cfg *config.Config, logger *util.Logger) (capability.Capability, transport.Dialer) {
	if cfg.Forward != "" {
		dialer := buildDialer(cfg, logger)
		return &capability.Forward{
			Dialer:  dialer,
			Address: cfg.Forward,
			Logger:  logger,
			Breaker: &retry.Breaker{
				Threshold: config.DefaultBreakerThreshold,
				Cooldown:  config.DefaultBreakerCooldown,
				OnChange: func(from, to retry.State) {
					logger.Warn("forward target %s: circuit %s -> %s", cfg.Forward, from, to)
				},
			},
		}, dialer
	}

	ex := capability.Exec{
		Program: cfg.Execute,
		Args:    cfg.Args,
		Command: cfg.Command,
		Env:     cfg.Env,
		Dir:     cfg.Dir,
		Logger:  logger,
	}
	if cfg.PTY {
		return &capability.PTY{Exec: ex, Term: cfg.Term}, nil
	}
	return &ex, nil
}

// buildDialer picks a direct or gateway dialer for forward mode.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultConnTimeout,
			KeepAlive:     cfg.KeepAlive,
		}, logger)
	}
	return &transport.TCPDialer{
		Timeout:   config.DefaultConnTimeout,
		KeepAlive: cfg.KeepAlive,
	}
}
