package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Bot.Token == "" && c.Bot.TokenFile == "" {
		return errors.New("bot.token or bot.token_file is required")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}

	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}

	if c.Sink.BufferSize < 1 {
		return errors.New("sink.buffer_size must be >= 1")
	}

	switch c.Logger.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logger.format must be text or json, got %q", c.Logger.Format)
	}
	switch c.Tracer.Exporter {
	case "stdout", "noop":
	default:
		return fmt.Errorf("tracer.exporter must be stdout or noop, got %q", c.Tracer.Exporter)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (g *GatewayConfig) validate() error {
	switch g.Mode {
	case "ordered", "dedup":
	default:
		return fmt.Errorf("gateway.mode must be ordered or dedup, got %q", g.Mode)
	}
	if g.HandshakeAttempts < 1 {
		return errors.New("gateway.handshake_attempts must be >= 1")
	}
	if g.ResumeAttempts < 0 {
		return errors.New("gateway.resume_attempts must be >= 0")
	}
	if g.PingRetries < 0 {
		return errors.New("gateway.ping_retries must be >= 0")
	}
	if g.PongTimeout >= g.HeartbeatInterval {
		return fmt.Errorf("gateway.pong_timeout (%s) must be shorter than heartbeat_interval (%s)", g.PongTimeout, g.HeartbeatInterval)
	}
	if g.ReconnectBaseWait > g.ReconnectMaxWait {
		return fmt.Errorf("gateway.reconnect_base_wait (%s) cannot exceed reconnect_max_wait (%s)", g.ReconnectBaseWait, g.ReconnectMaxWait)
	}
	if g.WindowSize < 1 {
		return errors.New("gateway.window_size must be >= 1")
	}
	if _, err := cron.ParseStandard(g.SweepSchedule); err != nil {
		return fmt.Errorf("gateway.sweep_schedule: %w", err)
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "memory":
	case "file", "sqlite":
		if s.Path == "" {
			return fmt.Errorf("store.path is required for driver %s", s.Driver)
		}
	case "postgres":
		return s.Postgres.validate("store.postgres")
	case "redis":
		if s.Redis.Addr == "" {
			return errors.New("store.redis.addr is required")
		}
	default:
		return fmt.Errorf("store.driver must be one of memory, file, sqlite, postgres, redis, got %q", s.Driver)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
