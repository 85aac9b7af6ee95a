package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
bot:
  token: abc
api:
  base_url: https://api.example.com/v3
gateway:
  compress: true
  mode: dedup
  heartbeat_interval: 20s
store:
  driver: sqlite
  path: /tmp/kookgw.db
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bot.Token != "abc" {
		t.Errorf("Bot.Token = %q, want %q", cfg.Bot.Token, "abc")
	}
	if cfg.API.BaseURL != "https://api.example.com/v3" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if !cfg.Gateway.Compress {
		t.Error("Gateway.Compress = false, want true")
	}
	if cfg.Gateway.HeartbeatInterval != 20*time.Second {
		t.Errorf("Gateway.HeartbeatInterval = %v, want 20s", cfg.Gateway.HeartbeatInterval)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "secret123")

	yaml := `
bot:
  token: ${TEST_BOT_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bot.Token != "secret123" {
		t.Errorf("Bot.Token = %q, want %q", cfg.Bot.Token, "secret123")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
bot:
  token: abc
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.BaseURL != DefaultBaseURL {
		t.Errorf("API.BaseURL = %q, want default %q", cfg.API.BaseURL, DefaultBaseURL)
	}
	if cfg.Gateway.HandshakeTimeout != 6*time.Second {
		t.Errorf("Gateway.HandshakeTimeout = %v, want 6s", cfg.Gateway.HandshakeTimeout)
	}
	if cfg.Gateway.HandshakeAttempts != 2 {
		t.Errorf("Gateway.HandshakeAttempts = %d, want 2", cfg.Gateway.HandshakeAttempts)
	}
	if cfg.Gateway.HeartbeatInterval != 30*time.Second {
		t.Errorf("Gateway.HeartbeatInterval = %v, want 30s", cfg.Gateway.HeartbeatInterval)
	}
	if cfg.Gateway.PongTimeout != 6*time.Second {
		t.Errorf("Gateway.PongTimeout = %v, want 6s", cfg.Gateway.PongTimeout)
	}
	if cfg.Gateway.WindowSize != 700 {
		t.Errorf("Gateway.WindowSize = %d, want 700", cfg.Gateway.WindowSize)
	}
	if cfg.Gateway.SweepSchedule != "@every 90s" {
		t.Errorf("Gateway.SweepSchedule = %q", cfg.Gateway.SweepSchedule)
	}
	if cfg.Store.Driver != DefaultStoreDriver {
		t.Errorf("Store.Driver = %q, want default %q", cfg.Store.Driver, DefaultStoreDriver)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "gateway:\n  mode: ordered\n")

	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "bot.token") {
		t.Errorf("error = %v, want mention of bot.token", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{Bot: BotConfig{Token: "abc"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Bot.Token = "" },
			wantErr: "bot.token or bot.token_file is required",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Gateway.Mode = "fifo" },
			wantErr: `gateway.mode must be ordered or dedup, got "fifo"`,
		},
		{
			name:    "pong timeout not shorter than heartbeat",
			mutate:  func(c *Config) { c.Gateway.PongTimeout = 30 * time.Second },
			wantErr: "gateway.pong_timeout (30s) must be shorter than heartbeat_interval (30s)",
		},
		{
			name:    "base wait exceeds max wait",
			mutate:  func(c *Config) { c.Gateway.ReconnectBaseWait = 2 * time.Minute },
			wantErr: "gateway.reconnect_base_wait (2m0s) cannot exceed reconnect_max_wait (1m0s)",
		},
		{
			name:    "file store without path",
			mutate:  func(c *Config) { c.Store.Driver = "file" },
			wantErr: "store.path is required for driver file",
		},
		{
			name: "postgres store missing password",
			mutate: func(c *Config) {
				c.Store.Driver = "postgres"
				c.Store.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 4}
			},
			wantErr: "store.postgres.password is required",
		},
		{
			name: "postgres min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Store.Driver = "postgres"
				c.Store.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 2, MinConns: 5}
			},
			wantErr: "store.postgres.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:    "redis store without addr",
			mutate:  func(c *Config) { c.Store.Driver = "redis" },
			wantErr: "store.redis.addr is required",
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Store.Driver = "etcd" },
			wantErr: `store.driver must be one of memory, file, sqlite, postgres, redis, got "etcd"`,
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}

	t.Run("bad sweep schedule", func(t *testing.T) {
		cfg := valid()
		cfg.Gateway.SweepSchedule = "sometimes"
		err := cfg.Validate()
		if err == nil || !strings.HasPrefix(err.Error(), "gateway.sweep_schedule") {
			t.Errorf("Validate() error = %v, want sweep_schedule error", err)
		}
	})
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
