package config

import "time"

// Config is the root configuration for a gateway host process.
type Config struct {
	Bot     BotConfig     `yaml:"bot"`
	API     APIConfig     `yaml:"api"`
	Gateway GatewayConfig `yaml:"gateway"`
	Store   StoreConfig   `yaml:"store"`
	Sink    SinkConfig    `yaml:"sink"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// BotConfig holds the bot credentials. Token wins over TokenFile.
type BotConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// APIConfig holds REST client settings.
type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	RateLimit    float64       `yaml:"rate_limit"` // Requests per second across all routes, 0 = unlimited
	Burst        int           `yaml:"burst"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds REST circuit breaker settings.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// GatewayConfig holds gateway session settings.
type GatewayConfig struct {
	Compress          bool          `yaml:"compress"`
	Mode              string        `yaml:"mode"` // "ordered" or "dedup"
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	HandshakeAttempts int           `yaml:"handshake_attempts"`
	ResumeAttempts    int           `yaml:"resume_attempts"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
	PingRetries       int           `yaml:"ping_retries"`
	ReconnectBaseWait time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `yaml:"reconnect_max_wait"`
	StableAfter       time.Duration `yaml:"stable_after"`
	WindowSize        int           `yaml:"window_size"`
	SweepSchedule     string        `yaml:"sweep_schedule"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
	SkipOfflineCheck  bool          `yaml:"skip_offline_check"`
}

// StoreConfig selects where session metadata is persisted.
type StoreConfig struct {
	Driver        string        `yaml:"driver"` // memory, file, sqlite, postgres, redis
	Path          string        `yaml:"path"`   // file and sqlite
	Key           string        `yaml:"key"`    // row / key identifying this bot
	FlushInterval time.Duration `yaml:"flush_interval"`
	Postgres      DBConfig      `yaml:"postgres"`
	Redis         RedisConfig   `yaml:"redis"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds a Redis connection.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SinkConfig configures event delivery.
type SinkConfig struct {
	BufferSize int        `yaml:"buffer_size"`
	Log        bool       `yaml:"log"`
	NATS       NATSConfig `yaml:"nats"`
}

// NATSConfig configures event fan-out over NATS. Empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LoggerConfig configures the slog handler.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig configures OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// MetricsConfig holds the metrics / health server settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}
