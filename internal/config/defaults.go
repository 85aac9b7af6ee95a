package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL           = "https://www.kookapp.cn/api/v3"
	DefaultAPITimeout        = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryBackoff      = 1 * time.Second
	DefaultBreakerFailures   = 5
	DefaultBreakerTimeout    = 30 * time.Second
	DefaultMode              = "ordered"
	DefaultHandshakeTimeout  = 6 * time.Second
	DefaultHandshakeAttempts = 2
	DefaultResumeAttempts    = 2
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPongTimeout       = 6 * time.Second
	DefaultPingRetries       = 1
	DefaultReconnectBaseWait = 1 * time.Second
	DefaultReconnectMaxWait  = 60 * time.Second
	DefaultStableAfter       = 5 * time.Minute
	DefaultWindowSize        = 700
	DefaultSweepSchedule     = "@every 90s"
	DefaultWriteTimeout      = 5 * time.Second
	DefaultGatewayBufferSize = 1024
	DefaultStoreDriver       = "memory"
	DefaultStoreKey          = "default"
	DefaultFlushInterval     = 1 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultRedisKeyPrefix    = "kookgw:session:"
	DefaultSinkBufferSize    = 256
	DefaultNATSSubjectPrefix = "kook.events"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultLogOutput         = "stderr"
	DefaultTracerExporter    = "noop"
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}
	if c.API.Breaker.MaxFailures == 0 {
		c.API.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if c.API.Breaker.Timeout == 0 {
		c.API.Breaker.Timeout = DefaultBreakerTimeout
	}

	// Gateway defaults
	g := &c.Gateway
	if g.Mode == "" {
		g.Mode = DefaultMode
	}
	if g.HandshakeTimeout == 0 {
		g.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if g.HandshakeAttempts == 0 {
		g.HandshakeAttempts = DefaultHandshakeAttempts
	}
	if g.ResumeAttempts == 0 {
		g.ResumeAttempts = DefaultResumeAttempts
	}
	if g.HeartbeatInterval == 0 {
		g.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if g.PongTimeout == 0 {
		g.PongTimeout = DefaultPongTimeout
	}
	if g.PingRetries == 0 {
		g.PingRetries = DefaultPingRetries
	}
	if g.ReconnectBaseWait == 0 {
		g.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if g.ReconnectMaxWait == 0 {
		g.ReconnectMaxWait = DefaultReconnectMaxWait
	}
	if g.StableAfter == 0 {
		g.StableAfter = DefaultStableAfter
	}
	if g.WindowSize == 0 {
		g.WindowSize = DefaultWindowSize
	}
	if g.SweepSchedule == "" {
		g.SweepSchedule = DefaultSweepSchedule
	}
	if g.WriteTimeout == 0 {
		g.WriteTimeout = DefaultWriteTimeout
	}
	if g.BufferSize == 0 {
		g.BufferSize = DefaultGatewayBufferSize
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Key == "" {
		c.Store.Key = DefaultStoreKey
	}
	if c.Store.FlushInterval == 0 {
		c.Store.FlushInterval = DefaultFlushInterval
	}
	if c.Store.Driver == "postgres" {
		applyDBDefaults(&c.Store.Postgres)
	}
	if c.Store.Redis.KeyPrefix == "" {
		c.Store.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Sink defaults
	if c.Sink.BufferSize == 0 {
		c.Sink.BufferSize = DefaultSinkBufferSize
	}
	if c.Sink.NATS.SubjectPrefix == "" {
		c.Sink.NATS.SubjectPrefix = DefaultNATSSubjectPrefix
	}

	// Logger / tracer defaults
	if c.Logger.Level == "" {
		c.Logger.Level = DefaultLogLevel
	}
	if c.Logger.Format == "" {
		c.Logger.Format = DefaultLogFormat
	}
	if c.Logger.Output == "" {
		c.Logger.Output = DefaultLogOutput
	}
	if c.Tracer.Exporter == "" {
		c.Tracer.Exporter = DefaultTracerExporter
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
