package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/rickgao/kook-gateway/internal/auth"
	"github.com/rickgao/kook-gateway/internal/ratelimit"
)

// DefaultBaseURL is the production REST endpoint.
const DefaultBaseURL = "https://www.kookapp.cn/api/v3"

// BreakerConfig configures the circuit breaker around REST calls.
type BreakerConfig struct {
	MaxFailures uint32        // Consecutive failures before opening
	Timeout     time.Duration // Open → half-open delay
	Interval    time.Duration // Closed-state count reset period (0 = never)
}

// DefaultBreakerConfig returns the defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		Interval:    time.Minute,
	}
}

// Client provides access to the platform REST API.
type Client struct {
	baseURL    string
	creds      *auth.Credentials
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	buckets    *ratelimit.Registry
	learned    sync.Map // route key → bucket name assigned by the remote
	limiter    *rate.Limiter
	breakerCfg BreakerConfig
	breaker    *gobreaker.CircuitBreaker[*response]

	gateway singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, creds *auth.Credentials, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
		limiter:      rate.NewLimiter(rate.Inf, 0),
		breakerCfg:   DefaultBreakerConfig(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.buckets == nil {
		c.buckets = ratelimit.NewRegistry(ratelimit.WithLogger(c.logger))
	}
	c.breaker = newBreaker(c.breakerCfg, c.logger)

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBuckets shares a bucket registry with other REST callers.
func WithBuckets(r *ratelimit.Registry) ClientOption {
	return func(c *Client) {
		c.buckets = r
	}
}

// WithRateLimit caps the overall request rate. rps <= 0 disables the cap.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreaker sets the circuit breaker configuration.
func WithBreaker(cfg BreakerConfig) ClientOption {
	return func(c *Client) {
		c.breakerCfg = cfg
	}
}

// Buckets returns the bucket registry.
func (c *Client) Buckets() *ratelimit.Registry {
	return c.buckets
}

// BreakerState returns the circuit breaker state for health reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func newBreaker(cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[*response] {
	def := DefaultBreakerConfig()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	maxFailures := cfg.MaxFailures

	return gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "rest",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Only transport failures and server errors count against
			// the remote. Client errors are the caller's problem.
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return false
		},
	})
}
