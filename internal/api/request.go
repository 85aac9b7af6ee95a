package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/rickgao/kook-gateway/internal/metrics"
	"github.com/rickgao/kook-gateway/internal/ratelimit"
	"github.com/rickgao/kook-gateway/internal/version"
)

// APIError represents an error from the platform API, either an HTTP
// failure or a non-zero envelope code.
type APIError struct {
	StatusCode int
	Code       int // Envelope code, 0 for HTTP-level failures
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsRateLimited reports whether the remote rejected the call for exceeding
// its rate limit.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsUnauthorized reports whether the credentials were rejected.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// envelope is the common response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// route is one REST endpoint and the rate limit bucket it is charged to
// until the remote tells us otherwise.
type route struct {
	method string
	path   string
	bucket string
}

var (
	routeGateway = route{http.MethodGet, "/gateway/index", "gateway/index"}
	routeMe      = route{http.MethodGet, "/user/me", "user/me"}
	routeOffline = route{http.MethodPost, "/user/offline", "user/offline"}
)

func (rt route) key() string { return rt.method + " " + rt.path }

// bucketFor returns the bucket rt is charged to: the name the remote last
// assigned to it, or the static one from the route table.
func (c *Client) bucketFor(rt route) string {
	if name, ok := c.learned.Load(rt.key()); ok {
		return name.(string)
	}
	return rt.bucket
}

type response struct {
	body   []byte
	header http.Header
}

// doRequest performs one HTTP request for rt.
func (c *Client) doRequest(ctx context.Context, rt route, query url.Values) (*response, error) {
	fullURL := c.baseURL + rt.path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, rt.method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	c.creds.Apply(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if name := c.buckets.Observe(c.bucketFor(rt), resp.Header); name != "" {
		if prev, loaded := c.learned.Swap(rt.key(), name); !loaded || prev != name {
			c.logger.Debug("route bucket learned", "route", rt.key(), "bucket", name)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return &response{body: body, header: resp.Header}, nil
}

// send runs one attempt through the bucket check, the global limiter and
// the circuit breaker.
func (c *Client) send(ctx context.Context, rt route, query url.Values) (*response, error) {
	bucket := c.bucketFor(rt)
	if err := c.buckets.Check(bucket); err != nil {
		metrics.RateLimited.WithLabelValues(bucket).Inc()
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.doRequest(ctx, rt, query)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s %s: circuit open: %w", rt.method, rt.path, err)
	}
	return resp, err
}

// doWithRetry performs a request with exponential backoff retry. Local
// rate limit rejections are returned immediately.
func (c *Client) doWithRetry(ctx context.Context, rt route, query url.Values) (*response, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", rt.path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		resp, err := c.send(ctx, rt, query)
		if err == nil {
			metrics.APIRequests.WithLabelValues(rt.bucket, "ok").Inc()
			return resp, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			metrics.APIRequests.WithLabelValues(rt.bucket, outcome(err)).Inc()
			return nil, err
		}
	}

	metrics.APIRequests.WithLabelValues(rt.bucket, "exhausted").Inc()
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// call performs a request with retries and decodes the envelope's data
// into result (which may be nil).
func (c *Client) call(ctx context.Context, rt route, query url.Values, result any) error {
	resp, err := c.doWithRetry(ctx, rt, query)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if env.Code != 0 {
		return &APIError{
			StatusCode: http.StatusOK,
			Code:       env.Code,
			Message:    env.Message,
			Body:       resp.body,
		}
	}

	if result == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return nil
}

func outcome(err error) string {
	var apiErr *APIError
	switch {
	case errors.Is(err, ratelimit.ErrTooFast):
		return "rate_limited"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.As(err, &apiErr):
		return "http_" + strconv.Itoa(apiErr.StatusCode)
	default:
		return "error"
	}
}
