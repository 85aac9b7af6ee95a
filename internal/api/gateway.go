package api

import (
	"context"
	"fmt"
	"net/url"
)

// Gateway resolves the gateway WebSocket URL. Concurrent callers share one
// in-flight request.
func (c *Client) Gateway(ctx context.Context, compress bool) (string, error) {
	flag := "0"
	if compress {
		flag = "1"
	}

	v, err, shared := c.gateway.Do("compress="+flag, func() (any, error) {
		var resp GatewayResponse
		if err := c.call(ctx, routeGateway, url.Values{"compress": {flag}}, &resp); err != nil {
			return "", err
		}
		if resp.URL == "" {
			return "", fmt.Errorf("empty gateway url")
		}
		return resp.URL, nil
	})
	if err != nil {
		return "", fmt.Errorf("get gateway: %w", err)
	}
	if shared {
		c.logger.Debug("gateway lookup shared with concurrent caller")
	}

	return v.(string), nil
}

// Me fetches the current bot user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, routeMe, nil, &u); err != nil {
		return nil, fmt.Errorf("get user/me: %w", err)
	}
	return &u, nil
}

// Offline marks the bot offline.
func (c *Client) Offline(ctx context.Context) error {
	if err := c.call(ctx, routeOffline, nil, nil); err != nil {
		return fmt.Errorf("post user/offline: %w", err)
	}
	return nil
}
