package connection

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rickgao/kook-gateway/internal/metrics"
)

// newBackOff returns the reconnect schedule: ReconnectBaseWait doubling up
// to ReconnectMaxWait, no jitter, never giving up.
func (c *Connector) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectBaseWait
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.ReconnectMaxWait
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// superviseLoop serves reconnect requests until ctx ends.
func (c *Connector) superviseLoop(ctx context.Context) {
	b := c.newBackOff()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-c.reconnect:
			if !c.running.Load() {
				return
			}
			if !c.reconnectOnce(ctx, b, reason) {
				return
			}
		}
	}
}

// reconnectOnce waits out the backoff and restarts the connection. It
// reports false when supervision must end.
func (c *Connector) reconnectOnce(ctx context.Context, b *backoff.ExponentialBackOff, reason string) bool {
	if since := c.connectedSince(); !since.IsZero() && time.Since(since) >= c.cfg.StableAfter {
		b.Reset()
	}
	wait := b.NextBackOff()

	c.logger.Info("reconnecting", "reason", reason, "wait", wait)
	if !sleepCtx(ctx, wait) {
		return false
	}

	err := c.restart(ctx)

	// Requests raised while restarting refer to the connection just replaced.
	c.reconnectRequested.Store(false)
	select {
	case <-c.reconnect:
	default:
	}

	switch {
	case err == nil:
		metrics.Reconnects.WithLabelValues("restart", "success").Inc()
		c.logger.Info("reconnected")
		return true
	case IsFatal(err):
		metrics.Reconnects.WithLabelValues("restart", "failure").Inc()
		c.raiseFatal(err)
		return false
	case ctx.Err() != nil:
		return false
	default:
		metrics.Reconnects.WithLabelValues("restart", "failure").Inc()
		c.logger.Warn("reconnect failed", "error", err)
		c.RequestReconnect("reconnect failed")
		return true
	}
}
