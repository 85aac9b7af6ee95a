package connection

import (
	"context"
	"time"

	"github.com/rickgao/kook-gateway/internal/frame"
	"github.com/rickgao/kook-gateway/internal/metrics"
)

// heartbeatLoop pings the gateway every HeartbeatInterval while connected.
func (c *Connector) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.state.get() != StateConnected {
				continue
			}
			c.heartbeat(ctx)
		}
	}
}

// heartbeat runs one ping round: the first ping plus PingRetries retries.
// When every ping goes unanswered the connection is marked timed out and
// resumed.
func (c *Connector) heartbeat(ctx context.Context) {
	if !c.state.compareAndSet(StateConnected, StateAwaitingPong) {
		return
	}

	for attempt := 0; attempt <= c.cfg.PingRetries; attempt++ {
		if attempt > 0 && c.state.get() != StateAwaitingPong {
			return
		}
		if c.ping(ctx) {
			c.state.compareAndSet(StateAwaitingPong, StateConnected)
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("heartbeat unanswered", "attempt", attempt+1, "max_attempts", c.cfg.PingRetries+1)
	}

	if !c.state.compareAndSet(StateAwaitingPong, StateTimedOut) {
		return
	}
	metrics.HeartbeatFailures.Inc()
	c.logger.Warn("heartbeat timed out, resuming session")

	if err := c.resume(ctx); err != nil {
		c.logger.Warn("resume failed", "error", err)
	}
}

// ping sends one heartbeat and waits up to PongTimeout for the pong.
func (c *Connector) ping(ctx context.Context) bool {
	ch := make(chan struct{})
	c.pongMu.Lock()
	c.pong = ch
	c.pongMu.Unlock()

	defer func() {
		c.pongMu.Lock()
		if c.pong == ch {
			c.pong = nil
		}
		c.pongMu.Unlock()
	}()

	_, sn := c.session.Position()
	if err := c.send(frame.Ping(sn)); err != nil {
		c.logger.Debug("send ping failed", "error", err)
		return false
	}

	return waitSignal(ctx, ch, c.cfg.PongTimeout)
}

// waitSignal waits for ch to close, up to timeout.
func waitSignal(ctx context.Context, ch <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
