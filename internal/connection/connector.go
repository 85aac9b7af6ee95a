package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kook-gateway/internal/api"
	"github.com/rickgao/kook-gateway/internal/frame"
	"github.com/rickgao/kook-gateway/internal/metrics"
	"github.com/rickgao/kook-gateway/internal/tracer"
)

// DialFunc builds a transport for one connection attempt.
type DialFunc func(cfg ClientConfig, logger *slog.Logger) Client

// Worker is a background loop run for the connector's lifetime.
type Worker func(ctx context.Context) error

type namedWorker struct {
	name string
	run  Worker
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the WebSocket transport factory.
func WithDialer(dial DialFunc) Option {
	return func(c *Connector) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithWorker registers a loop started by Start and stopped by Stop.
func WithWorker(name string, run Worker) Option {
	return func(c *Connector) {
		c.workers = append(c.workers, namedWorker{name: name, run: run})
	}
}

// Connector owns the gateway session lifecycle: handshake, heartbeat,
// resume and full reconnects.
type Connector struct {
	cfg     ConnectorConfig
	api     RestAPI
	session Session
	logger  *slog.Logger
	dial    DialFunc
	workers []namedWorker

	state     stateMachine
	lifecycle sync.Mutex // serializes start, resume, restart and shutdown

	clientMu   sync.RWMutex
	client     Client
	gatewayURL string

	hsMu      sync.Mutex
	handshake chan error

	pongMu sync.Mutex
	pong   chan struct{}

	resumeStored bool // first connect resumes a restored session

	running            atomic.Bool
	online             atomic.Bool
	reconnectRequested atomic.Bool
	connectedAt        atomic.Int64

	reconnect chan string
	fatal     chan error

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewConnector creates a Connector. session is usually a *dispatch.Dispatcher;
// callers register the connector back on it as its Control.
func NewConnector(cfg ConnectorConfig, restAPI RestAPI, session Session, opts ...Option) *Connector {
	def := DefaultConnectorConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.HandshakeAttempts < 1 {
		cfg.HandshakeAttempts = def.HandshakeAttempts
	}
	if cfg.ResumeAttempts < 1 {
		cfg.ResumeAttempts = def.ResumeAttempts
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.PingRetries < 0 {
		cfg.PingRetries = 0
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = def.ReconnectMaxWait
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = def.StableAfter
	}

	c := &Connector{
		cfg:       cfg,
		api:       restAPI,
		session:   session,
		logger:    slog.Default(),
		dial:      NewClient,
		reconnect: make(chan string, 1),
		fatal:     make(chan error, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "connector")
	c.state.onSet = func(s State) {
		metrics.ConnectionState.Set(float64(s))
	}
	return c
}

// Start launches the background loops and connects. It returns once the
// first handshake succeeds, or with the error that made connecting
// impossible (ErrInvalidToken, *HandshakeError, context cancellation).
func (c *Connector) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.group = &errgroup.Group{}

	c.group.Go(func() error {
		c.heartbeatLoop(runCtx)
		return nil
	})
	c.group.Go(func() error {
		c.superviseLoop(runCtx)
		return nil
	})
	for _, w := range c.workers {
		c.group.Go(func() error {
			if err := w.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("worker exited", "worker", w.name, "error", err)
			}
			return nil
		})
	}

	c.lifecycle.Lock()
	if id, _ := c.session.Position(); id != "" {
		c.resumeStored = true
	}
	err := c.start(runCtx)
	c.lifecycle.Unlock()

	if err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		c.Stop(stopCtx)
		return err
	}

	c.logger.Info("connector started")
	return nil
}

// start resolves the gateway and connects, re-resolving the URL after
// HandshakeAttempts failed dials. Caller holds c.lifecycle.
func (c *Connector) start(ctx context.Context) error {
	for c.running.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.clearStaleOnline(ctx)

		url, err := c.api.Gateway(ctx, c.cfg.Compress)
		if err != nil {
			var apiErr *api.APIError
			if errors.As(err, &apiErr) && apiErr.IsUnauthorized() {
				return fmt.Errorf("%w: %v", ErrInvalidToken, err)
			}
			c.logger.Warn("resolve gateway failed", "error", err)
			if !sleepCtx(ctx, c.cfg.ReconnectBaseWait) {
				return ctx.Err()
			}
			continue
		}
		c.setGatewayURL(url)

		if c.resumeStored {
			c.resumeStored = false
			err := c.resumeRestored(ctx, url)
			if err == nil {
				return nil
			}
			if IsFatal(err) {
				return err
			}
			c.logger.Info("restored session not resumable, starting fresh", "error", err)
			c.session.Reset()
		}

		for attempt := 1; attempt <= c.cfg.HandshakeAttempts; attempt++ {
			err := c.connectOnce(ctx, url)
			if err == nil {
				return nil
			}
			if IsFatal(err) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("gateway handshake failed",
				"attempt", attempt,
				"max_attempts", c.cfg.HandshakeAttempts,
				"error", err,
			)
		}

		c.logger.Info("handshake attempts exhausted, re-resolving gateway")
	}
	return ErrNotRunning
}

// resumeRestored tries once to resume a session restored from the store.
func (c *Connector) resumeRestored(ctx context.Context, url string) error {
	sessionID, sn := c.session.Position()
	resumeURL, err := frame.ResumeURL(url, sn, sessionID)
	if err != nil {
		return err
	}
	c.logger.Info("resuming restored session", "session_id", sessionID, "sn", sn)
	return c.connectOnce(ctx, resumeURL)
}

// clearStaleOnline marks the bot offline when a previous process left it
// online. Failures are logged and ignored.
func (c *Connector) clearStaleOnline(ctx context.Context) {
	if c.cfg.SkipOfflineCheck {
		return
	}
	me, err := c.api.Me(ctx)
	if err != nil {
		c.logger.Debug("bot status lookup failed", "error", err)
		return
	}
	if !me.Online {
		return
	}
	c.logger.Info("bot still marked online, going offline first", "bot_id", me.ID)
	if err := c.api.Offline(ctx); err != nil {
		c.logger.Warn("offline call failed", "error", err)
	}
}

// connectOnce dials url and waits for the handshake to finish.
func (c *Connector) connectOnce(ctx context.Context, url string) (err error) {
	attemptID := uuid.NewString()
	ctx, span := tracer.StartSpan(ctx, "gateway.connect", attribute.String("attempt_id", attemptID))
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		metrics.HandshakeAttempts.WithLabelValues(result).Inc()
		tracer.End(span, err)
	}()

	logger := c.logger.With("attempt_id", attemptID)

	if err := c.state.set(StateConnecting); err != nil {
		return err
	}

	hs := c.armHandshake()

	cfg := c.cfg.Client
	cfg.URL = url
	client := c.dial(cfg, logger)

	if err := client.Connect(ctx); err != nil {
		c.disarmHandshake(hs)
		c.state.set(StateDisconnected)
		return fmt.Errorf("dial gateway: %w", err)
	}
	c.setClient(client)
	c.group.Go(func() error {
		c.readLoop(ctx, client)
		return nil
	})

	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case err = <-hs:
	case <-timer.C:
		err = ErrHandshakeTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.disarmHandshake(hs)

	if err != nil {
		c.closeClient()
		c.state.set(StateDisconnected)
		return err
	}

	c.online.Store(true)
	c.connectedAt.Store(time.Now().UnixNano())
	if err := c.state.set(StateConnected); err != nil {
		return err
	}

	sessionID, sn := c.session.Position()
	logger.Info("gateway connected", "session_id", sessionID, "sn", sn)
	return nil
}

// readLoop feeds transport messages to the session until the transport
// ends.
func (c *Connector) readLoop(ctx context.Context, client Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case msg := <-client.Messages():
			c.session.HandleMessage(msg.Binary, msg.Data)
		case err := <-client.Errors():
			c.onTransportError(client, err)
			return
		}
	}
}

func (c *Connector) onTransportError(client Client, err error) {
	if c.currentClient() != client {
		return
	}
	if IsNormalClosure(err) {
		c.logger.Debug("gateway closed normally", "error", err)
		return
	}
	if c.completeHandshake(fmt.Errorf("transport: %w", err)) {
		return
	}
	c.logger.Warn("gateway transport error", "error", err)
	c.RequestReconnect("transport error")
}

// OnHello handles the handshake result.
func (c *Connector) OnHello(p frame.HelloPayload) {
	switch p.Code {
	case frame.HelloOK:
		c.logger.Info("handshake accepted", "session_id", p.SessionID)
		c.completeHandshake(nil)

	case frame.HelloInvalidToken:
		err := fmt.Errorf("%w: hello code %d", ErrInvalidToken, p.Code)
		if !c.completeHandshake(err) {
			c.raiseFatal(err)
		}

	case frame.HelloInvalidSessionToken:
		c.logger.Warn("session token rejected, resetting session", "code", p.Code)
		c.session.Reset()
		if !c.completeHandshake(ErrSessionExpired) {
			c.RequestReconnect("session token expired")
		}

	default:
		err := &HandshakeError{Code: p.Code}
		if !c.completeHandshake(err) {
			c.raiseFatal(err)
		}
	}
}

// OnResumeAck completes a pending resume handshake.
func (c *Connector) OnResumeAck(sessionID string) {
	if !c.completeHandshake(nil) {
		c.logger.Debug("resume ack without pending handshake", "session_id", sessionID)
	}
}

// OnPong wakes the heartbeat waiting for it. A pong that arrives after the
// heartbeat gave up resumes the session in place.
func (c *Connector) OnPong() {
	c.pongMu.Lock()
	ch := c.pong
	c.pong = nil
	c.pongMu.Unlock()

	if ch != nil {
		close(ch)
		return
	}

	if c.state.compareAndSet(StateTimedOut, StateConnected) {
		_, sn := c.session.Position()
		if err := c.send(frame.Resume(sn)); err != nil {
			c.logger.Warn("send resume failed", "error", err)
			return
		}
		c.logger.Info("late pong, connection recovered", "sn", sn)
		return
	}

	c.logger.Debug("unsolicited pong")
}

// RequestReconnect asks the supervisor for a full reconnect. Requests
// collapse while one is outstanding.
func (c *Connector) RequestReconnect(reason string) {
	if !c.running.Load() {
		return
	}
	c.reconnectRequested.Store(true)
	select {
	case c.reconnect <- reason:
	default:
	}
}

// resume reconnects to the same session after a heartbeat timeout.
func (c *Connector) resume(ctx context.Context) (err error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if !c.state.compareAndSet(StateTimedOut, StateResuming) {
		c.logger.Debug("resume skipped", "state", c.state.get())
		return nil
	}

	ctx, span := tracer.StartSpan(ctx, "gateway.resume")
	defer func() { tracer.End(span, err) }()

	sessionID, sn := c.session.Position()
	url, err := frame.ResumeURL(c.currentGatewayURL(), sn, sessionID)
	if err != nil {
		c.state.set(StateDisconnected)
		c.RequestReconnect("invalid resume url")
		return err
	}

	c.logger.Info("resuming session", "session_id", sessionID, "sn", sn)
	c.closeClient()

	for attempt := 1; attempt <= c.cfg.ResumeAttempts; attempt++ {
		if err = c.connectOnce(ctx, url); err == nil {
			metrics.Reconnects.WithLabelValues("resume", "success").Inc()
			return nil
		}
		if IsFatal(err) {
			c.raiseFatal(err)
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("resume attempt failed", "attempt", attempt, "error", err)
	}

	metrics.Reconnects.WithLabelValues("resume", "failure").Inc()
	c.state.set(StateDisconnected)
	c.RequestReconnect("resume failed")
	return err
}

// restart tears the connection down and connects from scratch with a
// fresh session.
func (c *Connector) restart(ctx context.Context) (err error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	ctx, span := tracer.StartSpan(ctx, "gateway.restart")
	defer func() { tracer.End(span, err) }()

	c.shutdown(ctx)
	c.session.Reset()
	return c.start(ctx)
}

// shutdown closes the transport and clears the online presence. Safe to
// call repeatedly.
func (c *Connector) shutdown(ctx context.Context) {
	c.state.set(StateDisconnected)
	c.closeClient()
	c.connectedAt.Store(0)

	if c.online.CompareAndSwap(true, false) {
		if err := c.api.Offline(ctx); err != nil {
			c.logger.Warn("offline call failed", "error", err)
		}
	}
}

// Stop closes the transport, stops the background loops and marks the bot
// offline.
func (c *Connector) Stop(ctx context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	c.logger.Info("stopping connector")

	c.closeClient()
	if c.cancel != nil {
		c.cancel()
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		c.group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("shutdown timeout, forcing close")
	}

	c.lifecycle.Lock()
	c.shutdown(ctx)
	c.lifecycle.Unlock()

	c.logger.Info("connector stopped")
	return nil
}

// Fatal delivers errors that ended reconnection after Start returned.
func (c *Connector) Fatal() <-chan error {
	return c.fatal
}

func (c *Connector) raiseFatal(err error) {
	c.logger.Error("fatal gateway error", "error", err)
	select {
	case c.fatal <- err:
	default:
	}
}

// State returns the current connection state.
func (c *Connector) State() State {
	return c.state.get()
}

// Snapshot returns the connector status.
func (c *Connector) Snapshot() Snapshot {
	return Snapshot{
		State:          c.state.get().String(),
		Running:        c.running.Load(),
		Online:         c.online.Load(),
		ConnectedAt:    c.connectedSince(),
		ReconnectQueue: c.reconnectRequested.Load(),
	}
}

func (c *Connector) connectedSince() time.Time {
	ns := c.connectedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Connector) armHandshake() chan error {
	ch := make(chan error, 1)
	c.hsMu.Lock()
	c.handshake = ch
	c.hsMu.Unlock()
	return ch
}

func (c *Connector) disarmHandshake(ch chan error) {
	c.hsMu.Lock()
	if c.handshake == ch {
		c.handshake = nil
	}
	c.hsMu.Unlock()
}

// completeHandshake resolves the pending handshake, reporting whether one
// was pending.
func (c *Connector) completeHandshake(err error) bool {
	c.hsMu.Lock()
	ch := c.handshake
	c.handshake = nil
	c.hsMu.Unlock()

	if ch == nil {
		return false
	}
	ch <- err
	return true
}

func (c *Connector) send(data []byte) error {
	client := c.currentClient()
	if client == nil {
		return ErrNotConnected
	}
	return client.Send(data)
}

func (c *Connector) currentClient() Client {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	return c.client
}

func (c *Connector) setClient(client Client) {
	c.clientMu.Lock()
	c.client = client
	c.clientMu.Unlock()
}

func (c *Connector) closeClient() {
	c.clientMu.Lock()
	client := c.client
	c.client = nil
	c.clientMu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			c.logger.Debug("close transport", "error", err)
		}
	}
}

func (c *Connector) currentGatewayURL() string {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	return c.gatewayURL
}

func (c *Connector) setGatewayURL(url string) {
	c.clientMu.Lock()
	c.gatewayURL = url
	c.clientMu.Unlock()
}

// sleepCtx waits for d, reporting false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
