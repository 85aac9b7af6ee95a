package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rickgao/kook-gateway/internal/frame"
	"github.com/rickgao/kook-gateway/internal/metrics"
	"github.com/rickgao/kook-gateway/internal/session"
	"github.com/rickgao/kook-gateway/internal/store"
)

// Mode selects how EVENT frames are filtered.
type Mode int

const (
	ModeOrdered Mode = iota // Strict sequence order, stale frames dropped
	ModeDedup               // Window consulted first, late frames delivered once
)

func (m Mode) String() string {
	switch m {
	case ModeOrdered:
		return "ordered"
	case ModeDedup:
		return "dedup"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "ordered":
		return ModeOrdered, nil
	case "dedup":
		return ModeDedup, nil
	default:
		return ModeOrdered, fmt.Errorf("unknown dispatch mode %q", s)
	}
}

// Sink receives in-order EVENT frames. Deliver is called with the
// dispatcher lock held and must not block.
type Sink interface {
	Deliver(f frame.Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f frame.Frame)

func (fn SinkFunc) Deliver(f frame.Frame) { fn(f) }

// Control receives the non-EVENT frames that drive the connection.
// Methods are called without the dispatcher lock held.
type Control interface {
	OnHello(p frame.HelloPayload)
	OnPong()
	OnResumeAck(sessionID string)
	RequestReconnect(reason string)
}

// Persister accepts session metadata after every processed frame.
// Submit must not block.
type Persister interface {
	Submit(meta store.Metadata)
}

// Config configures a Dispatcher.
type Config struct {
	Mode          Mode
	WindowSize    int    // Dedup window capacity
	SweepSchedule string // cron spec for window trimming (e.g. "@every 90s")
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeOrdered,
		WindowSize:    session.DefaultWindowSize,
		SweepSchedule: "@every 90s",
	}
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	Mode         string `json:"mode"`
	SessionID    string `json:"session_id"`
	LastSequence int    `json:"last_sequence"`
	Pending      []int  `json:"pending"`
	WindowSize   int    `json:"window_size"`
}

// Dispatcher routes decoded frames. All session mutations and the
// delivery decision happen under mu.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	state  *session.State
	window *session.Window

	ctlMu     sync.RWMutex
	control   Control
	persister Persister
}

// New creates a dispatcher delivering events to sink.
func New(cfg Config, sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultConfig().SweepSchedule
	}
	return &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("component", "dispatcher", "mode", cfg.Mode.String()),
		state:  session.NewState(),
		window: session.NewWindow(cfg.WindowSize),
	}
}

// SetControl attaches the connection controller.
func (d *Dispatcher) SetControl(c Control) {
	d.ctlMu.Lock()
	d.control = c
	d.ctlMu.Unlock()
}

// SetPersister attaches the metadata persister.
func (d *Dispatcher) SetPersister(p Persister) {
	d.ctlMu.Lock()
	d.persister = p
	d.ctlMu.Unlock()
}

func (d *Dispatcher) ctl() Control {
	d.ctlMu.RLock()
	defer d.ctlMu.RUnlock()
	return d.control
}

func (d *Dispatcher) persist(meta store.Metadata) {
	d.ctlMu.RLock()
	p := d.persister
	d.ctlMu.RUnlock()
	if p != nil {
		meta.UpdatedAt = time.Now()
		p.Submit(meta)
	}
}

// HandleMessage decodes one transport message and dispatches it. Malformed
// messages are logged and discarded.
func (d *Dispatcher) HandleMessage(compressed bool, data []byte) {
	f, err := frame.Decode(compressed, data)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		d.logger.Warn("discarding undecodable frame",
			"error", err,
			"bytes", len(data),
			"compressed", compressed,
		)
		return
	}
	d.Dispatch(f)
}

// Dispatch routes a decoded frame by kind.
func (d *Dispatcher) Dispatch(f frame.Frame) {
	metrics.FramesReceived.WithLabelValues(f.Kind.String()).Inc()

	switch f.Kind {
	case frame.KindEvent:
		d.handleEvent(f)

	case frame.KindHello:
		d.handleHello(f)

	case frame.KindPong:
		if c := d.ctl(); c != nil {
			c.OnPong()
		}

	case frame.KindReconnect:
		d.logger.Info("server requested reconnect", "payload", string(f.Payload))
		if c := d.ctl(); c != nil {
			c.RequestReconnect("server reconnect request")
		}

	case frame.KindResumeAck:
		d.handleResumeAck(f)

	case frame.KindPing, frame.KindResume:
		metrics.EventsDropped.WithLabelValues("anomaly").Inc()
		d.logger.Warn("protocol anomaly: client-bound frame of server-bound kind", "kind", f.Kind)

	default:
		metrics.EventsDropped.WithLabelValues("anomaly").Inc()
		d.logger.Warn("unhandled frame kind", "kind", f.Kind)
	}
}

func (d *Dispatcher) handleHello(f frame.Frame) {
	p, err := frame.ParseHello(f)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		d.logger.Warn("discarding malformed hello", "error", err)
		return
	}

	if p.Code == frame.HelloOK {
		d.mu.Lock()
		if prev := d.state.ID(); prev != "" && p.SessionID != prev {
			// A new session restarts the sequence space.
			d.logger.Info("new session replaces previous one", "previous", prev, "session_id", p.SessionID)
			d.state.Reset()
			d.window.Clear()
		}
		d.state.SetID(p.SessionID)
		meta := d.metaLocked()
		d.mu.Unlock()
		d.persist(meta)
	}

	if c := d.ctl(); c != nil {
		c.OnHello(p)
	}
}

func (d *Dispatcher) handleResumeAck(f frame.Frame) {
	p, err := frame.ParseResumeAck(f)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		d.logger.Warn("discarding malformed resume ack", "error", err)
		return
	}

	d.mu.Lock()
	if p.SessionID != "" {
		d.state.SetID(p.SessionID)
	}
	id := d.state.ID()
	meta := d.metaLocked()
	d.mu.Unlock()

	d.persist(meta)
	d.logger.Info("resume acknowledged", "session_id", id)

	if c := d.ctl(); c != nil {
		c.OnResumeAck(id)
	}
}

func (d *Dispatcher) handleEvent(f frame.Frame) {
	d.mu.Lock()
	processed := d.orderLocked(f)
	meta := d.metaLocked()
	pending := d.state.Pending()
	d.mu.Unlock()

	metrics.PendingFrames.Set(float64(pending))
	if processed {
		d.persist(meta)
	}
}

// orderLocked applies the ordering rules to one event and reports whether
// the session advanced or delivered anything.
func (d *Dispatcher) orderLocked(f frame.Frame) bool {
	sn := f.Sequence
	dedup := d.cfg.Mode == ModeDedup

	if dedup && d.window.Contains(sn) {
		metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		d.logger.Debug("dropping replayed event", "sn", sn)
		return false
	}

	expected := d.state.Expected()
	switch {
	case sn == expected:
		d.deliverLocked(f)
		d.drainLocked()
		return true

	case sn > expected && !d.state.Ahead(sn):
		// Only reachable at the wrap boundary: a stray high sequence.
		metrics.EventsDropped.WithLabelValues("stale").Inc()
		d.logger.Warn("dropping stale event at sequence wrap", "sn", sn, "last", d.state.Last())
		return false

	case sn > expected:
		if !d.state.Buffer(f) {
			metrics.EventsDropped.WithLabelValues("duplicate").Inc()
			d.logger.Debug("event already buffered", "sn", sn)
			return false
		}
		d.logger.Info("event arrived early, buffering",
			"sn", sn,
			"expected", expected,
			"pending", d.state.Pending(),
		)
		return false

	case dedup:
		// Behind expected but never processed: a late replay after resume.
		d.logger.Info("delivering late event", "sn", sn, "expected", expected)
		d.deliverLocked(f)
		return true

	default:
		metrics.EventsDropped.WithLabelValues("stale").Inc()
		d.logger.Warn("dropping stale event", "sn", sn, "expected", expected)
		return false
	}
}

// deliverLocked hands f to the sink and records its sequence.
func (d *Dispatcher) deliverLocked(f frame.Frame) {
	d.sink.Deliver(f)
	metrics.EventsDelivered.Inc()

	if d.cfg.Mode == ModeDedup {
		d.state.Merge(f.Sequence)
		d.window.Add(f.Sequence)
		return
	}
	d.state.Advance(f.Sequence)
}

// drainLocked delivers buffered frames while they continue the sequence.
func (d *Dispatcher) drainLocked() {
	for {
		f, ok := d.state.TakeNext()
		if !ok {
			return
		}
		d.deliverLocked(f)
	}
}

func (d *Dispatcher) metaLocked() store.Metadata {
	return store.Metadata{
		SessionID: d.state.ID(),
		Sequence:  d.state.Last(),
	}
}

// SessionID returns the current session id.
func (d *Dispatcher) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.ID()
}

// LastSequence returns the last processed sequence.
func (d *Dispatcher) LastSequence() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Last()
}

// Position returns the session id and last sequence together.
func (d *Dispatcher) Position() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.ID(), d.state.Last()
}

// Reset clears the session for a full reconnect. The new session numbers
// its events from 1 again, so the dedup window is cleared too; it only
// survives a resume.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.state.Reset()
	d.window.Clear()
	d.mu.Unlock()

	metrics.PendingFrames.Set(0)
	metrics.WindowSize.Set(0)
	d.persist(store.Metadata{})
	d.logger.Info("session reset")
}

// Restore seeds the session from persisted metadata.
func (d *Dispatcher) Restore(meta store.Metadata) {
	d.mu.Lock()
	d.state.Restore(meta.SessionID, meta.Sequence)
	d.mu.Unlock()

	d.logger.Info("session restored",
		"session_id", meta.SessionID,
		"sn", meta.Sequence,
		"saved_at", meta.UpdatedAt,
	)
}

// Sweep trims the dedup window to its capacity.
func (d *Dispatcher) Sweep() {
	d.mu.Lock()
	dropped := d.window.Trim()
	size := d.window.Len()
	d.mu.Unlock()

	metrics.WindowSize.Set(float64(size))
	if dropped > 0 {
		d.logger.Debug("dedup window trimmed", "dropped", dropped, "size", size)
	}
}

// StartSweeper trims the dedup window on the configured schedule until
// ctx is done. It is a no-op in ordered mode.
func (d *Dispatcher) StartSweeper(ctx context.Context) error {
	if d.cfg.Mode != ModeDedup {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(d.cfg.SweepSchedule, d.Sweep); err != nil {
		return fmt.Errorf("schedule window sweep %q: %w", d.cfg.SweepSchedule, err)
	}
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()

	d.logger.Debug("window sweeper started", "schedule", d.cfg.SweepSchedule)
	return nil
}

// Snapshot returns the current session view.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Mode:         d.cfg.Mode.String(),
		SessionID:    d.state.ID(),
		LastSequence: d.state.Last(),
		Pending:      d.state.PendingSequences(),
		WindowSize:   d.window.Len(),
	}
}
