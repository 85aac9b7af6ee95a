package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rickgao/kook-gateway/internal/frame"
	"github.com/rickgao/kook-gateway/internal/metrics"
	"github.com/rickgao/kook-gateway/internal/model"
)

// Handler consumes delivered events. Handlers run on the single consumer
// goroutine, in delivery order.
type Handler interface {
	Handle(ctx context.Context, ev model.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev model.Event) error

func (fn HandlerFunc) Handle(ctx context.Context, ev model.Event) error { return fn(ctx, ev) }

type namedHandler struct {
	name string
	h    Handler
}

// Buffered decouples event delivery from handling. Deliver queues the
// frame and returns immediately; Run parses and hands events to every
// registered handler.
type Buffered struct {
	queue  *Queue[frame.Frame]
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []namedHandler
}

// NewBuffered creates a sink with the given initial queue capacity.
func NewBuffered(capacity int, logger *slog.Logger) *Buffered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffered{
		queue:  NewQueue[frame.Frame](capacity),
		logger: logger.With("component", "sink"),
	}
}

// Register adds a handler. Handlers registered after Run started only see
// later events.
func (b *Buffered) Register(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, namedHandler{name: name, h: h})
}

// Deliver queues f. Frames delivered after Close are dropped.
func (b *Buffered) Deliver(f frame.Frame) {
	if !b.queue.Push(f) {
		metrics.EventsDropped.WithLabelValues("sink_closed").Inc()
		b.logger.Warn("sink closed, dropping event", "sn", f.Sequence)
		return
	}
	metrics.SinkQueueDepth.Set(float64(b.queue.Len()))
}

// Run consumes queued frames until ctx ends, then drains what is left.
func (b *Buffered) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, b.queue.Close)
	defer stop()

	// Handlers still get a live context while draining after shutdown.
	handleCtx := context.WithoutCancel(ctx)

	for {
		f, ok := b.queue.Pop()
		if !ok {
			return ctx.Err()
		}
		metrics.SinkQueueDepth.Set(float64(b.queue.Len()))
		b.handle(handleCtx, f)
	}
}

// Close stops accepting frames; Run returns once the queue is drained.
func (b *Buffered) Close() {
	b.queue.Close()
}

// Stats returns queue statistics.
func (b *Buffered) Stats() QueueStats {
	return b.queue.Stats()
}

func (b *Buffered) handle(ctx context.Context, f frame.Frame) {
	ev, err := model.ParseEvent(f)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("unparseable_event").Inc()
		b.logger.Warn("discarding unparseable event", "sn", f.Sequence, "error", err)
		return
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, nh := range handlers {
		if err := nh.h.Handle(ctx, ev); err != nil {
			metrics.SinkErrors.WithLabelValues(nh.name).Inc()
			b.logger.Warn("event handler failed",
				"handler", nh.name,
				"event", ev.Name(),
				"sn", ev.Sequence,
				"error", err,
			)
		}
	}
}
