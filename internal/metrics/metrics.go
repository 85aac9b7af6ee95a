package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kookgw"

// Gateway
var (
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "connection_state",
		Help:      "Current connection state (0=disconnected 1=connecting 2=connected 3=awaiting_pong 4=timed_out 5=resuming).",
	})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts by kind (resume, restart).",
	}, []string{"kind", "result"})

	HandshakeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "handshake_attempts_total",
		Help:      "Handshake attempts by result.",
	}, []string{"result"})

	HeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "heartbeat_failures_total",
		Help:      "Heartbeat ticks that ended without a pong after all retries.",
	})
)

// Dispatch
var (
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "frames_received_total",
		Help:      "Decoded frames by kind.",
	}, []string{"kind"})

	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "events_delivered_total",
		Help:      "Events handed to the sink.",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "frames_dropped_total",
		Help:      "Frames discarded by reason (stale, duplicate, malformed, anomaly).",
	}, []string{"reason"})

	PendingFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "pending_frames",
		Help:      "Events buffered ahead of the expected sequence.",
	})

	WindowSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "dedup_window_size",
		Help:      "Sequences held in the dedup window.",
	})
)

// REST
var (
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "REST requests by route and outcome.",
	}, []string{"route", "outcome"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Requests rejected locally because the bucket budget was exhausted.",
	}, []string{"bucket"})
)

// Sink
var (
	SinkQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "queue_depth",
		Help:      "Events waiting for the sink consumer.",
	})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "handler_errors_total",
		Help:      "Handler failures by handler name.",
	}, []string{"handler"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
