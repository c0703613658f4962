package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Route decisions recorded per envelope.
const (
	DecisionDuplicate = "duplicate"
	DecisionLocal     = "local"
	DecisionForward   = "forward"
	DecisionNoRoute   = "no_route"
	DecisionInvalid   = "invalid"
)

// Handler and handshake outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeNoHandler = "no_handler"
	OutcomeAck       = "ack"
	OutcomeTimeout   = "timeout"
)

var (
	registerOnce sync.Once

	routedEnvelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctxbridge",
			Subsystem: "router",
			Name:      "envelopes_total",
			Help:      "Envelopes routed, by local context, message type and decision.",
		},
		[]string{"context", "type", "decision"},
	)
	handlerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctxbridge",
			Subsystem: "router",
			Name:      "handler_calls_total",
			Help:      "Local handler invocations by outcome.",
		},
		[]string{"context", "outcome"},
	)
	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ctxbridge",
			Subsystem: "router",
			Name:      "handler_duration_seconds",
			Help:      "Local handler duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"context", "outcome"},
	)
	pendingTransactions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ctxbridge",
			Subsystem: "router",
			Name:      "pending_transactions",
			Help:      "Requests awaiting a reply.",
		},
		[]string{"context"},
	)
	handshakeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctxbridge",
			Subsystem: "relay",
			Name:      "handshake_attempts_total",
			Help:      "Relay listening probes by outcome.",
		},
		[]string{"context", "outcome"},
	)
	relayDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctxbridge",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Envelopes broadcast on the relay after a confirmed probe.",
		},
		[]string{"context"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctxbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ctxbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			routedEnvelopes,
			handlerCalls,
			handlerDuration,
			pendingTransactions,
			handshakeAttempts,
			relayDeliveries,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordRoute(context, messageType, decision string) {
	RegisterMetrics()
	routedEnvelopes.WithLabelValues(context, messageType, decision).Inc()
}

func RecordHandler(context, outcome string, duration time.Duration) {
	RegisterMetrics()
	handlerCalls.WithLabelValues(context, outcome).Inc()
	handlerDuration.WithLabelValues(context, outcome).Observe(duration.Seconds())
}

func AddPendingTransactions(context string, delta float64) {
	RegisterMetrics()
	pendingTransactions.WithLabelValues(context).Add(delta)
}

func RecordHandshake(context, outcome string) {
	RegisterMetrics()
	handshakeAttempts.WithLabelValues(context, outcome).Inc()
}

func RecordDelivery(context string) {
	RegisterMetrics()
	relayDeliveries.WithLabelValues(context).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
