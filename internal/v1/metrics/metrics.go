package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling server.
//
// Naming convention: namespace_subsystem_name
// - namespace: signaling (application-level grouping)
// - subsystem: websocket, room, router, session (feature-level grouping)
//
// Cardinality is bounded by labelling only with enumerated message types,
// kinds, and error codes. User ids and stream ids never become labels.
var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// RejectedOrigin counts upgrade attempts refused by the origin check
	RejectedOrigin = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "rejected_origin_total",
		Help:      "Upgrade attempts rejected by the origin allow-list",
	})

	// ActiveRooms tracks the current number of active rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// ActiveParticipants tracks the total participant count across all rooms
	ActiveParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "participants_active",
		Help:      "Total participants across all rooms",
	})

	// MessagesHandled counts successfully dispatched messages by type
	MessagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "router",
		Name:      "messages_handled_total",
		Help:      "Messages successfully processed by a handler",
	}, []string{"type"})

	// MessagesDuplicate counts messages absorbed by the deduplicator
	MessagesDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "router",
		Name:      "messages_duplicate_total",
		Help:      "Messages absorbed as duplicates by msgId",
	}, []string{"type"})

	// MessagesDropped counts outbound frames dropped under backpressure
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "router",
		Name:      "messages_dropped_total",
		Help:      "Outbound frames dropped by backpressure policy",
	}, []string{"type"})

	// MessagesOutOfOrder counts sequence regressions (warned, never rejected)
	MessagesOutOfOrder = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "router",
		Name:      "messages_out_of_order_total",
		Help:      "Messages whose seq regressed relative to the sender's last seen seq",
	})

	// RateLimited counts token-bucket rejections by kind
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "router",
		Name:      "rate_limited_total",
		Help:      "Messages rejected by a per-user token bucket",
	}, []string{"kind"})

	// Errors counts normalized wire errors by code
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "router",
		Name:      "errors_total",
		Help:      "Normalized error frames sent, by code",
	}, []string{"code"})

	// MessageProcessingDuration tracks handler latency by message type
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "router",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"type"})

	// BroadcastFanout summarizes per-broadcast recipient counts
	BroadcastFanout = promauto.NewSummary(prometheus.SummaryOpts{
		Namespace:  "signaling",
		Subsystem:  "room",
		Name:       "broadcast_fanout",
		Help:       "Recipients per room broadcast",
		Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
	})

	// SessionsActive tracks unexpired resume sessions
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "session",
		Name:      "sessions_active",
		Help:      "Unexpired resume sessions",
	})

	// SessionsResumed counts successful resumes
	SessionsResumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "session",
		Name:      "sessions_resumed_total",
		Help:      "Successful session resumes",
	})

	// SessionsExpired counts sessions evicted by TTL
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "session",
		Name:      "sessions_expired_total",
		Help:      "Sessions evicted after TTL expiry",
	})

	// CoalescerFlushes counts flush windows fired per kind
	CoalescerFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "coalescer_flushes_total",
		Help:      "Coalescer flush windows fired",
	}, []string{"kind"})

	// CoalescerDiscarded counts superseded updates discarded at flush
	CoalescerDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "coalescer_discarded_total",
		Help:      "Coalesced updates superseded before flush",
	}, []string{"kind"})

	// RateLimitExceeded counts HTTP/upgrade level rate limit rejections
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connect_rate_limited_total",
		Help:      "Connection attempts rejected by the upgrade rate limiter",
	}, []string{"scope"})
)

// Readiness tracking. /readyz needs the raw counts of protocol-level errors,
// which prometheus counters don't expose for reading, so they are mirrored
// in atomics here.
var (
	invalidRequests atomic.Int64
	payloadTooLarge atomic.Int64
)

// IncError records a normalized error frame by code, feeding both the
// exposition counter and the readiness mirror.
func IncError(code string) {
	Errors.WithLabelValues(code).Inc()
	switch code {
	case "invalid_request":
		invalidRequests.Add(1)
	case "payload_too_large":
		payloadTooLarge.Add(1)
	}
}

// ProtocolErrorCount returns invalid_request + payload_too_large totals for
// the readiness error-rate check.
func ProtocolErrorCount() int64 {
	return invalidRequests.Load() + payloadTooLarge.Load()
}

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
