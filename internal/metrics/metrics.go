package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	inboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotline",
			Name:      "inbound_messages_total",
			Help:      "Inbound SMS messages by processing result.",
		},
		[]string{"result"},
	)

	bookingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotline",
			Name:      "booking_operations_total",
			Help:      "Booking engine operations by kind and result.",
		},
		[]string{"op", "result"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotline",
			Name:      "conversation_transitions_total",
			Help:      "Conversation state transitions by target state.",
		},
		[]string{"to_state"},
	)

	conversationResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotline",
			Name:      "conversation_resets_total",
			Help:      "Conversations reset to idle by the expiry sweep.",
		},
	)

	outboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotline",
			Name:      "outbound_messages_total",
			Help:      "Outbound delivery attempts by final status.",
		},
		[]string{"status"},
	)

	classifierFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotline",
			Name:      "classifier_fallbacks_total",
			Help:      "Turns handled by the rule-based classifier because the NLU service failed.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotline",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			inboundMessages,
			bookingOps,
			stateTransitions,
			conversationResets,
			outboundMessages,
			classifierFallbacks,
			httpRequests,
		)
	})
}

// IncInbound increments the inbound counter for a processing result
// (handled, duplicate, rate_limited, opted_out, error).
func IncInbound(result string) {
	inboundMessages.WithLabelValues(result).Inc()
}

// IncBooking increments the booking operation counter.
func IncBooking(op, result string) {
	bookingOps.WithLabelValues(op, result).Inc()
}

// IncTransition counts a conversation transition into a state.
func IncTransition(toState string) {
	stateTransitions.WithLabelValues(toState).Inc()
}

// AddResets counts conversations swept back to idle.
func AddResets(n int) {
	conversationResets.Add(float64(n))
}

// IncOutbound counts an outbound delivery attempt outcome.
func IncOutbound(status string) {
	outboundMessages.WithLabelValues(status).Inc()
}

// IncClassifierFallback counts a turn served by the rule-based classifier.
func IncClassifierFallback() {
	classifierFallbacks.Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
