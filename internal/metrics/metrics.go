package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klinikcare",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klinikcare",
			Name:      "transitions_total",
			Help:      "Lifecycle transition attempts by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	notifyDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "klinikcare",
			Name:      "notify_deliveries_total",
			Help:      "Notification delivery attempts by result.",
		},
		[]string{"result"},
	)
)

// Transition outcomes recorded by IncTransition.
const (
	OutcomeSuccess  = "success"
	OutcomeNoop     = "noop"
	OutcomeIllegal  = "illegal_transition"
	OutcomeGuard    = "guard_rejected"
	OutcomeConflict = "conflict"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid_state"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, notifyDeliveries)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncTransition records one transition attempt outcome.
func IncTransition(kind, outcome string) {
	transitions.WithLabelValues(kind, outcome).Inc()
}

// IncNotify records one notification delivery result.
func IncNotify(result string) {
	notifyDeliveries.WithLabelValues(result).Inc()
}
