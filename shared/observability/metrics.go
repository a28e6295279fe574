package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionit",
		Name:      "messages_saved_total",
		Help:      "Messages persisted, by pipeline side.",
	}, []string{"side"})

	MessageSaveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionit",
		Name:      "message_save_failures_total",
		Help:      "Failed message saves, by pipeline side.",
	}, []string{"side"})

	MessagesCleared = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionit",
		Name:      "conversation_clears_total",
		Help:      "Conversation clear operations, by outcome.",
	}, []string{"side", "outcome"})

	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionit",
		Name:      "cache_invalidations_total",
		Help:      "Cache entries marked stale.",
	}, []string{"cache"})

	CacheFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionit",
		Name:      "cache_fetches_total",
		Help:      "Cache reads that went to the source.",
	}, []string{"cache"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "actionit",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
	}, []string{"breaker"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionit",
		Name:      "notifications_total",
		Help:      "User-visible notifications emitted, by variant.",
	}, []string{"variant"})
)

// RecordBreakerState exports the state a breaker moved to
func RecordBreakerState(name, state string) {
	v := 0.0
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	BreakerState.WithLabelValues(name).Set(v)
}

// MetricsHandler serves the default Prometheus registry
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
