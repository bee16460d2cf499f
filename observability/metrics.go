package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics records the activity of the five lending operations as they
// pass through the gateway.
type LendingMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// Metrics returns the lazily-initialised lending metrics registry.
func Metrics() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "lending",
				Name:      "requests_total",
				Help:      "Total lending operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "lending",
				Name:      "errors_total",
				Help:      "Total lending operation failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendvault",
				Subsystem: "lending",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for lending operation handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			lendingRegistry.requests,
			lendingRegistry.errors,
			lendingRegistry.latency,
		)
	})
	return lendingRegistry
}

// ObserveRequest records one completed operation with its outcome label.
func (m *LendingMetrics) ObserveRequest(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveError records a failed operation with a coarse reason label.
func (m *LendingMetrics) ObserveError(operation, reason string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(operation, reason).Inc()
}
