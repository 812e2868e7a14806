package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ridequeue"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	queueOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_operations_total",
			Help:      "Queue operations by name and result.",
		},
		[]string{"operation", "result"},
	)

	concurrencyRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_retries_total",
			Help:      "Operations retried after a version conflict.",
		},
		[]string{"operation"},
	)

	activeEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_entries",
			Help:      "Entries currently waiting or in progress.",
		},
	)

	mirrorTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_tasks_total",
			Help:      "Sheets mirror tasks by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, queueOperations, concurrencyRetries, activeEntries, mirrorTasks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveOperation records the outcome of a queue operation.
func ObserveOperation(operation, result string) {
	queueOperations.WithLabelValues(operation, result).Inc()
}

func IncRetry(operation string) {
	concurrencyRetries.WithLabelValues(operation).Inc()
}

func SetActiveEntries(n int) {
	activeEntries.Set(float64(n))
}

func IncMirrorTask(result string) {
	mirrorTasks.WithLabelValues(result).Inc()
}
