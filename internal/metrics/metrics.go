package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

var (
	// Accepted operations by type (deposit|withdraw).
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total accepted ledger operations.",
		},
		[]string{"type"},
	)

	// Rejected operations by type and reason.
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Total rejected ledger operations.",
		},
		[]string{"type", "reason"},
	)

	ResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Total ledger resets.",
		},
	)

	// HTTP
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	initOnce sync.Once
)

// Handler serves the default registry on /metrics.
var Handler = promhttp.Handler

// Init registers the collectors with the default registry.
// Subsequent calls are no-ops.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(OperationsTotal)
		prometheus.MustRegister(RejectionsTotal)
		prometheus.MustRegister(ResetsTotal)
		prometheus.MustRegister(RequestLatency)
	})
}
