package prometheus

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

const (
	DirectionPrompt   = "prompt"
	DirectionResponse = "response"

	EndpointChatCompletions = "chat_completions"
	EndpointModels          = "models"
)

var (
	// Latency buckets in milliseconds
	latencyBuckets = []float64{
		5, 10, 25,
		50, 100, 250,
		500, 1000, 2500,
		5000, 10000, 30000, 120000,
	}

	ProxyRequestTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardproxy_requests_total",
			Help: "Total number of proxied requests",
		},
		[]string{"endpoint", "status", "stream"},
	)

	ProxyRequestLatency = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardproxy_latency_ms",
			Help:    "End to end request latency in milliseconds",
			Buckets: latencyBuckets,
		},
		[]string{"endpoint", "stream"},
	)

	BackendLatency = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guardproxy_backend_latency_ms",
			Help:    "Backend call latency in milliseconds",
			Buckets: latencyBuckets,
		},
		[]string{"endpoint", "stream"},
	)

	ScanOutcomeTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardproxy_scan_outcomes_total",
			Help: "Guardrail verdicts by scan direction",
		},
		[]string{"direction", "outcome"},
	)

	ScanFailureTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardproxy_scan_failures_total",
			Help: "Guardrail calls that failed open, by error kind",
		},
		[]string{"direction", "kind"},
	)
)

var initOnce sync.Once

// Initialize registers the process collector and makes the proxy registry
// the default gatherer. Safe to call more than once.
func Initialize() {
	initOnce.Do(func() {
		registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
		prometheus.DefaultRegisterer = registry
		prometheus.DefaultGatherer = registry
	})
}

func Gatherer() prometheus.Gatherer {
	return registry
}

func ObserveRequest(endpoint string, status int, stream bool, started time.Time) {
	streamLabel := strconv.FormatBool(stream)
	ProxyRequestTotal.WithLabelValues(endpoint, strconv.Itoa(status), streamLabel).Inc()
	ProxyRequestLatency.WithLabelValues(endpoint, streamLabel).Observe(sinceMillis(started))
}

func ObserveBackend(endpoint string, stream bool, started time.Time) {
	BackendLatency.WithLabelValues(endpoint, strconv.FormatBool(stream)).Observe(sinceMillis(started))
}

func ObserveScan(direction, outcome string) {
	ScanOutcomeTotal.WithLabelValues(direction, outcome).Inc()
}

func ObserveScanFailure(direction, kind string) {
	ScanFailureTotal.WithLabelValues(direction, kind).Inc()
}

func sinceMillis(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
