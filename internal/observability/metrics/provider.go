package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderMetrics contains Prometheus metrics for the external recognition
// provider adapters.
type ProviderMetrics struct {
	Requests        *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	registry        *prometheus.Registry
}

// NewProviderMetrics creates a new instance of ProviderMetrics.
func NewProviderMetrics(registry *prometheus.Registry) (*ProviderMetrics, error) {
	m := &ProviderMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize Provider metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register Provider metrics: %w", err)
	}
	return m, nil
}

func (m *ProviderMetrics) initMetrics() error {
	m.Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Total number of requests sent to recognition providers, by status.",
	}, []string{"service", "operation", "status"})

	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_errors_total",
		Help: "Total number of provider call failures, by error category.",
	}, []string{"service", "operation", "category"})

	m.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_duration_seconds",
		Help:    "Duration of provider API calls in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 9),
	}, []string{"service", "operation"})

	return nil
}

// Describe implements prometheus.Collector.
func (m *ProviderMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Requests.Describe(ch)
	m.Errors.Describe(ch)
	m.RequestDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *ProviderMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Requests.Collect(ch)
	m.Errors.Collect(ch)
	m.RequestDuration.Collect(ch)
}
