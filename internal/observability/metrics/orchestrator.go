// Package metrics provides custom Prometheus metrics for the identification
// engine's components.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// OrchestratorMetrics contains all Prometheus metrics related to the fan-out
// orchestrator.
type OrchestratorMetrics struct {
	Requests          prometheus.Counter
	InsufficientData  prometheus.Counter
	LocalShortCircuit prometheus.Counter
	FallbackHits      prometheus.Counter
	RequestDuration   prometheus.Histogram
	MergedSuggestions prometheus.Histogram
	registry          *prometheus.Registry
}

// NewOrchestratorMetrics creates a new instance of OrchestratorMetrics.
// It requires a Prometheus registry to register the metrics.
func NewOrchestratorMetrics(registry *prometheus.Registry) (*OrchestratorMetrics, error) {
	m := &OrchestratorMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize Orchestrator metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register Orchestrator metrics: %w", err)
	}
	return m, nil
}

func (m *OrchestratorMetrics) initMetrics() error {
	m.Requests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identify_requests_total",
		Help: "Total number of identification requests.",
	})

	m.InsufficientData = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identify_insufficient_total",
		Help: "Total number of requests that exhausted the fallback chain.",
	})

	m.LocalShortCircuit = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identify_local_short_circuit_total",
		Help: "Total number of requests answered from the trusted local store without a paid call.",
	})

	m.FallbackHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identify_local_fallback_total",
		Help: "Total number of requests answered by the local fallback after all providers were unavailable.",
	})

	m.RequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "identify_request_duration_seconds",
		Help:    "End-to-end duration of identification requests in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	m.MergedSuggestions = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "identify_merged_suggestions",
		Help:    "Number of suggestions in the merged result.",
		Buckets: prometheus.LinearBuckets(0, 2, 10),
	})

	return nil
}

// Describe implements prometheus.Collector.
func (m *OrchestratorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Requests.Describe(ch)
	m.InsufficientData.Describe(ch)
	m.LocalShortCircuit.Describe(ch)
	m.FallbackHits.Describe(ch)
	m.RequestDuration.Describe(ch)
	m.MergedSuggestions.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *OrchestratorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Requests.Collect(ch)
	m.InsufficientData.Collect(ch)
	m.LocalShortCircuit.Collect(ch)
	m.FallbackHits.Collect(ch)
	m.RequestDuration.Collect(ch)
	m.MergedSuggestions.Collect(ch)
}
