package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// QuotaMetrics contains Prometheus metrics for per-provider quota tracking.
type QuotaMetrics struct {
	Calls    *prometheus.CounterVec
	Denials  *prometheus.CounterVec
	Warnings *prometheus.CounterVec
	Usage    *prometheus.GaugeVec
	registry *prometheus.Registry
}

// NewQuotaMetrics creates a new instance of QuotaMetrics.
func NewQuotaMetrics(registry *prometheus.Registry) (*QuotaMetrics, error) {
	m := &QuotaMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize Quota metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register Quota metrics: %w", err)
	}
	return m, nil
}

func (m *QuotaMetrics) initMetrics() error {
	m.Calls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_calls_total",
		Help: "Total number of recorded provider calls, by provider and window.",
	}, []string{"service", "window"})

	m.Denials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_denials_total",
		Help: "Total number of calls denied because a quota window was exhausted.",
	}, []string{"service", "window"})

	m.Warnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_warnings_total",
		Help: "Total number of quota warning threshold crossings.",
	}, []string{"service", "window"})

	m.Usage = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quota_usage",
		Help: "Current call count within each active quota window.",
	}, []string{"service", "window"})

	return nil
}

// Describe implements prometheus.Collector.
func (m *QuotaMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Calls.Describe(ch)
	m.Denials.Describe(ch)
	m.Warnings.Describe(ch)
	m.Usage.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *QuotaMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Calls.Collect(ch)
	m.Denials.Collect(ch)
	m.Warnings.Collect(ch)
	m.Usage.Collect(ch)
}
