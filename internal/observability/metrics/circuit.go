package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CircuitMetrics contains Prometheus metrics for the per-provider circuit
// breakers.
type CircuitMetrics struct {
	BlockedCalls *prometheus.CounterVec
	Transitions  *prometheus.CounterVec
	State        *prometheus.GaugeVec
	registry     *prometheus.Registry
}

// NewCircuitMetrics creates a new instance of CircuitMetrics.
func NewCircuitMetrics(registry *prometheus.Registry) (*CircuitMetrics, error) {
	m := &CircuitMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize Circuit metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register Circuit metrics: %w", err)
	}
	return m, nil
}

func (m *CircuitMetrics) initMetrics() error {
	m.BlockedCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_blocked_calls_total",
		Help: "Total number of calls rejected while a breaker was open.",
	}, []string{"service"})

	m.Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_transitions_total",
		Help: "Total number of breaker state transitions, by target state.",
	}, []string{"service", "state"})

	m.State = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_state",
		Help: "Current breaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"service"})

	return nil
}

// Describe implements prometheus.Collector.
func (m *CircuitMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.BlockedCalls.Describe(ch)
	m.Transitions.Describe(ch)
	m.State.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *CircuitMetrics) Collect(ch chan<- prometheus.Metric) {
	m.BlockedCalls.Collect(ch)
	m.Transitions.Collect(ch)
	m.State.Collect(ch)
}
