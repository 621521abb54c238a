package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// KnowledgeMetrics contains Prometheus metrics for the local knowledge store.
type KnowledgeMetrics struct {
	Lookups    *prometheus.CounterVec
	AutoStores prometheus.Counter
	Upserts    *prometheus.CounterVec
	registry   *prometheus.Registry
}

// NewKnowledgeMetrics creates a new instance of KnowledgeMetrics.
func NewKnowledgeMetrics(registry *prometheus.Registry) (*KnowledgeMetrics, error) {
	m := &KnowledgeMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize Knowledge metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register Knowledge metrics: %w", err)
	}
	return m, nil
}

func (m *KnowledgeMetrics) initMetrics() error {
	m.Lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_lookups_total",
		Help: "Total number of local knowledge store lookups, by outcome.",
	}, []string{"outcome"})

	m.AutoStores = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "knowledge_auto_stores_total",
		Help: "Total number of entries automatically stored from provider results.",
	})

	m.Upserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_upserts_total",
		Help: "Total number of knowledge store upserts, by entry type.",
	}, []string{"entry_type"})

	return nil
}

// Describe implements prometheus.Collector.
func (m *KnowledgeMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Lookups.Describe(ch)
	m.AutoStores.Describe(ch)
	m.Upserts.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *KnowledgeMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Lookups.Collect(ch)
	m.AutoStores.Collect(ch)
	m.Upserts.Collect(ch)
}
