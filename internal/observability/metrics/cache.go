package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics contains Prometheus metrics for the content-addressed result
// cache.
type CacheMetrics struct {
	Hits         *prometheus.CounterVec
	Misses       *prometheus.CounterVec
	NegativeHits *prometheus.CounterVec
	Stores       *prometheus.CounterVec
	registry     *prometheus.Registry
}

// NewCacheMetrics creates a new instance of CacheMetrics.
func NewCacheMetrics(registry *prometheus.Registry) (*CacheMetrics, error) {
	m := &CacheMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize Cache metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register Cache metrics: %w", err)
	}
	return m, nil
}

func (m *CacheMetrics) initMetrics() error {
	m.Hits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "result_cache_hits_total",
		Help: "Total number of result cache hits, by provider.",
	}, []string{"service"})

	m.Misses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "result_cache_misses_total",
		Help: "Total number of result cache misses, by provider.",
	}, []string{"service"})

	m.NegativeHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "result_cache_negative_hits_total",
		Help: "Total number of negative cache hits, by provider.",
	}, []string{"service"})

	m.Stores = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "result_cache_stores_total",
		Help: "Total number of results written to the cache, by provider.",
	}, []string{"service"})

	return nil
}

// Describe implements prometheus.Collector.
func (m *CacheMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Hits.Describe(ch)
	m.Misses.Describe(ch)
	m.NegativeHits.Describe(ch)
	m.Stores.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *CacheMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Hits.Collect(ch)
	m.Misses.Collect(ch)
	m.NegativeHits.Collect(ch)
	m.Stores.Collect(ch)
}
