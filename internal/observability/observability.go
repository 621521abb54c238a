// Package observability wires the Prometheus registry and the metrics
// structs used across the engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/floraid/floraid-go/internal/errors"
	"github.com/floraid/floraid-go/internal/observability/metrics"
)

// Metrics bundles the per-component metric collections behind a single
// registry so callers can pass just the piece they need.
type Metrics struct {
	Orchestrator *metrics.OrchestratorMetrics
	Provider     *metrics.ProviderMetrics
	Quota        *metrics.QuotaMetrics
	Circuit      *metrics.CircuitMetrics
	Cache        *metrics.CacheMetrics
	Knowledge    *metrics.KnowledgeMetrics

	registry *prometheus.Registry
}

// NewMetrics creates a registry and registers every component collection
// on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{registry: registry}

	var err error
	if m.Orchestrator, err = metrics.NewOrchestratorMetrics(registry); err != nil {
		return nil, wrapInitErr(err, "orchestrator")
	}
	if m.Provider, err = metrics.NewProviderMetrics(registry); err != nil {
		return nil, wrapInitErr(err, "provider")
	}
	if m.Quota, err = metrics.NewQuotaMetrics(registry); err != nil {
		return nil, wrapInitErr(err, "quota")
	}
	if m.Circuit, err = metrics.NewCircuitMetrics(registry); err != nil {
		return nil, wrapInitErr(err, "circuit")
	}
	if m.Cache, err = metrics.NewCacheMetrics(registry); err != nil {
		return nil, wrapInitErr(err, "cache")
	}
	if m.Knowledge, err = metrics.NewKnowledgeMetrics(registry); err != nil {
		return nil, wrapInitErr(err, "knowledge")
	}

	return m, nil
}

// Registry returns the underlying Prometheus registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func wrapInitErr(err error, component string) error {
	return errors.New(err).
		Component("observability").
		Category(errors.CategoryConfiguration).
		Context("metric_component", component).
		Build()
}
