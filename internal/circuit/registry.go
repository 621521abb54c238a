package circuit

import (
	"sync"

	"github.com/floraid/floraid-go/internal/events"
	"github.com/floraid/floraid-go/internal/observability/metrics"
)

// Registry hands out the singleton breaker for each service. Breakers are
// created lazily with the registry's shared configuration; one provider's
// breaker never influences another's.
type Registry struct {
	cfg     Config
	bus     *events.EventBus
	metrics *metrics.CircuitMetrics

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry. The bus and metrics may be nil.
func NewRegistry(cfg Config, bus *events.EventBus, m *metrics.CircuitMetrics) *Registry {
	return &Registry{
		cfg:      cfg,
		bus:      bus,
		metrics:  m,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the service, creating it on first use.
func (r *Registry) Get(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[service]; ok {
		return b
	}
	b := NewBreaker(service, r.cfg, r.bus, r.metrics)
	r.breakers[service] = b
	return b
}

// States returns a snapshot of every known breaker's state, for diagnostics.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]State, len(r.breakers))
	for service, b := range r.breakers {
		states[service] = b.State()
	}
	return states
}
