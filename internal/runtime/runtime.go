// Package runtime assembles the identification engine from configuration:
// event bus, metrics, stores, provider adapters and the orchestrator.
package runtime

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/floraid/floraid-go/internal/circuit"
	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/errors"
	"github.com/floraid/floraid-go/internal/events"
	"github.com/floraid/floraid-go/internal/knowledge"
	"github.com/floraid/floraid-go/internal/logging"
	"github.com/floraid/floraid-go/internal/observability"
	"github.com/floraid/floraid-go/internal/orchestrator"
	"github.com/floraid/floraid-go/internal/progress"
	"github.com/floraid/floraid-go/internal/provider"
	"github.com/floraid/floraid-go/internal/provider/plantid"
	"github.com/floraid/floraid-go/internal/provider/plantnet"
	"github.com/floraid/floraid-go/internal/quota"
	"github.com/floraid/floraid-go/internal/resultcache"
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("runtime")
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil)).With("service", "runtime")
	}
}

// Engine bundles the running components of one engine instance.
type Engine struct {
	Settings     *conf.Settings
	Bus          *events.EventBus
	Metrics      *observability.Metrics
	Store        knowledge.Store
	Quota        *quota.Tracker
	Circuits     *circuit.Registry
	Orchestrator *orchestrator.Orchestrator

	mqttSink *progress.MQTTSink
	endpoint *observability.Endpoint
}

// Build wires the engine from the loaded settings. The returned engine must
// be shut down with Shutdown.
func Build(ctx context.Context, settings *conf.Settings) (*Engine, error) {
	bus, err := events.Initialize(nil)
	if err != nil {
		return nil, err
	}
	events.InitializeErrorReporting(bus)

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}

	store, err := knowledge.New(settings, m.Knowledge)
	if err != nil {
		return nil, err
	}
	if err := store.Open(); err != nil {
		return nil, err
	}

	engine := &Engine{
		Settings: settings,
		Bus:      bus,
		Metrics:  m,
		Store:    store,
	}

	adapters, timeouts := buildAdapters(settings, m)
	if len(adapters) == 0 {
		_ = store.Close()
		return nil, errors.Newf("no identification providers enabled").
			Category(errors.CategoryConfiguration).
			Component("runtime").
			Build()
	}

	tracker := quota.NewTracker(quota.NewCacheCounterStore(), quotaLimits(settings), bus, m.Quota)
	circuits := circuit.NewRegistry(circuit.Config{
		FailureThreshold: settings.Circuit.FailureThreshold,
		ResetTimeout:     settings.Circuit.ResetTimeout,
		SuccessThreshold: settings.Circuit.SuccessThreshold,
	}, bus, m.Circuit)
	engine.Quota = tracker
	engine.Circuits = circuits

	engine.Orchestrator = orchestrator.New(&orchestrator.Config{
		Adapters:    adapters,
		Timeouts:    timeouts,
		Cache:       resultcache.New(settings.Cache.TTL, m.Cache),
		Quota:       tracker,
		Circuits:    circuits,
		Store:       store,
		Emitter:     progress.NewEmitter(bus),
		Metrics:     m.Orchestrator,
		AutoStore:   orchestrator.NewAutoStore(store, settings.Knowledge.AutoStoreThreshold, m.Knowledge),
		NegativeTTL: settings.Cache.NegativeTTL,
	})

	if settings.Progress.MQTT.Enabled {
		if err := engine.startMQTT(ctx, settings); err != nil {
			// The sink is best-effort telemetry; a broker outage must not
			// keep identifications from running.
			logger.Warn("MQTT progress sink unavailable", "error", err)
		}
	}

	if settings.Metrics.Enabled {
		engine.endpoint = observability.NewEndpoint(settings.Metrics.Listen, m)
		engine.endpoint.Start()
	}

	return engine, nil
}

func (e *Engine) startMQTT(ctx context.Context, settings *conf.Settings) error {
	sink := progress.NewMQTTSink(settings.Progress.MQTT)

	policy := orchestrator.DefaultRetryPolicy()
	policy.MaxAttempts = 3
	if err := policy.Do(ctx, func() error { return sink.Connect(ctx) }); err != nil {
		return err
	}

	if err := e.Bus.RegisterConsumer(sink); err != nil {
		sink.Disconnect()
		return err
	}
	e.mqttSink = sink
	return nil
}

// Shutdown stops the engine components in reverse dependency order.
func (e *Engine) Shutdown(ctx context.Context) {
	if e.endpoint != nil {
		_ = e.endpoint.Shutdown(ctx)
	}
	if e.Bus != nil {
		_ = e.Bus.Shutdown(5 * time.Second)
	}
	if e.mqttSink != nil {
		e.mqttSink.Disconnect()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// buildAdapters creates the enabled provider adapters in priority order.
func buildAdapters(settings *conf.Settings, m *observability.Metrics) ([]provider.Adapter, map[string]time.Duration) {
	var adapters []provider.Adapter
	timeouts := make(map[string]time.Duration)

	for _, id := range settings.ActiveProviders() {
		ps, err := settings.ProviderByID(id)
		if err != nil {
			continue
		}
		// The adapter applies its own default to a zero-configured timeout;
		// the orchestrator's budget must match the adapter's, not the raw
		// settings value.
		switch id {
		case conf.ProviderPlantNet:
			client := plantnet.New(*ps, m.Provider)
			adapters = append(adapters, client)
			timeouts[id] = client.Timeout()
		case conf.ProviderPlantID:
			client := plantid.New(*ps, m.Provider)
			adapters = append(adapters, client)
			timeouts[id] = client.Timeout()
		}
	}
	return adapters, timeouts
}

// quotaLimits translates the per-provider quota settings into tracker limits.
func quotaLimits(settings *conf.Settings) quota.Limits {
	limits := quota.Limits{}
	for _, id := range settings.ActiveProviders() {
		ps, err := settings.ProviderByID(id)
		if err != nil {
			continue
		}
		var windows []quota.Limit
		if ps.Quota.Hourly > 0 {
			windows = append(windows, quota.Limit{Window: quota.WindowHour, Max: ps.Quota.Hourly})
		}
		if ps.Quota.Daily > 0 {
			windows = append(windows, quota.Limit{Window: quota.WindowDay, Max: ps.Quota.Daily})
		}
		if ps.Quota.Monthly > 0 {
			windows = append(windows, quota.Limit{Window: quota.WindowMonth, Max: ps.Quota.Monthly})
		}
		if len(windows) > 0 {
			limits[id] = windows
		}
	}
	return limits
}
