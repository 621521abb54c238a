// Package quota enforces per-provider call budgets over hourly, daily and
// monthly windows so the orchestrator can pre-empt calls that would exceed a
// provider's contract.
package quota

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/floraid/floraid-go/internal/events"
	"github.com/floraid/floraid-go/internal/logging"
	"github.com/floraid/floraid-go/internal/observability/metrics"
)

// Package-level logger specific to quota accounting
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "quota.log")
	serviceLevelVar.Set(slog.LevelInfo)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "quota", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize quota file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "quota")
		closeLogger = func() error { return nil }
	}
}

// Window identifies a quota accounting bucket.
type Window string

const (
	WindowHour  Window = "hour"
	WindowDay   Window = "day"
	WindowMonth Window = "month"
)

// warnFraction is the usage fraction at which a warning is emitted while
// calls are still permitted.
const warnFraction = 0.8

// Limit is one configured window limit for a service.
type Limit struct {
	Window Window
	Max    int
}

// Limits maps a service id to its configured window limits.
type Limits map[string][]Limit

// CounterStore abstracts the shared TTL-capable key-value store backing the
// counters. Implementations must provide atomic increments; the default is
// backed by go-cache, a shared deployment can swap in a networked store.
type CounterStore interface {
	// Ensure creates the counter at zero with the given TTL if it does not exist.
	Ensure(key string, ttl time.Duration) error

	// Increment atomically adds delta and returns the new value.
	Increment(key string, delta int64) (int64, error)

	// Get returns the current value and whether the counter exists.
	Get(key string) (int64, bool, error)
}

// Tracker implements quota accounting over a CounterStore.
//
// Failure policy: if the store is unavailable, the tracker fails open. Calls
// are allowed and a warning is logged, because under-counting is preferred to
// denying all users service during an infra outage.
type Tracker struct {
	store   CounterStore
	limits  Limits
	bus     *events.EventBus
	metrics *metrics.QuotaMetrics
	clock   func() time.Time
}

// NewTracker creates a quota tracker. The bus and metrics may be nil.
func NewTracker(store CounterStore, limits Limits, bus *events.EventBus, m *metrics.QuotaMetrics) *Tracker {
	return &Tracker{
		store:   store,
		limits:  limits,
		bus:     bus,
		metrics: m,
		clock:   time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (t *Tracker) SetClock(clock func() time.Time) {
	t.clock = clock
}

// CanCall reports whether a call to the service is currently within every
// configured window limit. It returns false only if at least one window has
// reached its limit. Unknown services have no limits and are always allowed.
//
// This is an advisory pre-check for skip decisions; it does not claim
// anything. Admission is Reserve, whose increment is the check.
func (t *Tracker) CanCall(service string) bool {
	limits, ok := t.limits[service]
	if !ok {
		return true
	}

	for _, limit := range limits {
		if limit.Max <= 0 {
			continue
		}

		count, exists, err := t.store.Get(t.counterKey(service, limit.Window))
		if err != nil {
			// Fail open: allow the call, make noise.
			t.failOpen(service, limit.Window, err)
			continue
		}
		if !exists {
			continue
		}

		if count >= int64(limit.Max) {
			logger.Warn("quota exhausted, denying call",
				"service", service,
				"window", limit.Window,
				"count", count,
				"limit", limit.Max)
			t.publish("quota-denied", service, limit.Window, count, limit.Max)
			if t.metrics != nil {
				t.metrics.Denials.WithLabelValues(service, string(limit.Window)).Inc()
			}
			return false
		}

		if float64(count) >= warnFraction*float64(limit.Max) {
			logger.Warn("quota usage above warning threshold",
				"service", service,
				"window", limit.Window,
				"count", count,
				"limit", limit.Max)
			t.publish("quota-warning", service, limit.Window, count, limit.Max)
			if t.metrics != nil {
				t.metrics.Warnings.WithLabelValues(service, string(limit.Window)).Inc()
			}
		}
	}

	return true
}

// Reserve atomically claims one unit of every configured window counter and
// reports whether the claim fits the limits. The increment itself is the
// admission check: a claim that pushes any window past its limit is rolled
// back and denied, so two concurrent callers can never both take the last
// unit. Reservation happens at dispatch, before the provider call; a call
// that never reached the network hands its unit back with Release, because
// quota reflects provider usage, not success.
func (t *Tracker) Reserve(service string) bool {
	limits, ok := t.limits[service]
	if !ok {
		return true
	}

	now := t.clock()
	claimed := make([]Limit, 0, len(limits))
	for _, limit := range limits {
		if limit.Max <= 0 {
			continue
		}

		key := t.counterKey(service, limit.Window)
		// First increment in a window pins the counter's expiry to the
		// window boundary.
		if err := t.store.Ensure(key, windowTTL(limit.Window, now)); err != nil {
			t.failOpen(service, limit.Window, err)
			continue
		}

		count, err := t.store.Increment(key, 1)
		if err != nil {
			t.failOpen(service, limit.Window, err)
			continue
		}

		if count > int64(limit.Max) {
			// Over budget: hand back this window's unit and every window
			// claimed before it, then deny.
			if _, decErr := t.store.Increment(key, -1); decErr != nil {
				t.failOpen(service, limit.Window, decErr)
			}
			t.releaseClaims(service, claimed)
			logger.Warn("quota exhausted, denying call",
				"service", service,
				"window", limit.Window,
				"count", count-1,
				"limit", limit.Max)
			t.publish("quota-denied", service, limit.Window, count-1, limit.Max)
			if t.metrics != nil {
				t.metrics.Denials.WithLabelValues(service, string(limit.Window)).Inc()
			}
			return false
		}

		claimed = append(claimed, limit)
		if t.metrics != nil {
			t.metrics.Calls.WithLabelValues(service, string(limit.Window)).Inc()
			t.metrics.Usage.WithLabelValues(service, string(limit.Window)).Set(float64(count))
		}

		if float64(count) >= warnFraction*float64(limit.Max) {
			logger.Warn("quota usage above warning threshold",
				"service", service,
				"window", limit.Window,
				"count", count,
				"limit", limit.Max)
			t.publish("quota-warning", service, limit.Window, count, limit.Max)
			if t.metrics != nil {
				t.metrics.Warnings.WithLabelValues(service, string(limit.Window)).Inc()
			}
		}

		logger.Debug("quota unit reserved",
			"service", service,
			"window", limit.Window,
			"count", count,
			"limit", limit.Max)
	}
	return true
}

// Release returns one previously reserved unit for every configured window.
// Used when the classified failure shows the request never reached the
// network.
func (t *Tracker) Release(service string) {
	limits, ok := t.limits[service]
	if !ok {
		return
	}
	t.releaseClaims(service, limits)
}

func (t *Tracker) releaseClaims(service string, limits []Limit) {
	for _, limit := range limits {
		if limit.Max <= 0 {
			continue
		}

		key := t.counterKey(service, limit.Window)
		count, err := t.store.Increment(key, -1)
		if err != nil {
			// The window rolled over since the reservation; nothing to
			// hand back.
			logger.Debug("quota release skipped",
				"service", service,
				"window", limit.Window,
				"error", err)
			continue
		}
		if count < 0 {
			_, _ = t.store.Increment(key, 1)
			count = 0
		}

		if t.metrics != nil {
			t.metrics.Usage.WithLabelValues(service, string(limit.Window)).Set(float64(count))
		}
		logger.Debug("quota unit released",
			"service", service,
			"window", limit.Window,
			"count", count)
	}
}

// Usage returns the current per-window counts for a service, for diagnostics.
func (t *Tracker) Usage(service string) map[Window]int64 {
	usage := make(map[Window]int64)
	for _, limit := range t.limits[service] {
		count, exists, err := t.store.Get(t.counterKey(service, limit.Window))
		if err != nil || !exists {
			count = 0
		}
		usage[limit.Window] = count
	}
	return usage
}

func (t *Tracker) counterKey(service string, window Window) string {
	return fmt.Sprintf("quota:%s:%s", service, window)
}

func (t *Tracker) failOpen(service string, window Window, err error) {
	logger.Warn("quota store unavailable, failing open",
		"service", service,
		"window", window,
		"error", err)
	t.publish("quota-store-unavailable", service, window, -1, -1)
}

func (t *Tracker) publish(category, service string, window Window, count int64, limit int) {
	if t.bus == nil {
		return
	}
	t.bus.TryPublish(events.NewDiagnosticEvent("quota", category,
		fmt.Sprintf("%s for %s/%s", category, service, window),
		map[string]any{
			"service": service,
			"window":  string(window),
			"count":   count,
			"limit":   limit,
		}))
}

// windowTTL returns the remaining duration of the window containing now.
// Hourly windows are a fixed 3600s; daily and monthly windows expire at the
// next UTC boundary.
func windowTTL(window Window, now time.Time) time.Duration {
	switch window {
	case WindowHour:
		return time.Hour
	case WindowDay:
		next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		return next.Sub(now.UTC())
	case WindowMonth:
		utc := now.UTC()
		next := time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		return next.Sub(utc)
	default:
		return time.Hour
	}
}

// Close releases the tracker's logging resources.
func Close() {
	if closeLogger != nil {
		_ = closeLogger()
	}
}
