// Package circuit implements a per-provider circuit breaker so one provider's
// outage fast-fails instead of consuming timeout budget on every request.
package circuit

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/floraid/floraid-go/internal/errors"
	"github.com/floraid/floraid-go/internal/events"
	"github.com/floraid/floraid-go/internal/logging"
	"github.com/floraid/floraid-go/internal/observability/metrics"
)

// Package-level logger specific to circuit breaking
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "circuit.log")
	serviceLevelVar.Set(slog.LevelInfo)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "circuit", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize circuit file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "circuit")
		closeLogger = func() error { return nil }
	}
}

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before allowing a trial call.
	ResetTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes that
	// close the breaker again.
	SuccessThreshold int
}

// DefaultConfig returns breaker defaults matching the provider contracts.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     60 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker is a three-state circuit breaker for one service. All transitions
// are driven by call outcomes; each outcome causes at most one transition.
type Breaker struct {
	service string
	cfg     Config
	bus     *events.EventBus
	metrics *metrics.CircuitMetrics
	clock   func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	// halfOpenTrials counts admitted half-open calls whose outcome has not
	// been recorded yet; it caps the trial budget.
	halfOpenTrials int
	openedAt       time.Time
}

// NewBreaker creates a breaker for one service. The bus and metrics may be nil.
func NewBreaker(service string, cfg Config, bus *events.EventBus, m *metrics.CircuitMetrics) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	return &Breaker{
		service: service,
		cfg:     cfg,
		bus:     bus,
		metrics: m,
		clock:   time.Now,
		state:   StateClosed,
	}
}

// SetClock overrides the time source, for tests.
func (b *Breaker) SetClock(clock func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Allow reports whether a call may proceed. In the open state it returns an
// error carrying the estimated retry-after; once the reset timeout has elapsed
// the next call transitions the breaker to half-open and is allowed through.
// Half-open admits at most SuccessThreshold trial calls at a time; further
// calls are rejected until those outcomes arrive.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		elapsed := b.clock().Sub(b.openedAt)
		if elapsed >= b.cfg.ResetTimeout {
			b.transitionLocked(StateHalfOpen)
			b.halfOpenTrials++
			return nil
		}

		retryAfter := (b.cfg.ResetTimeout - elapsed).Round(time.Second)
		b.publishLocked("circuit-blocked", map[string]any{
			"service":             b.service,
			"failures":            b.consecutiveFailures,
			"retry_after_seconds": int(retryAfter.Seconds()),
		})
		if b.metrics != nil {
			b.metrics.BlockedCalls.WithLabelValues(b.service).Inc()
		}
		return errors.Newf("circuit open for %s, retry in %s", b.service, retryAfter).
			Category(errors.CategoryCircuitOpen).
			Component("circuit").
			Context("service", b.service).
			Context("retry_after_seconds", int(retryAfter.Seconds())).
			Build()

	case StateHalfOpen:
		if b.halfOpenTrials >= b.cfg.SuccessThreshold {
			b.publishLocked("circuit-blocked", map[string]any{
				"service":  b.service,
				"failures": b.consecutiveFailures,
				"reason":   "trial-budget",
			})
			if b.metrics != nil {
				b.metrics.BlockedCalls.WithLabelValues(b.service).Inc()
			}
			return errors.Newf("circuit half-open for %s, trial budget in use", b.service).
				Category(errors.CategoryCircuitOpen).
				Component("circuit").
				Context("service", b.service).
				Build()
		}
		b.halfOpenTrials++
		return nil

	default:
		return errors.Newf("unknown circuit state %q for %s", b.state, b.service).
			Category(errors.CategoryState).
			Component("circuit").
			Build()
	}
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0

	case StateHalfOpen:
		if b.halfOpenTrials > 0 {
			b.halfOpenTrials--
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.consecutiveFailures = 0
			b.transitionLocked(StateClosed)
		}

	case StateOpen:
		// A success while open means the outcome of a call dispatched before
		// the breaker opened; it does not close the breaker.
	}
}

// RecordFailure records a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}

	case StateHalfOpen:
		// Any half-open failure reopens immediately.
		b.consecutiveFailures++
		b.transitionLocked(StateOpen)

	case StateOpen:
		b.consecutiveFailures++
	}
}

// transitionLocked performs a state transition. Callers hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	switch to {
	case StateOpen:
		b.openedAt = b.clock()
		b.halfOpenTrials = 0
	case StateHalfOpen:
		b.halfOpenSuccesses = 0
		b.halfOpenTrials = 0
	case StateClosed:
		b.halfOpenSuccesses = 0
		b.halfOpenTrials = 0
	}

	logger.Info("circuit state transition",
		"service", b.service,
		"from", from,
		"to", to,
		"consecutive_failures", b.consecutiveFailures)

	b.publishLocked("circuit-transition", map[string]any{
		"service":  b.service,
		"from":     string(from),
		"to":       string(to),
		"failures": b.consecutiveFailures,
	})

	if b.metrics != nil {
		b.metrics.Transitions.WithLabelValues(b.service, string(to)).Inc()
		b.metrics.State.WithLabelValues(b.service).Set(stateValue(to))
	}
}

func (b *Breaker) publishLocked(category string, context map[string]any) {
	if b.bus == nil {
		return
	}
	b.bus.TryPublish(events.NewDiagnosticEvent("circuit", category,
		fmt.Sprintf("%s for %s", category, b.service), context))
}

func stateValue(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}

// Close releases the package's logging resources.
func Close() {
	if closeLogger != nil {
		_ = closeLogger()
	}
}
