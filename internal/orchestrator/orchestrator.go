// Package orchestrator implements the identification fan-out: it decides
// which providers to call, calls them concurrently under per-provider
// timeouts, merges disagreeing answers into one ranked result and promotes
// confident results into the local knowledge store.
package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/floraid/floraid-go/internal/circuit"
	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/errors"
	"github.com/floraid/floraid-go/internal/events"
	"github.com/floraid/floraid-go/internal/knowledge"
	"github.com/floraid/floraid-go/internal/logging"
	"github.com/floraid/floraid-go/internal/observability/metrics"
	"github.com/floraid/floraid-go/internal/progress"
	"github.com/floraid/floraid-go/internal/provider"
	"github.com/floraid/floraid-go/internal/quota"
	"github.com/floraid/floraid-go/internal/resultcache"
)

var logger *slog.Logger

func init() {
	var err error
	logger, _, err = logging.NewFileLogger("logs/orchestrator.log", "orchestrator", slog.LevelInfo)
	if err != nil || logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil)).With("service", "orchestrator")
	}
}

// Request is one identification request. Image must be fully read into
// memory by the caller; the same byte slice is shared across concurrent
// provider calls.
type Request struct {
	ID            string
	Image         []byte
	Organs        []string
	Latitude      *float64
	Longitude     *float64
	Description   string
	IncludeHealth bool
}

// MergedResult is the single ranked answer for one request. Insufficient
// marks the normal "could not identify" outcome; it is never an error.
type MergedResult struct {
	RequestID    string                     `json:"request_id"`
	Suggestions  []provider.Suggestion      `json:"suggestions"`
	Health       *provider.HealthAssessment `json:"health,omitempty"`
	Sources      []string                   `json:"sources,omitempty"`
	FromLocal    bool                       `json:"from_local,omitempty"`
	Insufficient bool                       `json:"insufficient,omitempty"`
}

// Orchestrator coordinates providers, resilience state and the local
// knowledge store for identification requests.
type Orchestrator struct {
	adapters []provider.Adapter // priority order, primary first
	timeouts map[string]time.Duration

	cache    *resultcache.Cache
	quota    *quota.Tracker
	circuits *circuit.Registry
	store    knowledge.Store
	emitter  *progress.Emitter
	metrics  *metrics.OrchestratorMetrics

	autostore *AutoStore

	// negative memoizes recent local-lookup misses so repeated requests
	// with the same unknown description skip the database round trip.
	negative *gocache.Cache
}

// Config collects the orchestrator dependencies.
type Config struct {
	Adapters  []provider.Adapter
	Timeouts  map[string]time.Duration
	Cache     *resultcache.Cache
	Quota     *quota.Tracker
	Circuits  *circuit.Registry
	Store     knowledge.Store
	Emitter   *progress.Emitter
	Metrics   *metrics.OrchestratorMetrics
	AutoStore *AutoStore

	NegativeTTL time.Duration
}

// New creates an orchestrator. Cache, quota, circuits, store and adapters
// are required; the rest may be nil.
func New(cfg *Config) *Orchestrator {
	negativeTTL := cfg.NegativeTTL
	if negativeTTL == 0 {
		negativeTTL = conf.DefaultNegativeCacheTTL
	}
	return &Orchestrator{
		adapters:  cfg.Adapters,
		timeouts:  cfg.Timeouts,
		cache:     cfg.Cache,
		quota:     cfg.Quota,
		circuits:  cfg.Circuits,
		store:     cfg.Store,
		emitter:   cfg.Emitter,
		metrics:   cfg.Metrics,
		autostore: cfg.AutoStore,
		negative:  gocache.New(negativeTTL, 10*time.Minute),
	}
}

// providerOutcome is what one provider task delivers back to the join.
type providerOutcome struct {
	providerID string
	entry      *resultcache.Entry
	err        error
}

// Identify runs the full identification flow. The only hard error is a
// malformed request (no image); every degraded path yields a structured
// MergedResult instead.
func (o *Orchestrator) Identify(ctx context.Context, req *Request) (*MergedResult, error) {
	start := time.Now()

	if req == nil || len(req.Image) == 0 {
		return nil, errors.Newf("identification requires at least one image").
			Category(errors.CategoryValidation).
			Component("orchestrator").
			Build()
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if o.metrics != nil {
		o.metrics.Requests.Inc()
		defer func() {
			o.metrics.RequestDuration.Observe(time.Since(start).Seconds())
		}()
	}

	o.emitter.Emit(req.ID, events.StageReceived, events.StatusStarted, map[string]any{
		"image_bytes":    len(req.Image),
		"include_health": req.IncludeHealth,
	})

	// A trusted local answer costs nothing and skips providers entirely.
	if result := o.localShortCircuit(ctx, req); result != nil {
		o.finish(req.ID, result)
		return result, nil
	}

	contributions := o.gatherContributions(ctx, req)

	o.emitter.Emit(req.ID, events.StageMerging, events.StatusStarted, nil)
	result := o.mergeContributions(req, contributions)
	o.emitter.Emit(req.ID, events.StageMerging, events.StatusCompleted, map[string]any{
		"suggestions": len(result.Suggestions),
	})

	if len(result.Suggestions) == 0 {
		o.localFallback(ctx, req, result)
	} else if o.autostore != nil {
		o.emitter.Emit(req.ID, events.StageAutoStore, events.StatusStarted, nil)
		stored := o.autostore.MaybeStore(ctx, result)
		o.emitter.Emit(req.ID, events.StageAutoStore, events.StatusCompleted, map[string]any{
			"stored": len(stored),
		})
	}

	result.Insufficient = len(result.Suggestions) == 0
	if result.Insufficient && o.metrics != nil {
		o.metrics.InsufficientData.Inc()
	}

	o.finish(req.ID, result)
	return result, nil
}

// Diagnose runs an identification with the health assessment included.
func (o *Orchestrator) Diagnose(ctx context.Context, req *Request) (*MergedResult, error) {
	if req != nil {
		req.IncludeHealth = true
	}
	return o.Identify(ctx, req)
}

// localShortCircuit answers from the trusted local store when the request
// carries a free-text description naming something we have seen often
// enough. Returns nil when providers should be consulted.
func (o *Orchestrator) localShortCircuit(ctx context.Context, req *Request) *MergedResult {
	if o.store == nil || req.Description == "" || req.IncludeHealth {
		return nil
	}

	key := "trusted:" + provider.NormalizeName(req.Description)
	if _, missed := o.negative.Get(key); missed {
		return nil
	}

	o.emitter.Emit(req.ID, events.StageLocalLookup, events.StatusStarted, nil)
	entry, err := o.store.FindTrusted(ctx, req.Description)
	if err != nil {
		o.negative.SetDefault(key, struct{}{})
		o.emitter.Emit(req.ID, events.StageLocalLookup, events.StatusCompleted, map[string]any{
			"found": false,
		})
		return nil
	}

	o.emitter.Emit(req.ID, events.StageLocalLookup, events.StatusCompleted, map[string]any{
		"found": true,
		"name":  entry.CanonicalName,
	})
	if o.metrics != nil {
		o.metrics.LocalShortCircuit.Inc()
	}
	logger.Info("answered from trusted local entry",
		"request_id", req.ID, "name", entry.CanonicalName,
		"identifications", entry.IdentificationCount)

	return &MergedResult{
		RequestID:   req.ID,
		FromLocal:   true,
		Sources:     []string{"local"},
		Suggestions: suggestionsFromEntry(entry),
	}
}

// gatherContributions collects one cache or provider contribution per
// configured adapter. Ineligible providers (circuit open, quota exhausted)
// contribute nothing; that is a degraded outcome, not an error.
func (o *Orchestrator) gatherContributions(ctx context.Context, req *Request) map[string]*resultcache.Entry {
	contributions := make(map[string]*resultcache.Entry, len(o.adapters))
	outcomes := make(chan providerOutcome, len(o.adapters))
	dispatched := 0

	for _, adapter := range o.adapters {
		providerID := adapter.ID()
		key := o.cacheKey(adapter, req)

		if entry, hit := o.cache.Get(providerID, key); hit {
			o.emitter.Emit(req.ID, events.StageCacheLookup, events.StatusCompleted, map[string]any{
				"service": providerID,
				"hit":     true,
			})
			contributions[providerID] = entry
			continue
		}

		if !o.eligible(req.ID, providerID) {
			continue
		}

		dispatched++
		go o.callProvider(ctx, req, adapter, key, outcomes)
	}

	// Join all dispatched tasks. Each is bounded by its own timeout, so
	// this wait is bounded by the slowest provider's budget. If the caller
	// goes away the tasks still run to completion for quota, circuit and
	// cache bookkeeping; their results are simply discarded.
	for ; dispatched > 0; dispatched-- {
		select {
		case outcome := <-outcomes:
			if outcome.err == nil && outcome.entry != nil {
				contributions[outcome.providerID] = outcome.entry
			}
		case <-ctx.Done():
			logger.Debug("request cancelled while awaiting providers",
				"request_id", req.ID, "pending", dispatched)
			return contributions
		}
	}
	return contributions
}

// eligible applies the circuit and quota pre-checks for one provider.
func (o *Orchestrator) eligible(requestID, providerID string) bool {
	if err := o.circuits.Get(providerID).Allow(); err != nil {
		o.emitter.Emit(requestID, events.StageProviderCall, events.StatusSkipped, map[string]any{
			"service": providerID,
			"reason":  "circuit-open",
		})
		return false
	}

	if !o.quota.CanCall(providerID) {
		o.emitter.Emit(requestID, events.StageProviderCall, events.StatusSkipped, map[string]any{
			"service": providerID,
			"reason":  "quota-exhausted",
		})
		return false
	}
	return true
}

// callProvider runs one provider task. The task detaches from the caller's
// cancellation so an abandoned request cannot corrupt circuit or quota
// bookkeeping; the per-provider timeout still bounds it.
func (o *Orchestrator) callProvider(ctx context.Context, req *Request, adapter provider.Adapter, key string, outcomes chan<- providerOutcome) {
	providerID := adapter.ID()
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeoutFor(providerID))
	defer cancel()

	o.emitter.Emit(req.ID, events.StageProviderCall, events.StatusStarted, map[string]any{
		"service": providerID,
	})

	preq := &provider.Request{
		Image:       req.Image,
		Organs:      req.Organs,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Description: req.Description,
	}

	// Concurrent requests with the same image and parameters collapse into
	// one billable call; the bookkeeping inside the fill runs exactly once.
	entry, err := o.cache.Fetch(providerID, key, func() (*resultcache.Entry, error) {
		// The reservation is the admission check: claiming the unit before
		// the call closes the window in which two requests could both read
		// the same remaining budget and both proceed. A call that never
		// reaches the network hands its unit back in recordFailure.
		if !o.quota.Reserve(providerID) {
			return nil, errors.Newf("quota exhausted for %s", providerID).
				Category(errors.CategoryLimit).
				Component("orchestrator").
				Context("service", providerID).
				Build()
		}

		suggestions, err := adapter.Identify(callCtx, preq)
		if err != nil {
			o.recordFailure(req.ID, providerID, err)
			return nil, err
		}

		o.circuits.Get(providerID).RecordSuccess()

		entry := &resultcache.Entry{Suggestions: suggestions}
		if req.IncludeHealth {
			if assessor, ok := adapter.(provider.HealthAssessor); ok {
				entry.Health = o.assessHealth(callCtx, req, providerID, assessor, preq)
			}
		}
		return entry, nil
	})
	if err != nil {
		outcomes <- providerOutcome{providerID: providerID, err: err}
		return
	}

	o.emitter.Emit(req.ID, events.StageProviderCall, events.StatusCompleted, map[string]any{
		"service":     providerID,
		"suggestions": len(entry.Suggestions),
	})
	outcomes <- providerOutcome{providerID: providerID, entry: entry}
}

// assessHealth runs the disease diagnosis call. It is a separate billable
// request against the same provider, with its own circuit and quota
// bookkeeping.
func (o *Orchestrator) assessHealth(ctx context.Context, req *Request, providerID string, assessor provider.HealthAssessor, preq *provider.Request) *provider.HealthAssessment {
	if !o.quota.Reserve(providerID) {
		logger.Warn("skipping health assessment, quota exhausted",
			"request_id", req.ID, "service", providerID)
		return nil
	}

	assessment, err := assessor.AssessHealth(ctx, preq)
	if err != nil {
		o.recordFailure(req.ID, providerID, err)
		return nil
	}
	o.circuits.Get(providerID).RecordSuccess()
	return assessment
}

// recordFailure updates circuit and quota state for one failed call.
// Transport failures and timeouts count against the breaker; the quota unit
// reserved at dispatch is handed back only when the request never reached
// the network.
func (o *Orchestrator) recordFailure(requestID, providerID string, err error) {
	if isCircuitFailure(err) {
		o.circuits.Get(providerID).RecordFailure()
	}
	if !provider.WasSent(err) {
		o.quota.Release(providerID)
	}

	o.emitter.Emit(requestID, events.StageProviderCall, events.StatusFailed, map[string]any{
		"service": providerID,
		"error":   err.Error(),
	})
	logger.Warn("provider call failed",
		"request_id", requestID, "service", providerID, "error", err)
}

// isCircuitFailure reports whether the error indicates a degraded provider.
// Validation and cancellation problems are ours, not theirs.
func isCircuitFailure(err error) bool {
	return errors.IsCategory(err, errors.CategoryNetwork) ||
		errors.IsCategory(err, errors.CategoryTimeout) ||
		errors.IsCategory(err, errors.CategoryProviderResponse) ||
		errors.IsCategory(err, errors.CategoryLimit)
}

// mergeContributions builds the ranked result from all contributions.
func (o *Orchestrator) mergeContributions(req *Request, contributions map[string]*resultcache.Entry) *MergedResult {
	order := make([]string, 0, len(o.adapters))
	byProvider := make(map[string][]provider.Suggestion, len(contributions))
	result := &MergedResult{RequestID: req.ID}

	for _, adapter := range o.adapters {
		providerID := adapter.ID()
		entry, ok := contributions[providerID]
		if !ok {
			continue
		}
		order = append(order, providerID)
		byProvider[providerID] = entry.Suggestions
		result.Sources = append(result.Sources, providerID)
		if result.Health == nil && entry.Health != nil {
			result.Health = entry.Health
		}
	}

	result.Suggestions = mergeSuggestions(order, byProvider)
	if o.metrics != nil {
		o.metrics.MergedSuggestions.Observe(float64(len(result.Suggestions)))
	}
	return result
}

// localFallback is the last resort when cache and every provider
// contributed nothing: an untrusted local entry or a text search can still
// give the caller something actionable.
func (o *Orchestrator) localFallback(ctx context.Context, req *Request, result *MergedResult) {
	if o.store == nil || req.Description == "" {
		return
	}

	o.emitter.Emit(req.ID, events.StageFallback, events.StatusStarted, nil)

	if entry, err := o.store.FindAny(ctx, req.Description); err == nil {
		result.Suggestions = suggestionsFromEntry(entry)
		result.Sources = append(result.Sources, "local")
		result.FromLocal = true
	} else if entries, searchErr := o.store.SearchByText(ctx, req.Description, 5); searchErr == nil && len(entries) > 0 {
		for i := range entries {
			result.Suggestions = append(result.Suggestions, suggestionFromEntry(&entries[i], len(result.Suggestions)+1))
		}
		result.Sources = append(result.Sources, "local")
		result.FromLocal = true
	}

	if result.FromLocal {
		if o.metrics != nil {
			o.metrics.FallbackHits.Inc()
		}
		o.emitter.Emit(req.ID, events.StageFallback, events.StatusCompleted, map[string]any{
			"suggestions": len(result.Suggestions),
		})
		return
	}
	o.emitter.Emit(req.ID, events.StageFallback, events.StatusCompleted, map[string]any{
		"suggestions": 0,
	})
}

func (o *Orchestrator) finish(requestID string, result *MergedResult) {
	o.emitter.Emit(requestID, events.StageDone, events.StatusCompleted, map[string]any{
		"suggestions":  len(result.Suggestions),
		"insufficient": strconv.FormatBool(result.Insufficient),
		"from_local":   result.FromLocal,
	})
}

func (o *Orchestrator) cacheKey(adapter provider.Adapter, req *Request) string {
	params := map[string]string{}
	if len(req.Organs) > 0 {
		organs := ""
		for i, organ := range req.Organs {
			if i > 0 {
				organs += ","
			}
			organs += organ
		}
		params["organs"] = organs
	}
	if req.IncludeHealth {
		params["health"] = "true"
	}
	return resultcache.Key(adapter.ID(), adapter.APIVersion(), req.Image, params)
}

func (o *Orchestrator) timeoutFor(providerID string) time.Duration {
	if t, ok := o.timeouts[providerID]; ok && t > 0 {
		return t
	}
	return 30 * time.Second
}

func suggestionsFromEntry(entry *knowledge.LocalEntry) []provider.Suggestion {
	return []provider.Suggestion{suggestionFromEntry(entry, 1)}
}

func suggestionFromEntry(entry *knowledge.LocalEntry, rank int) provider.Suggestion {
	return provider.Suggestion{
		Source:         "local",
		ScientificName: entry.CanonicalName,
		CommonNames:    entry.AliasList(),
		Confidence:     entry.Confidence,
		Sources:        []string{"local"},
		Rank:           rank,
		Raw: map[string]any{
			"identification_count": entry.IdentificationCount,
			"expert_reviewed":      entry.ExpertReviewed,
			"auto_stored":          entry.AutoStored,
		},
	}
}
