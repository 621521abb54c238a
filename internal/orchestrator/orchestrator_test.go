package orchestrator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraid/floraid-go/internal/circuit"
	"github.com/floraid/floraid-go/internal/conf"
	"github.com/floraid/floraid-go/internal/errors"
	"github.com/floraid/floraid-go/internal/knowledge"
	"github.com/floraid/floraid-go/internal/provider"
	"github.com/floraid/floraid-go/internal/quota"
	"github.com/floraid/floraid-go/internal/resultcache"
)

// fakeAdapter is a scriptable provider adapter.
type fakeAdapter struct {
	id          string
	suggestions []provider.Suggestion
	health      *provider.HealthAssessment
	identifyErr error
	healthErr   error
	delay       time.Duration
	calls       atomic.Int32
	healthCalls atomic.Int32
}

func (f *fakeAdapter) ID() string         { return f.id }
func (f *fakeAdapter) APIVersion() string { return "v-test" }

func (f *fakeAdapter) Identify(ctx context.Context, _ *provider.Request) ([]provider.Suggestion, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if f.identifyErr != nil {
		return nil, f.identifyErr
	}
	out := make([]provider.Suggestion, len(f.suggestions))
	copy(out, f.suggestions)
	for i := range out {
		out[i].Source = f.id
	}
	return out, nil
}

func (f *fakeAdapter) AssessHealth(_ context.Context, _ *provider.Request) (*provider.HealthAssessment, error) {
	f.healthCalls.Add(1)
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return f.health, nil
}

// memStore is an in-memory knowledge.Store.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*knowledge.LocalEntry
	trust   int
	nextID  uint
}

func newMemStore(trust int) *memStore {
	return &memStore{entries: map[string]*knowledge.LocalEntry{}, trust: trust}
}

func (m *memStore) Open() error  { return nil }
func (m *memStore) Close() error { return nil }

func (m *memStore) key(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func notFound(name string) error {
	return errors.Newf("no knowledge entry for %q", name).
		Category(errors.CategoryNotFound).
		Component("knowledge").
		Build()
}

func (m *memStore) FindTrusted(_ context.Context, name string) (*knowledge.LocalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[m.key(name)]
	if !ok || (!entry.ExpertReviewed && entry.IdentificationCount < m.trust) {
		return nil, notFound(name)
	}
	cp := *entry
	return &cp, nil
}

func (m *memStore) FindAny(_ context.Context, name string) (*knowledge.LocalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[m.key(name)]
	if !ok {
		return nil, notFound(name)
	}
	cp := *entry
	return &cp, nil
}

func (m *memStore) Upsert(_ context.Context, params *knowledge.UpsertParams) (*knowledge.LocalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(params.CanonicalName)
	entry, ok := m.entries[key]
	if !ok {
		m.nextID++
		entry = &knowledge.LocalEntry{
			ID:               m.nextID,
			CanonicalName:    params.CanonicalName,
			Aliases:          knowledge.JoinAliases(params.Aliases),
			EntryType:        params.EntryType,
			AutoStored:       true,
			ProviderOfOrigin: params.Provider,
		}
		m.entries[key] = entry
	}
	entry.IdentificationCount++
	if params.Confidence > entry.Confidence {
		entry.Confidence = params.Confidence
	}
	cp := *entry
	return &cp, nil
}

func (m *memStore) SearchByText(_ context.Context, query string, limit int) ([]knowledge.LocalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	var out []knowledge.LocalEntry
	for _, entry := range m.entries {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(entry.CanonicalName), q) ||
			strings.Contains(strings.ToLower(entry.Aliases), q) {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (m *memStore) TopIdentified(_ context.Context, limit int) ([]knowledge.LocalEntry, error) {
	return m.SearchByText(context.Background(), "", limit)
}

func (m *memStore) get(name string) *knowledge.LocalEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[m.key(name)]; ok {
		cp := *entry
		return &cp
	}
	return nil
}

// harness bundles an orchestrator with the collaborators tests inspect.
type harness struct {
	orch     *Orchestrator
	quota    *quota.Tracker
	circuits *circuit.Registry
	store    *memStore
}

func newHarness(t *testing.T, limits quota.Limits, adapters ...provider.Adapter) *harness {
	t.Helper()

	if limits == nil {
		limits = quota.Limits{}
	}
	tracker := quota.NewTracker(quota.NewCacheCounterStore(), limits, nil, nil)
	circuits := circuit.NewRegistry(circuit.DefaultConfig(), nil, nil)
	store := newMemStore(5)

	timeouts := make(map[string]time.Duration, len(adapters))
	for _, a := range adapters {
		timeouts[a.ID()] = time.Second
	}

	orch := New(&Config{
		Adapters:  adapters,
		Timeouts:  timeouts,
		Cache:     resultcache.New(time.Hour, nil),
		Quota:     tracker,
		Circuits:  circuits,
		Store:     store,
		AutoStore: NewAutoStore(store, conf.DefaultAutoStoreThreshold, nil),
	})

	return &harness{orch: orch, quota: tracker, circuits: circuits, store: store}
}

func timeoutErr(id string) error {
	return errors.Newf("identify request failed: context deadline exceeded").
		Category(errors.CategoryTimeout).
		Component(id).
		Context("request_sent", true).
		Build()
}

func connErr(id string) error {
	return errors.Newf("identify request failed: connection refused").
		Category(errors.CategoryNetwork).
		Component(id).
		Context("request_sent", false).
		Build()
}

func TestIdentifyRequiresImage(t *testing.T) {
	h := newHarness(t, nil, &fakeAdapter{id: "plantnet"})

	_, err := h.orch.Identify(context.Background(), &Request{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = h.orch.Identify(context.Background(), nil)
	require.Error(t, err)
}

func TestIdentifyMergesDisagreeingProviders(t *testing.T) {
	primary := &fakeAdapter{id: "plantnet", suggestions: []provider.Suggestion{
		{ScientificName: "Monstera deliciosa", Confidence: 0.9},
	}}
	secondary := &fakeAdapter{id: "plantid", suggestions: []provider.Suggestion{
		{ScientificName: "Monstera deliciosa", Confidence: 0.7},
		{ScientificName: "Ficus elastica", Confidence: 0.3},
	}}
	h := newHarness(t, nil, primary, secondary)

	result, err := h.orch.Identify(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)
	require.Len(t, result.Suggestions, 2)

	first := result.Suggestions[0]
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, "Monstera deliciosa", first.ScientificName)
	assert.InDelta(t, 0.9, first.Confidence, 1e-9, "primary confidence is authoritative")
	require.NotNil(t, first.SecondaryScore)
	assert.InDelta(t, 0.7, *first.SecondaryScore, 1e-9, "secondary score kept alongside, not blended")
	assert.Equal(t, []string{"plantnet", "plantid"}, first.Sources)

	second := result.Suggestions[1]
	assert.Equal(t, 2, second.Rank)
	assert.Equal(t, "Ficus elastica", second.ScientificName)
	assert.InDelta(t, 0.3, second.Confidence, 1e-9)
	assert.Equal(t, []string{"plantid"}, second.Sources)
	assert.Nil(t, second.SecondaryScore)

	assert.False(t, result.Insufficient)
	assert.Equal(t, []string{"plantnet", "plantid"}, result.Sources)
}

func TestIdentifyOneProviderTimesOut(t *testing.T) {
	slow := &fakeAdapter{id: "plantnet", identifyErr: timeoutErr("plantnet")}
	fast := &fakeAdapter{id: "plantid", suggestions: []provider.Suggestion{
		{ScientificName: "Sansevieria trifasciata", CommonNames: []string{"Snake Plant"}, Confidence: 0.95},
	}}
	h := newHarness(t, nil, slow, fast)

	result, err := h.orch.Identify(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)

	require.Len(t, result.Suggestions, 1)
	assert.Equal(t, "Sansevieria trifasciata", result.Suggestions[0].ScientificName)
	assert.Equal(t, 1, result.Suggestions[0].Rank)

	assert.Equal(t, 1, h.circuits.Get("plantnet").ConsecutiveFailures(),
		"the timeout counts against the failing provider's breaker")
	assert.Equal(t, circuit.StateClosed, h.circuits.Get("plantnet").State())
	assert.Zero(t, h.circuits.Get("plantid").ConsecutiveFailures())
}

func TestIdentifyCacheReplaySkipsQuota(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet", suggestions: []provider.Suggestion{
		{ScientificName: "Monstera deliciosa", Confidence: 0.9},
	}}
	limits := quota.Limits{"plantnet": {{Window: quota.WindowHour, Max: 100}}}
	h := newHarness(t, limits, adapter)
	req := func() *Request { return &Request{Image: []byte("same-image")} }

	first, err := h.orch.Identify(context.Background(), req())
	require.NoError(t, err)
	usageAfterFirst := h.quota.Usage("plantnet")[quota.WindowHour]
	assert.Equal(t, int64(1), usageAfterFirst)

	second, err := h.orch.Identify(context.Background(), req())
	require.NoError(t, err)

	assert.Equal(t, int32(1), adapter.calls.Load(), "second request must be served from cache")
	assert.Equal(t, usageAfterFirst, h.quota.Usage("plantnet")[quota.WindowHour],
		"a cache hit consumes no quota")
	assert.Equal(t, first.Suggestions, second.Suggestions)

	// Auto-storage still ran for the replay: counts reflect observations.
	entry := h.store.get("Monstera deliciosa")
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.IdentificationCount)
}

func TestIdentifyQuotaDeniedStillReturnsResult(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet", suggestions: []provider.Suggestion{
		{ScientificName: "Monstera deliciosa", Confidence: 0.9},
	}}
	limits := quota.Limits{"plantnet": {{Window: quota.WindowHour, Max: 1}}}
	h := newHarness(t, limits, adapter)

	_, err := h.orch.Identify(context.Background(), &Request{Image: []byte("image-a")})
	require.NoError(t, err)

	// Quota exhausted; a different image cannot be served from cache.
	result, err := h.orch.Identify(context.Background(), &Request{Image: []byte("image-b")})
	require.NoError(t, err, "quota exhaustion is a skip, never an error")
	assert.True(t, result.Insufficient)
	assert.Empty(t, result.Suggestions)
	assert.Equal(t, int32(1), adapter.calls.Load())
}

func TestIdentifyCircuitOpenSkipsProvider(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet", suggestions: []provider.Suggestion{
		{ScientificName: "Monstera deliciosa", Confidence: 0.9},
	}}
	h := newHarness(t, nil, adapter)

	breaker := h.circuits.Get("plantnet")
	for range circuit.DefaultConfig().FailureThreshold {
		breaker.RecordFailure()
	}
	require.Equal(t, circuit.StateOpen, breaker.State())

	result, err := h.orch.Identify(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)
	assert.True(t, result.Insufficient)
	assert.Zero(t, adapter.calls.Load(), "no network call is attempted while the breaker is open")
}

func TestIdentifyConnectionErrorDoesNotConsumeQuota(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet", identifyErr: connErr("plantnet")}
	limits := quota.Limits{"plantnet": {{Window: quota.WindowHour, Max: 10}}}
	h := newHarness(t, limits, adapter)

	_, err := h.orch.Identify(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)

	assert.Zero(t, h.quota.Usage("plantnet")[quota.WindowHour],
		"a request that never reached the network consumes no quota")
	assert.Equal(t, 1, h.circuits.Get("plantnet").ConsecutiveFailures())
}

func TestIdentifyTimeoutConsumesQuota(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet", identifyErr: timeoutErr("plantnet")}
	limits := quota.Limits{"plantnet": {{Window: quota.WindowHour, Max: 10}}}
	h := newHarness(t, limits, adapter)

	_, err := h.orch.Identify(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)

	assert.Equal(t, int64(1), h.quota.Usage("plantnet")[quota.WindowHour],
		"quota reflects provider usage, not success")
}

func TestIdentifyLocalTrustedShortCircuit(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet", suggestions: []provider.Suggestion{
		{ScientificName: "Monstera deliciosa", Confidence: 0.9},
	}}
	h := newHarness(t, nil, adapter)

	for range 5 {
		_, err := h.store.Upsert(context.Background(), &knowledge.UpsertParams{
			CanonicalName: "Monstera deliciosa",
			Confidence:    0.9,
		})
		require.NoError(t, err)
	}

	result, err := h.orch.Identify(context.Background(), &Request{
		Image:       []byte("img"),
		Description: "Monstera deliciosa",
	})
	require.NoError(t, err)

	assert.True(t, result.FromLocal)
	assert.Zero(t, adapter.calls.Load(), "a trusted local entry skips the paid call")
	require.Len(t, result.Suggestions, 1)
	assert.Equal(t, "Monstera deliciosa", result.Suggestions[0].ScientificName)
	assert.Equal(t, "local", result.Suggestions[0].Source)
}

func TestIdentifyLocalFallbackWhenAllProvidersFail(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet", identifyErr: timeoutErr("plantnet")}
	h := newHarness(t, nil, adapter)

	_, err := h.store.Upsert(context.Background(), &knowledge.UpsertParams{
		CanonicalName: "Ficus elastica",
		Aliases:       []string{"Rubber Plant"},
		Confidence:    0.7,
	})
	require.NoError(t, err)

	result, err := h.orch.Identify(context.Background(), &Request{
		Image:       []byte("img"),
		Description: "Ficus elastica",
	})
	require.NoError(t, err)

	assert.True(t, result.FromLocal)
	assert.False(t, result.Insufficient)
	require.Len(t, result.Suggestions, 1)
	assert.Equal(t, "Ficus elastica", result.Suggestions[0].ScientificName)
}

func TestIdentifyInsufficientIsNotAnError(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet", identifyErr: timeoutErr("plantnet")}
	h := newHarness(t, nil, adapter)

	result, err := h.orch.Identify(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)
	assert.True(t, result.Insufficient)
	assert.Empty(t, result.Suggestions)
}

func TestIdentifyAutoStoresConfidentResult(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet", suggestions: []provider.Suggestion{
		{ScientificName: "Monstera deliciosa", Confidence: 0.6},
	}}
	h := newHarness(t, nil, adapter)

	_, err := h.orch.Identify(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)

	entry := h.store.get("Monstera deliciosa")
	require.NotNil(t, entry)
	assert.True(t, entry.AutoStored)
	assert.Equal(t, 1, entry.IdentificationCount)
	assert.Equal(t, "plantnet", entry.ProviderOfOrigin)
}

func TestIdentifySkipsAutoStoreBelowThreshold(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet", suggestions: []provider.Suggestion{
		{ScientificName: "Monstera deliciosa", Confidence: 0.4},
	}}
	h := newHarness(t, nil, adapter)

	result, err := h.orch.Identify(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)
	assert.Len(t, result.Suggestions, 1)
	assert.Nil(t, h.store.get("Monstera deliciosa"))
}

func TestDiagnoseIncludesHealth(t *testing.T) {
	adapter := &fakeAdapter{
		id: "plantid",
		suggestions: []provider.Suggestion{
			{ScientificName: "Monstera deliciosa", Confidence: 0.8},
		},
		health: &provider.HealthAssessment{
			IsHealthy:   false,
			Probability: 0.2,
			Diseases: []provider.Suggestion{
				{Source: "plantid", ScientificName: "Powdery mildew", Confidence: 0.74},
			},
		},
	}
	limits := quota.Limits{"plantid": {{Window: quota.WindowDay, Max: 100}}}
	h := newHarness(t, limits, adapter)

	result, err := h.orch.Diagnose(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)

	require.NotNil(t, result.Health)
	assert.False(t, result.Health.IsHealthy)
	require.Len(t, result.Health.Diseases, 1)
	assert.Equal(t, int32(1), adapter.healthCalls.Load())

	// The health assessment is a second billable call.
	assert.Equal(t, int64(2), h.quota.Usage("plantid")[quota.WindowDay])

	// The disease was promoted alongside the species.
	disease := h.store.get("Powdery mildew")
	require.NotNil(t, disease)
	assert.Equal(t, knowledge.EntryTypeDisease, disease.EntryType)
}

func TestIdentifyZeroSuggestionsIsNotAFailure(t *testing.T) {
	adapter := &fakeAdapter{id: "plantnet"}
	h := newHarness(t, nil, adapter)

	result, err := h.orch.Identify(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)
	assert.True(t, result.Insufficient)
	assert.Zero(t, h.circuits.Get("plantnet").ConsecutiveFailures(),
		"an empty answer is a valid outcome, not a provider failure")
}

func TestMergeDeterministicRegardlessOfCompletionOrder(t *testing.T) {
	primary := &fakeAdapter{id: "plantnet", delay: 50 * time.Millisecond, suggestions: []provider.Suggestion{
		{ScientificName: "Monstera deliciosa", Confidence: 0.9},
	}}
	secondary := &fakeAdapter{id: "plantid", suggestions: []provider.Suggestion{
		{ScientificName: "Monstera deliciosa", Confidence: 0.7},
	}}
	h := newHarness(t, nil, primary, secondary)

	result, err := h.orch.Identify(context.Background(), &Request{Image: []byte("img")})
	require.NoError(t, err)

	// The secondary provider finished first, but the primary's confidence
	// still wins the merge.
	require.Len(t, result.Suggestions, 1)
	assert.InDelta(t, 0.9, result.Suggestions[0].Confidence, 1e-9)
	require.NotNil(t, result.Suggestions[0].SecondaryScore)
	assert.InDelta(t, 0.7, *result.Suggestions[0].SecondaryScore, 1e-9)
}
