// Package provider defines the adapter boundary between the orchestration
// engine and external plant recognition services. Each adapter translates
// its provider's proprietary schema into the common Suggestion shape; the
// orchestrator never sees provider-specific payloads.
package provider

import (
	"context"
	"strings"

	"github.com/floraid/floraid-go/internal/errors"
)

// Suggestion is one candidate identification produced by a provider call.
type Suggestion struct {
	// Source is the provider ID that produced this suggestion.
	Source string `json:"source"`
	// ScientificName is the canonical latin name.
	ScientificName string `json:"scientific_name"`
	// CommonNames holds vernacular names, best match first.
	CommonNames []string `json:"common_names,omitempty"`
	// Confidence is the authoritative score in [0,1].
	Confidence float64 `json:"confidence"`
	// SecondaryScore carries a corroborating provider's score alongside the
	// authoritative one. It is never blended into Confidence.
	SecondaryScore *float64 `json:"secondary_score,omitempty"`
	// Sources lists every provider that contributed to this suggestion
	// after merging.
	Sources []string `json:"contributing_sources,omitempty"`
	// Raw preserves the provider's original payload for auditability.
	Raw map[string]any `json:"raw,omitempty"`
	// Rank is assigned after merging, 1..N.
	Rank int `json:"rank"`
}

// HealthAssessment is the disease/health sub-result from a diagnosis-capable
// provider.
type HealthAssessment struct {
	IsHealthy   bool         `json:"is_healthy"`
	Probability float64      `json:"probability"`
	Diseases    []Suggestion `json:"diseases,omitempty"`
}

// Request carries the inputs for one identification call. Image is read
// fully into memory before a request enters the engine so it can be reused
// across concurrent provider calls.
type Request struct {
	Image       []byte
	Organs      []string
	Latitude    *float64
	Longitude   *float64
	Description string
}

// Adapter is the capability every recognition provider exposes.
type Adapter interface {
	// ID returns the stable provider identifier used for quota, circuit
	// and cache keying.
	ID() string
	// APIVersion tags cache keys so a provider version bump invalidates
	// stale entries.
	APIVersion() string
	// Identify submits the image and returns normalized suggestions.
	// Zero suggestions with a nil error is a valid outcome.
	Identify(ctx context.Context, req *Request) ([]Suggestion, error)
}

// HealthAssessor is implemented by providers that can also diagnose
// plant health.
type HealthAssessor interface {
	AssessHealth(ctx context.Context, req *Request) (*HealthAssessment, error)
}

// NormalizeName canonicalizes a scientific name for merge and storage
// keying: trimmed, single-spaced, lowercase.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// WasSent reports whether the failed call reached the network layer.
// Adapters mark their errors accordingly so quota reflects provider usage,
// not success.
func WasSent(err error) bool {
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		if sent, ok := enhanced.GetContext()["request_sent"].(bool); ok {
			return sent
		}
	}
	return false
}
