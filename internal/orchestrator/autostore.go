package orchestrator

import (
	"context"

	"github.com/floraid/floraid-go/internal/knowledge"
	"github.com/floraid/floraid-go/internal/observability/metrics"
	"github.com/floraid/floraid-go/internal/provider"
)

// AutoStore promotes sufficiently confident suggestions into the local
// knowledge store. Over time this shrinks the paid-API dependency for
// popular species, because trusted entries short-circuit provider calls.
type AutoStore struct {
	store     knowledge.Store
	threshold float64
	metrics   *metrics.KnowledgeMetrics
}

// NewAutoStore creates the auto-storage policy. A confidence below
// threshold never creates or updates an entry.
func NewAutoStore(store knowledge.Store, threshold float64, knowledgeMetrics *metrics.KnowledgeMetrics) *AutoStore {
	return &AutoStore{
		store:     store,
		threshold: threshold,
		metrics:   knowledgeMetrics,
	}
}

// MaybeStore records the qualifying parts of a merged result: the
// top-ranked species suggestion and, when a health assessment ran, the
// top disease. Each canonical name is stored at most once per result.
// Runs on every successful identification, including cache replays, so
// identification counts keep reflecting real observations. Storage errors
// are logged and swallowed; persistence is an optimization, never a
// reason to fail the request.
func (a *AutoStore) MaybeStore(ctx context.Context, result *MergedResult) []knowledge.LocalEntry {
	if a == nil || a.store == nil || result == nil || result.FromLocal {
		return nil
	}

	var stored []knowledge.LocalEntry
	seen := make(map[string]struct{})

	if top := topSuggestion(result.Suggestions); top != nil && top.Confidence >= a.threshold {
		if entry := a.upsert(ctx, top, knowledge.EntryTypeSpecies, seen); entry != nil {
			stored = append(stored, *entry)
		}
	}

	if result.Health != nil {
		if disease := topSuggestion(result.Health.Diseases); disease != nil && disease.Confidence >= a.threshold {
			if entry := a.upsert(ctx, disease, knowledge.EntryTypeDisease, seen); entry != nil {
				stored = append(stored, *entry)
			}
		}
	}

	return stored
}

func (a *AutoStore) upsert(ctx context.Context, s *provider.Suggestion, entryType string, seen map[string]struct{}) *knowledge.LocalEntry {
	key := provider.NormalizeName(s.ScientificName)
	if key == "" {
		return nil
	}
	if _, dup := seen[key]; dup {
		return nil
	}
	seen[key] = struct{}{}

	entry, err := a.store.Upsert(ctx, &knowledge.UpsertParams{
		CanonicalName: s.ScientificName,
		Aliases:       s.CommonNames,
		EntryType:     entryType,
		Confidence:    s.Confidence,
		Provider:      s.Source,
	})
	if err != nil {
		logger.Warn("auto-store upsert failed",
			"name", s.ScientificName, "error", err)
		return nil
	}

	if a.metrics != nil {
		a.metrics.AutoStores.Inc()
	}
	return entry
}

func topSuggestion(suggestions []provider.Suggestion) *provider.Suggestion {
	if len(suggestions) == 0 {
		return nil
	}
	top := &suggestions[0]
	for i := range suggestions {
		if suggestions[i].Rank == 1 {
			return &suggestions[i]
		}
		if suggestions[i].Confidence > top.Confidence {
			top = &suggestions[i]
		}
	}
	return top
}
