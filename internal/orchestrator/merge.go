package orchestrator

import (
	"sort"

	"github.com/floraid/floraid-go/internal/provider"
)

// mergeSuggestions combines per-provider suggestion lists into one ranked
// list. The provider order expresses priority: the first provider with
// results is authoritative, its confidence values are never overridden.
// Later providers corroborate matching names (their score is kept alongside
// as SecondaryScore) and append non-matching names as supplemental
// suggestions. The result is sorted by descending confidence with ranks
// reassigned 1..N, so merging is deterministic regardless of which provider
// answered first.
func mergeSuggestions(order []string, byProvider map[string][]provider.Suggestion) []provider.Suggestion {
	merged := make([]provider.Suggestion, 0)
	index := make(map[string]int) // normalized name -> position in merged

	for _, providerID := range order {
		for _, s := range byProvider[providerID] {
			name := provider.NormalizeName(s.ScientificName)
			if name == "" {
				continue
			}

			pos, exists := index[name]
			if !exists {
				s.Sources = []string{s.Source}
				index[name] = len(merged)
				merged = append(merged, s)
				continue
			}

			// A later provider corroborates an existing suggestion. Its
			// score is recorded alongside, never blended into the
			// authoritative confidence.
			existing := &merged[pos]
			score := s.Confidence
			if existing.SecondaryScore == nil {
				existing.SecondaryScore = &score
			}
			existing.Sources = appendUnique(existing.Sources, s.Source)
			existing.CommonNames = mergeCommonNames(existing.CommonNames, s.CommonNames)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func mergeCommonNames(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, n := range base {
		seen[provider.NormalizeName(n)] = struct{}{}
	}
	for _, n := range extra {
		key := provider.NormalizeName(n)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		base = append(base, n)
	}
	return base
}
