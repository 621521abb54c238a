// Package knowledge persists previously identified species and diseases so
// future lookups can be answered without a paid provider call.
package knowledge

import (
	"strings"
	"time"
)

// Entry types stored in the knowledge base.
const (
	EntryTypeSpecies = "species"
	EntryTypeDisease = "disease"
)

// LocalEntry is one persisted species or disease record. Confidence is a
// running maximum across observations and IdentificationCount a monotonic
// counter; the engine never deletes entries, curation is external.
type LocalEntry struct {
	ID                  uint   `gorm:"primaryKey"`
	CanonicalName       string `gorm:"uniqueIndex;size:255;not null"`
	Aliases             string `gorm:"size:1024"` // comma-separated vernacular names
	EntryType           string `gorm:"size:16;index;default:species"`
	Confidence          float64
	IdentificationCount int `gorm:"default:0"`
	AutoStored          bool
	ExpertReviewed      bool
	ProviderOfOrigin    string `gorm:"size:64"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AliasList splits the stored alias string into individual names.
func (e *LocalEntry) AliasList() []string {
	if e.Aliases == "" {
		return nil
	}
	parts := strings.Split(e.Aliases, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// JoinAliases builds the stored alias string from individual names,
// dropping empties and duplicates while preserving order.
func JoinAliases(aliases []string) string {
	seen := make(map[string]struct{}, len(aliases))
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		trimmed := strings.TrimSpace(a)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return strings.Join(out, ",")
}
