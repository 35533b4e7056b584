// Package modelcatalog tracks which models are known for each provider:
// a hardcoded, curated seed list merged with model ids discovered at
// runtime from a provider's models-list endpoint.
package modelcatalog

import "sort"

// Status is the stability of a model.
type Status string

const (
	StatusStable  Status = "stable"
	StatusPreview Status = "preview"
	StatusUnknown Status = "unknown"
)

// Source is where a catalog entry originated.
type Source string

const (
	// SourceDocs entries are curated by hand and always considered
	// available; the remote API is used to discover additional models,
	// not to gate known ones.
	SourceDocs Source = "docs"
	SourceAPI  Source = "api"
)

// Entry is a single model in the catalog.
type Entry struct {
	ID                  string
	Provider            string
	RecommendedForCoding bool
	Status              Status
	Source              Source
	Available           bool
}

// SeedModels returns the hardcoded, curated catalog for a provider.
func SeedModels(provider string) []Entry {
	switch provider {
	case "anthropic":
		return []Entry{
			{ID: "claude-sonnet-4-6", Provider: provider, RecommendedForCoding: true, Status: StatusStable, Source: SourceDocs, Available: true},
			{ID: "claude-opus-4-6", Provider: provider, RecommendedForCoding: true, Status: StatusStable, Source: SourceDocs, Available: true},
			{ID: "claude-haiku-4-5", Provider: provider, RecommendedForCoding: false, Status: StatusStable, Source: SourceDocs, Available: true},
		}
	case "responses":
		return []Entry{
			{ID: "gpt-5.3-codex", Provider: provider, RecommendedForCoding: true, Status: StatusStable, Source: SourceDocs, Available: true},
			{ID: "codex-mini-latest", Provider: provider, RecommendedForCoding: true, Status: StatusStable, Source: SourceDocs, Available: true},
			{ID: "o4-mini", Provider: provider, RecommendedForCoding: false, Status: StatusStable, Source: SourceDocs, Available: true},
			{ID: "gpt-4.1", Provider: provider, RecommendedForCoding: false, Status: StatusStable, Source: SourceDocs, Available: true},
		}
	default:
		return nil
	}
}

// MergeSeedWithRemote merges the curated seed catalog with model ids
// discovered from a provider's models-list endpoint.
//
// Docs entries keep their curated recommendation flag and stay
// available: the remote API is used to discover additional models, not
// to gate known ones. A remote id absent from the seed is added as an
// api-sourced entry with available=true and recommended_for_coding=false.
// The result is deduplicated by id over seed ∪ remote and sorted by id.
func MergeSeedWithRemote(seed []Entry, remoteIDs []string) []Entry {
	defaultProvider := ""
	if len(seed) > 0 {
		defaultProvider = seed[0].Provider
	}

	byID := make(map[string]Entry, len(seed)+len(remoteIDs))
	for _, entry := range seed {
		byID[entry.ID] = entry
	}

	for _, remoteID := range remoteIDs {
		if _, ok := byID[remoteID]; ok {
			continue
		}
		byID[remoteID] = Entry{
			ID:                  remoteID,
			Provider:            defaultProvider,
			RecommendedForCoding: false,
			Status:              StatusUnknown,
			Source:              SourceAPI,
			Available:           true,
		}
	}

	for id, entry := range byID {
		if entry.Source == SourceDocs || entry.Source == SourceAPI {
			entry.Available = true
			byID[id] = entry
		}
	}

	merged := make([]Entry, 0, len(byID))
	for _, entry := range byID {
		merged = append(merged, entry)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}
