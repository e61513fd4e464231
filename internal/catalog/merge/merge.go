// Package merge reconciles all per-source views of one canonical identity
// into a single MergedServer using source and per-field priority rules.
package merge

import (
	"sort"
	"time"

	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

// sourcePriority is the fixed ordering used to seed scalar fields; lower is
// more trusted. Per-field overrides below take precedence over this order.
var sourcePriority = map[models.Source]int{
	models.SourceCommunity: 0,
	models.SourceGitHub:    1,
	models.SourceNPM:       2,
}

func priority(s models.Source) int {
	if p, ok := sourcePriority[s]; ok {
		return p
	}
	return len(sourcePriority)
}

// Group combines all records sharing canonicalID into one MergedServer.
// Merging the same record set in any input order produces an identical
// result: records are sorted by (priority, source, source id) before any
// field resolution.
func Group(canonicalID string, records []models.DiscoveredServer) models.MergedServer {
	sorted := make([]models.DiscoveredServer, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := priority(sorted[i].Source), priority(sorted[j].Source)
		if pi != pj {
			return pi < pj
		}
		if sorted[i].Source != sorted[j].Source {
			return sorted[i].Source < sorted[j].Source
		}
		return sorted[i].SourceID < sorted[j].SourceID
	})

	merged := models.MergedServer{
		CanonicalID: canonicalID,
		Conformance: models.ConformanceUnverified,
	}

	// Scalar defaults: first record, in priority order, that defines the field.
	for _, r := range sorted {
		if merged.DisplayName == "" {
			merged.DisplayName = r.DisplayName
		}
		if merged.Description == "" {
			merged.Description = r.Description
		}
		if merged.RepoOwner == "" {
			merged.RepoOwner = r.RepoOwner
		}
		if merged.RepoName == "" {
			merged.RepoName = r.RepoName
		}
		if merged.Version == "" {
			merged.Version = r.Version
		}
		if merged.PackageRegistry == "" {
			merged.PackageRegistry = r.PackageRegistry
		}
		if merged.PackageName == "" {
			merged.PackageName = r.PackageName
		}
		if merged.RunCommand == "" {
			merged.RunCommand = r.RunCommand
		}
		if merged.Stars == 0 {
			merged.Stars = r.Stars
		}
		if merged.Downloads == 0 {
			merged.Downloads = r.Downloads
		}
	}

	// Field overrides: popularity always trusts the code host; version and
	// package identity prefer the package index when it reports them.
	for _, r := range sorted {
		switch r.Source {
		case models.SourceGitHub:
			merged.Stars = r.Stars
		case models.SourceNPM:
			if r.Version != "" {
				merged.Version = r.Version
			}
			if r.PackageName != "" {
				merged.PackageName = r.PackageName
				merged.PackageRegistry = r.PackageRegistry
			}
			if r.Downloads != 0 {
				merged.Downloads = r.Downloads
			}
		}
	}

	merged.Sources = make([]models.SourceRecord, 0, len(sorted))
	var newest time.Time
	for _, r := range sorted {
		merged.Sources = append(merged.Sources, models.SourceRecord{
			Source:       r.Source,
			SourceID:     r.SourceID,
			RawPayload:   r.RawPayload,
			DiscoveredAt: r.DiscoveredAt,
		})
		if r.DiscoveredAt.After(newest) {
			newest = r.DiscoveredAt
		}
	}
	merged.UpdatedAt = newest

	return merged
}
