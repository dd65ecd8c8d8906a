package artifact

import (
	"time"
)

// Freshness source tags identify where a node's last-updated instant came
// from. They are part of the API payload, so the spellings are stable.
const (
	FreshnessFromSources   = "sources-artifact"
	FreshnessFromCatalog   = "catalog-stats"
	FreshnessFromManifest  = "manifest-meta"
	FreshnessFromCreatedAt = "manifest-created-at-legacy"
	FreshnessUnknown       = "unknown"
)

// legacyCreatedAtCeiling bounds the plausible "seconds ago" range for the
// legacy created_at field: 50 years. Values at or beyond this are epoch
// timestamps or garbage, not ages, and are ignored.
const legacyCreatedAtCeiling = float64(50 * 365 * 24 * 3600)

// catalogTimeStats are the catalog statistics consulted for freshness,
// in priority order.
var catalogTimeStats = []string{"max_loaded_at", "last_modified", "updated_at"}

// manifestTimeMetaKeys are the manifest meta keys consulted for freshness,
// in priority order.
var manifestTimeMetaKeys = []string{"last_updated_at", "max_loaded_at", "modified_at", "updated_at"}

// ResolveLastUpdated finds a node's last-updated instant from the first
// available source, in priority order:
//
//  1. the source-freshness artifact (max_loaded_at, then snapshotted_at),
//  2. catalog statistics (max_loaded_at, last_modified, updated_at) or the
//     catalog entry's metadata updated_at,
//  3. manifest meta (last_updated_at, max_loaded_at, modified_at, updated_at),
//  4. the legacy seconds-ago interpretation of the manifest's created_at.
//
// The returned tag names the source used; ok is false when no source yields
// a usable instant (tag FreshnessUnknown).
func ResolveLastUpdated(
	node *Node,
	entry *CatalogEntry,
	sources FreshnessMap,
	now time.Time,
) (time.Time, string, bool) {
	if node == nil {
		return time.Time{}, FreshnessUnknown, false
	}

	if t, ok := sources.LastLoaded(node.UniqueID); ok {
		return t, FreshnessFromSources, true
	}

	if entry != nil {
		for _, key := range catalogTimeStats {
			if t, ok := StatTime(entry.Stats, key); ok {
				return t, FreshnessFromCatalog, true
			}
		}

		if t, ok := ParseArtifactTime(entry.Metadata.UpdatedAt); ok {
			return t, FreshnessFromCatalog, true
		}
	}

	for _, key := range manifestTimeMetaKeys {
		if node.Meta == nil {
			break
		}

		if raw, present := node.Meta[key]; present {
			if t, ok := asTime(raw); ok {
				return t, FreshnessFromManifest, true
			}
		}
	}

	if t, ok := LegacyCreatedAt(node, now); ok {
		return t, FreshnessFromCreatedAt, true
	}

	return time.Time{}, FreshnessUnknown, false
}

// LegacyCreatedAt interprets the manifest's numeric created_at field as
// "seconds before now". This is a compatibility wart kept for artifacts
// produced by an older generator: the value is only honored when it falls
// strictly inside (0, 50 years), which excludes epoch timestamps and
// nonsense. Removing this interpretation requires re-baselining any
// artifact that still emits it.
func LegacyCreatedAt(node *Node, now time.Time) (time.Time, bool) {
	if node.CreatedAt == nil {
		return time.Time{}, false
	}

	age := *node.CreatedAt
	if age <= 0 || age >= legacyCreatedAtCeiling {
		return time.Time{}, false
	}

	return now.Add(-time.Duration(age * float64(time.Second))).UTC(), true
}
